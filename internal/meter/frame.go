// Package meter decodes SwitchBot meter advertisements and picks genuine
// meters out of a BLE scan.
package meter

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// PayloadLen is the only service data length the decoder accepts.
const PayloadLen = 16

var (
	// ErrPayloadLength is returned when the service data is not PayloadLen bytes.
	ErrPayloadLength = errors.New("meter: unexpected payload length")
	// ErrMalformedEncoding is returned when a hex payload cannot be decoded.
	ErrMalformedEncoding = errors.New("meter: malformed payload encoding")
)

// Scale is the temperature scale a meter reports in.
type Scale uint8

const (
	Celsius Scale = iota
	Fahrenheit
)

// String returns the unit letter, C or F.
func (s Scale) String() string {
	if s == Fahrenheit {
		return "F"
	}
	return "C"
}

// MarshalText encodes the scale as its unit letter.
func (s Scale) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reading is one decoded meter advertisement.
type Reading struct {
	Model       string    `json:"model"`
	Mode        string    `json:"mode"`
	Temperature float64   `json:"temperature"`
	Scale       Scale     `json:"temperature_scale"`
	Humidity    uint8     `json:"humidity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Decoder turns meter service data into a Reading.
//
// The zero value is ready to use. It stores all of byte 7 as humidity, scale
// bit included, so Fahrenheit meters read 128 too high. MaskHumidity selects
// the corrected reading.
type Decoder struct {
	MaskHumidity bool
	// Now stamps readings. Defaults to time.Now.
	Now func() time.Time
	// Logger, when set, receives a debug trace of every decoded reading.
	Logger *slog.Logger
}

// DecodeHex decodes a hex encoded payload, as bluepy-style stacks report
// service data.
func (d *Decoder) DecodeHex(payload string) (Reading, error) {
	b, err := hex.DecodeString(payload)
	if err != nil {
		return Reading{}, errors.Wrapf(ErrMalformedEncoding, "%q: %v", payload, err)
	}
	return d.Decode(b)
}

// Decode parses a raw service data payload.
//
// Layout (index : field):
//
//	2 : model, one ASCII character
//	3 : mode
//	5 : bits 0-3 temperature tenths
//	6 : bits 0-6 temperature integer part, bit 7 sign
//	7 : bits 0-6 humidity %, bit 7 scale (set = Fahrenheit)
//
// The sign bit is inverted compared to what one would expect: a clear bit 7
// in byte 6 means the temperature is below zero. Real devices depend on it.
func (d *Decoder) Decode(payload []byte) (Reading, error) {
	if len(payload) != PayloadLen {
		return Reading{}, errors.Wrapf(ErrPayloadLength, "got %d bytes, want %d", len(payload), PayloadLen)
	}

	temp := float64(payload[6]&0x7f) + float64(payload[5]&0x0f)/10
	if payload[6]&0x80 == 0 {
		temp = -temp
	}

	scale := Celsius
	if payload[7]&0x80 != 0 {
		scale = Fahrenheit
		temp = temp*1.8 + 32
	}

	humidity := payload[7]
	if d.MaskHumidity {
		humidity &= 0x7f
	}

	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	r := Reading{
		Model:       string(rune(payload[2])),
		Mode:        fmt.Sprintf("%02x", payload[3]),
		Temperature: temp,
		Scale:       scale,
		Humidity:    humidity,
		Timestamp:   now(),
	}

	if d.Logger != nil {
		d.Logger.Debug("meter: decoded service data",
			"model", r.Model,
			"mode", r.Mode,
			"temperature", r.Temperature,
			"scale", r.Scale.String(),
			"humidity", r.Humidity,
			"data", hex.EncodeToString(payload),
		)
	}
	return r, nil
}
