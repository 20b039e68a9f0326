package meter

import (
	"bytes"
	"errors"
	"log/slog"
	"math"
	"strings"
	"testing"
	"time"
)

// buildPayload constructs a 16-byte meter service data payload.
func buildPayload(model, mode, tenths, temp, hum byte) []byte {
	p := make([]byte, PayloadLen)
	p[0] = 0x69
	p[1] = 0x09
	p[2] = model
	p[3] = mode
	p[4] = 0x64
	p[5] = tenths
	p[6] = temp
	p[7] = hum
	return p
}

var fixedNow = time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

func fixedDecoder() *Decoder {
	return &Decoder{Now: func() time.Time { return fixedNow }}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		payload   []byte
		mask      bool
		wantTemp  float64
		wantScale Scale
		wantHum   uint8
	}{
		{
			name: "positive celsius",
			// bit 7 of byte 6 set = positive, 5 + 3/10
			payload:   buildPayload('T', 0x00, 0x03, 0x85, 0x32),
			wantTemp:  5.3,
			wantScale: Celsius,
			wantHum:   50,
		},
		{
			name:      "bit 7 clear is negative",
			payload:   buildPayload('T', 0x00, 0x03, 0x05, 0x32),
			wantTemp:  -5.3,
			wantScale: Celsius,
			wantHum:   50,
		},
		{
			name:      "zero magnitude",
			payload:   buildPayload('T', 0x00, 0x00, 0x80, 0x28),
			wantTemp:  0,
			wantScale: Celsius,
			wantHum:   40,
		},
		{
			name:      "high nibble of byte 5 ignored",
			payload:   buildPayload('T', 0x00, 0xf7, 0x95, 0x3c),
			wantTemp:  21.7,
			wantScale: Celsius,
			wantHum:   60,
		},
		{
			name: "fahrenheit keeps scale bit in humidity",
			// 5.3°C -> 41.54°F, humidity stored as raw 0xB2
			payload:   buildPayload('T', 0x00, 0x03, 0x85, 0xb2),
			wantTemp:  5.3*1.8 + 32,
			wantScale: Fahrenheit,
			wantHum:   0xb2,
		},
		{
			name:      "fahrenheit with masked humidity",
			payload:   buildPayload('T', 0x00, 0x03, 0x85, 0xb2),
			mask:      true,
			wantTemp:  5.3*1.8 + 32,
			wantScale: Fahrenheit,
			wantHum:   50,
		},
		{
			name:      "negative fahrenheit",
			payload:   buildPayload('T', 0x00, 0x00, 0x0a, 0x80),
			wantTemp:  14,
			wantScale: Fahrenheit,
			wantHum:   0x80,
		},
		{
			name:      "humidity over 100 accepted",
			payload:   buildPayload('T', 0x00, 0x00, 0x94, 0x7f),
			wantTemp:  20,
			wantScale: Celsius,
			wantHum:   127,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := fixedDecoder()
			d.MaskHumidity = tt.mask
			r, err := d.Decode(tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(r.Temperature-tt.wantTemp) > 1e-9 {
				t.Errorf("temperature = %.4f, want %.4f", r.Temperature, tt.wantTemp)
			}
			if r.Scale != tt.wantScale {
				t.Errorf("scale = %v, want %v", r.Scale, tt.wantScale)
			}
			if r.Humidity != tt.wantHum {
				t.Errorf("humidity = %d, want %d", r.Humidity, tt.wantHum)
			}
			if !r.Timestamp.Equal(fixedNow) {
				t.Errorf("timestamp = %v, want %v", r.Timestamp, fixedNow)
			}
		})
	}
}

func TestDecode_ModelAndMode(t *testing.T) {
	tests := []struct {
		model, mode byte
		wantModel   string
		wantMode    string
	}{
		{'T', 0x00, "T", "00"},
		{'i', 0x01, "i", "01"},
		{'w', 0xab, "w", "ab"},
	}
	for _, tt := range tests {
		t.Run(tt.wantModel+tt.wantMode, func(t *testing.T) {
			r, err := fixedDecoder().Decode(buildPayload(tt.model, tt.mode, 0, 0x80, 0))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Model != tt.wantModel {
				t.Errorf("model = %q, want %q", r.Model, tt.wantModel)
			}
			if r.Mode != tt.wantMode {
				t.Errorf("mode = %q, want %q", r.Mode, tt.wantMode)
			}
		})
	}
}

func TestDecode_WrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 8, 15, 17, 32} {
		_, err := fixedDecoder().Decode(make([]byte, n))
		if !errors.Is(err, ErrPayloadLength) {
			t.Errorf("Decode(%d bytes) error = %v, want ErrPayloadLength", n, err)
		}
	}
}

func TestDecode_Deterministic(t *testing.T) {
	d := fixedDecoder()
	p := buildPayload('T', 0x00, 0x05, 0x97, 0x2d)
	a, err := d.Decode(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := d.Decode(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != b {
		t.Errorf("decoding twice gave %+v and %+v", a, b)
	}
}

func TestDecode_DefaultClock(t *testing.T) {
	before := time.Now()
	var d Decoder
	r, err := d.Decode(buildPayload('T', 0, 0, 0x80, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Timestamp.Before(before) || r.Timestamp.After(time.Now()) {
		t.Errorf("timestamp %v not within decode window", r.Timestamp)
	}
}

func TestDecodeHex(t *testing.T) {
	valid := "69095400000385326400000000000000"
	r, err := fixedDecoder().DecodeHex(valid)
	if err != nil {
		t.Fatalf("DecodeHex(%q) unexpected error: %v", valid, err)
	}
	if r.Model != "T" || r.Humidity != 50 || math.Abs(r.Temperature-5.3) > 1e-9 {
		t.Errorf("DecodeHex(%q) = %+v", valid, r)
	}

	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", ErrPayloadLength},
		{"eight bytes", "000d54006403851a", ErrPayloadLength},
		{"odd length", "000d5", ErrMalformedEncoding},
		{"not hex", "zz0d540064038532640000000000000000", ErrMalformedEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedDecoder().DecodeHex(tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeHex(%q) error = %v, want %v", tt.payload, err, tt.want)
			}
		})
	}
}

func TestDecode_Trace(t *testing.T) {
	var buf bytes.Buffer
	d := fixedDecoder()
	d.Logger = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if _, err := d.Decode(buildPayload('T', 0x00, 0x03, 0x85, 0x32)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"model=T", "mode=00", "humidity=50", "scale=C"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace %q missing %q", out, want)
		}
	}
}

func TestScaleString(t *testing.T) {
	if Celsius.String() != "C" || Fahrenheit.String() != "F" {
		t.Errorf("scales = %s, %s; want C, F", Celsius, Fahrenheit)
	}
}
