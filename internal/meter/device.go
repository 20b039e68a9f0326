package meter

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Advertisement field names, as the scan stack labels records.
const (
	FieldServiceData  = "16b Service Data"
	FieldLocalName    = "Local name"
	FieldServices128b = "Complete 128b Services"
)

// ServiceUUID is the primary service SwitchBot devices advertise.
const ServiceUUID = "cba20d00-224d-11e6-9fb8-0002a5d5c51b"

// Local names a SwitchBot meter may advertise.
const (
	NameWoHand  = "WoHand"
	NameWoMeter = "WoMeter"
)

// Record is one advertisement record: AD type, field name and value.
// Data holds the raw bytes when the stack has them; otherwise Value
// carries the textual form (hex for service data).
type Record struct {
	Type  uint8
	Name  string
	Value string
	Data  []byte
}

// RawDevice is a peripheral discovered by one scan.
type RawDevice interface {
	Address() string
	Records() []Record
}

// Device is a classified scan result. MAC is set only once the peripheral
// identified itself as a SwitchBot device, Reading only when its service
// data decoded.
type Device struct {
	MAC     string
	Reading *Reading
}

// Valid reports whether the device is a meter with a decoded reading.
func (d Device) Valid() bool {
	return d.MAC != "" && d.Reading != nil
}

func (d Device) String() string {
	if d.Reading == nil {
		return "Unknown device"
	}
	r := d.Reading
	return fmt.Sprintf("<%s (%s) temp: %.2f humidity: %d%%> (%s)", r.Model, r.Mode, r.Temperature, r.Humidity, d.MAC)
}

// MarshalJSON flattens the reading next to the address.
func (d Device) MarshalJSON() ([]byte, error) {
	type flat struct {
		MAC string `json:"mac"`
		*Reading
	}
	return json.Marshal(flat{MAC: d.MAC, Reading: d.Reading})
}

// classification is a Device being built, plus what the fold noticed on
// the way.
type classification struct {
	Device
	shortPayload int // length of the last service data rejected for length
}

// update is the partial result of handling one record.
type update func(classification) classification

type handler func(c *Classifier, raw RawDevice, rec Record) update

var routes = map[string]handler{
	FieldServiceData:  (*Classifier).serviceData,
	FieldLocalName:    (*Classifier).localName,
	FieldServices128b: (*Classifier).services,
}

// Classifier builds Devices from raw scan results.
type Classifier struct {
	Decoder Decoder
	Logger  *slog.Logger

	lengthNoted atomic.Bool
}

// Classify folds every record of raw into a Device. Records are applied in
// order, so the last matching record for a field wins.
func (c *Classifier) Classify(raw RawDevice) Device {
	var st classification
	for _, rec := range raw.Records() {
		h, ok := routes[rec.Name]
		if !ok {
			continue
		}
		if u := h(c, raw, rec); u != nil {
			st = u(st)
		}
	}
	if st.MAC != "" && st.Reading == nil && st.shortPayload > 0 {
		c.noteLength(raw.Address(), st.shortPayload)
	}
	return st.Device
}

// noteLength tells the user, once per Classifier, that a SwitchBot device
// was dropped only because its service data has the wrong size.
func (c *Classifier) noteLength(addr string, n int) {
	if !c.lengthNoted.CompareAndSwap(false, true) {
		return
	}
	c.logger().Info("meter: SwitchBot device ignored, service data has unexpected length",
		"addr", addr,
		"got", n,
		"want", PayloadLen,
	)
}

func (c *Classifier) serviceData(raw RawDevice, rec Record) update {
	var (
		r   Reading
		err error
		n   = len(rec.Data)
	)
	if rec.Data != nil {
		r, err = c.Decoder.Decode(rec.Data)
	} else {
		n = len(rec.Value) / 2
		r, err = c.Decoder.DecodeHex(rec.Value)
	}
	if errors.Is(err, ErrPayloadLength) {
		c.logger().Debug("meter: ignore service data", "addr", raw.Address(), "error", err)
		return func(st classification) classification {
			st.shortPayload = n
			return st
		}
	}
	if err != nil {
		c.logger().Debug("meter: ignore service data", "addr", raw.Address(), "error", err)
		return nil
	}
	return func(st classification) classification {
		st.Reading = &r
		return st
	}
}

func (c *Classifier) localName(raw RawDevice, rec Record) update {
	if rec.Value != NameWoHand && rec.Value != NameWoMeter {
		return nil
	}
	return setMAC(raw.Address())
}

func (c *Classifier) services(raw RawDevice, rec Record) update {
	if rec.Value != ServiceUUID {
		return nil
	}
	return setMAC(raw.Address())
}

func setMAC(mac string) update {
	return func(st classification) classification {
		st.MAC = mac
		return st
	}
}

func (c *Classifier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
