package ble

import (
	"encoding/binary"
	"encoding/hex"
	"slices"

	"tinygo.org/x/bluetooth"

	"github.com/chadmayfield/meter-scan/internal/meter"
)

// AD types of the records a Device reports.
const (
	adTypeServices128b = 0x07
	adTypeLocalName    = 0x09
	adTypeServiceData  = 0x16
)

var meterService = mustParseUUID(meter.ServiceUUID)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic("ble: bad uuid " + s + ": " + err.Error())
	}
	return u
}

// Device accumulates every advertisement one address sent during a scan.
// It implements meter.RawDevice.
type Device struct {
	addr        string
	localName   string
	meterSvc    bool
	serviceData map[uint16][]byte
	order       []uint16
}

func newDevice(addr string) *Device {
	return &Device{
		addr:        addr,
		serviceData: make(map[uint16][]byte),
	}
}

// observe merges one advertisement. A later local name or service data
// element for the same UUID replaces the earlier one.
func (d *Device) observe(localName string, meterSvc bool, svc []bluetooth.ServiceDataElement) {
	if localName != "" {
		d.localName = localName
	}
	d.meterSvc = d.meterSvc || meterSvc
	for _, el := range svc {
		if !el.UUID.Is16Bit() {
			continue
		}
		id := el.UUID.Get16Bit()
		if _, ok := d.serviceData[id]; !ok {
			d.order = append(d.order, id)
		}
		d.serviceData[id] = slices.Clone(el.Data)
	}
}

func (d *Device) Address() string { return d.addr }

// Records renders the advertisement the way bluepy labels scan data. Service
// data is prefixed with its little-endian 16-bit UUID.
func (d *Device) Records() []meter.Record {
	var recs []meter.Record
	for _, id := range d.order {
		b := binary.LittleEndian.AppendUint16(nil, id)
		b = append(b, d.serviceData[id]...)
		recs = append(recs, meter.Record{
			Type:  adTypeServiceData,
			Name:  meter.FieldServiceData,
			Value: hex.EncodeToString(b),
			Data:  b,
		})
	}
	if d.localName != "" {
		recs = append(recs, meter.Record{
			Type:  adTypeLocalName,
			Name:  meter.FieldLocalName,
			Value: d.localName,
		})
	}
	if d.meterSvc {
		recs = append(recs, meter.Record{
			Type:  adTypeServices128b,
			Name:  meter.FieldServices128b,
			Value: meter.ServiceUUID,
		})
	}
	return recs
}
