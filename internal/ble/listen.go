// Package ble is the tinygo bluetooth scan stack behind meter.Scanner.
package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/chadmayfield/meter-scan/internal/meter"
)

// ErrAdapter marks failures to bring the adapter up.
var ErrAdapter = errors.New("ble: adapter unavailable")

// stopRetry is how often a stop is retried while the stack has not started
// scanning yet.
const stopRetry = 50 * time.Millisecond

// sighting is one advertisement as the listener needs it.
type sighting struct {
	addr        string
	localName   string
	meterSvc    bool
	serviceData []bluetooth.ServiceDataElement
}

// radio is the part of a bluetooth adapter the listener drives.
// StopScan fails until Scan has actually started.
type radio interface {
	Enable() error
	Scan(func(sighting)) error
	StopScan() error
}

// tinygoRadio adapts a tinygo adapter to radio.
type tinygoRadio struct {
	*bluetooth.Adapter
}

func (t tinygoRadio) Scan(fn func(sighting)) error {
	return t.Adapter.Scan(func(_ *bluetooth.Adapter, r bluetooth.ScanResult) {
		fn(sighting{
			addr:        r.Address.String(),
			localName:   r.LocalName(),
			meterSvc:    r.HasServiceUUID(meterService),
			serviceData: r.ServiceData(),
		})
	})
}

// Options configures a Listener.
type Options struct {
	Adapter string // "hci0" by default
	Logger  *slog.Logger
}

// Listener runs bounded discovery scans on one adapter.
type Listener struct {
	radio radio
	opts  Options

	enableOnce sync.Once
	enableErr  error
}

// NewListener returns a Listener on the adapter named in opts. The adapter
// is enabled on the first scan.
func NewListener(opts Options) *Listener {
	return newListener(tinygoRadio{newAdapter(opts.Adapter)}, opts)
}

func newListener(r radio, opts Options) *Listener {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Listener{
		radio: r,
		opts:  opts,
	}
}

func (l *Listener) enable() error {
	l.enableOnce.Do(func() {
		l.opts.Logger.Info("ble: enabling adapter", "adapter", l.opts.Adapter)
		if err := l.radio.Enable(); err != nil {
			l.enableErr = errors.Wrapf(ErrAdapter, "enable %s: %v", l.opts.Adapter, err)
			return
		}
		l.opts.Logger.Info("ble: adapter enabled", "adapter", l.opts.Adapter)
	})
	return l.enableErr
}

// Scan listens for wait and returns one device per address heard.
// Cancelling ctx stops the scan early; the devices seen so far are returned
// along with ctx.Err().
func (l *Listener) Scan(ctx context.Context, wait time.Duration) ([]meter.RawDevice, error) {
	if err := l.enable(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var (
		mu      sync.Mutex
		devices = make(map[string]*Device)
		order   []string
		done    = make(chan struct{})
	)

	// StopScan is a no-op until the stack registers the scan, so keep
	// trying until it takes or Scan returns on its own.
	go func() {
		select {
		case <-done:
			return
		case <-scanCtx.Done():
		}
		t := time.NewTicker(stopRetry)
		defer t.Stop()
		for l.radio.StopScan() != nil {
			select {
			case <-done:
				return
			case <-t.C:
			}
		}
	}()

	// radio.Scan blocks until StopScan() or error.
	err := l.radio.Scan(func(s sighting) {
		if scanCtx.Err() != nil {
			_ = l.radio.StopScan()
			return
		}

		mu.Lock()
		defer mu.Unlock()
		d, ok := devices[s.addr]
		if !ok {
			d = newDevice(s.addr)
			devices[s.addr] = d
			order = append(order, s.addr)
		}
		d.observe(s.localName, s.meterSvc, s.serviceData)
	})
	close(done)

	mu.Lock()
	out := make([]meter.RawDevice, 0, len(order))
	for _, addr := range order {
		out = append(out, devices[addr])
	}
	mu.Unlock()

	if err != nil && scanCtx.Err() == nil {
		return out, errors.Wrap(err, "ble scan")
	}
	l.opts.Logger.Debug("ble: scan stopped", "adapter", l.opts.Adapter, "devices", len(out))
	return out, ctx.Err()
}
