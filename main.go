// meter-scan — SwitchBot meter BLE advertisement scanner
//
// Scans for SwitchBot temperature/humidity meters and prints one line per
// meter per scan cycle. Devices are recognized by their local name (WoHand,
// WoMeter) or the SwitchBot service UUID, and only reported when their
// service data decodes.
//
// Build (native):
//   go build -o meter-scan .
//
// Cross-compile for Raspberry Pi (Linux ARM64):
//   GOOS=linux GOARCH=arm64 go build -o meter-scan-linux-arm64 .
//
// Usage:
//   sudo ./meter-scan                    # scan continuously, 5s cycles
//   sudo ./meter-scan -wait 10s          # 10 second scan cycles
//   sudo ./meter-scan -duration 1m       # stop after one minute
//   sudo ./meter-scan -json              # output as JSON lines
//   sudo ./meter-scan -device hci1       # scan on another adapter (Linux)
//   sudo ./meter-scan -mask-humidity     # drop the scale bit from humidity
//
// Requires: Linux with BlueZ (Raspberry Pi, etc.) or macOS with CoreBluetooth.
// Must run as root (sudo) on Linux for BLE scanning privileges.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadmayfield/meter-scan/internal/ble"
	"github.com/chadmayfield/meter-scan/internal/config"
	"github.com/chadmayfield/meter-scan/internal/logging"
	"github.com/chadmayfield/meter-scan/internal/meter"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0"
var version = "dev"

const appName = "meter-scan"

func printDevice(w io.Writer, d meter.Device, jsonOut bool) error {
	if jsonOut {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}

	r := d.Reading
	ts := r.Timestamp.Format("15:04:05")
	_, err := fmt.Fprintf(w, "[%s] %s %s (%s)  Temp:%.2f°%s  Humidity:%3d%%\n",
		ts, d.MAC, r.Model, r.Mode, r.Temperature, r.Scale, r.Humidity)
	return err
}

// monitor prints the meters of every scan cycle until ctx is done.
func monitor(ctx context.Context, m *meter.Monitor, w io.Writer, jsonOut bool) error {
	for ctx.Err() == nil {
		devices, err := m.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for d := range devices {
			if err := printDevice(w, d, jsonOut); err != nil {
				return err
			}
		}
	}
	return nil
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("%s %s\n", appName, version)
		os.Exit(0)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, version, appName)
	slog.SetDefault(logger)

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	listener := ble.NewListener(ble.Options{Adapter: cfg.Device, Logger: logger})
	classifier := &meter.Classifier{
		Decoder: meter.Decoder{MaskHumidity: cfg.MaskHumidity, Logger: logger},
		Logger:  logger,
	}
	m := meter.NewMonitor(listener,
		meter.WithWait(cfg.Wait),
		meter.WithClassifier(classifier),
		meter.WithLogger(logger),
	)

	logger.Info("scanning for SwitchBot meters",
		"device", cfg.Device,
		"wait", cfg.Wait,
		"duration", cfg.Duration,
		"mask_humidity", cfg.MaskHumidity,
	)

	start := time.Now()
	if err := monitor(ctx, m, os.Stdout, cfg.JSON); err != nil {
		logger.Error("scan failed", "err", err)
		if errors.Is(err, ble.ErrAdapter) {
			fmt.Fprintf(os.Stderr, "hint: on Linux, run with sudo; on macOS, grant Bluetooth access to Terminal\n")
		}
		os.Exit(1)
	}

	logger.Info("scan complete", "elapsed", time.Since(start).Round(time.Second))
}
