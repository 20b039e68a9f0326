// Package config reads the scanner settings from flags, falling back to the
// environment for anything not given on the command line.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the resolved scanner configuration.
type Config struct {
	Device       string
	Wait         time.Duration
	Duration     time.Duration
	JSON         bool
	MaskHumidity bool
	LogLevel     slog.Level
	ShowVersion  bool
}

// Load parses args (without the program name). Usage and flag errors go to
// output.
func Load(args []string, output io.Writer) (Config, error) {
	device := envString("METER_DEVICE", "hci0")

	waitStr := envString("METER_WAIT", "5s")
	wait, err := time.ParseDuration(waitStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid METER_WAIT %q: %w", waitStr, err)
	}

	maskStr := envString("METER_MASK_HUMIDITY", "false")
	mask, err := strconv.ParseBool(maskStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid METER_MASK_HUMIDITY %q: %w", maskStr, err)
	}

	levelStr := envString("LOG_LEVEL", "info")

	var cfg Config
	fs := flag.NewFlagSet("meter-scan", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Device, "device", device, "BLE adapter to scan on")
	fs.DurationVar(&cfg.Wait, "wait", wait, "length of each scan cycle")
	fs.DurationVar(&cfg.Duration, "duration", 0, "total run time (0 = until interrupted, e.g. 30s, 5m)")
	fs.BoolVar(&cfg.JSON, "json", false, "output readings as JSON lines")
	fs.BoolVar(&cfg.MaskHumidity, "mask-humidity", mask, "clear the temperature scale bit from humidity")
	fs.StringVar(&levelStr, "log-level", levelStr, "log level: debug, info, warn, error")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Device = strings.TrimSpace(cfg.Device)
	if cfg.Device == "" {
		return Config{}, fmt.Errorf("device must not be empty")
	}
	if cfg.Wait <= 0 {
		return Config{}, fmt.Errorf("wait must be positive, got %v", cfg.Wait)
	}
	if cfg.Duration < 0 {
		return Config{}, fmt.Errorf("duration must not be negative, got %v", cfg.Duration)
	}

	cfg.LogLevel, err = parseLogLevel(levelStr)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
