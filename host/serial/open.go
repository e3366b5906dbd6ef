//go:build !tinygo

package serial

import (
	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Open opens a serial device.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("no serial device given")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", cfg.Device)
	}
	return port, nil
}
