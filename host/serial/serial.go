// Package serial opens the USB CDC link to the robot.
package serial

import (
	"io"
	"time"
)

// Port is an open link. Tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser
}

// Config describes a serial device.
type Config struct {
	Device string // e.g. /dev/ttyACM0 or COM3
	Baud   int    // Ignored by USB CDC but required by some drivers

	// ReadTimeout makes reads return periodically so the reader can notice
	// Close. Zero blocks.
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the robot firmware expects.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100 * time.Millisecond,
	}
}
