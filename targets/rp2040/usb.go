//go:build rp2040

package main

import "machine"

// The telemetry link is machine.Serial, which TinyGo maps to USB CDC.

func initUSB() error {
	return machine.Serial.Configure(machine.UARTConfig{})
}

// readUSB moves whatever the host has sent into dst and returns the count.
func readUSB(dst []byte) int {
	n := 0
	for n < len(dst) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			break
		}
		dst[n] = b
		n++
	}
	return n
}

func writeUSB(data []byte) (int, error) {
	return machine.Serial.Write(data)
}
