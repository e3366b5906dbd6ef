//go:build rp2040

package main

import (
	"machine"

	"mazerunner/core"
)

// Each wheel has two lines: clk, the XOR of the encoder channels, and the B
// channel. Every encoder transition toggles clk, so one pin interrupt on
// both edges of clk sees all of them.
type encoderPins struct {
	clk machine.Pin
	b   machine.Pin
}

var (
	leftEncoderPins  = encoderPins{clk: machine.GPIO2, b: machine.GPIO3}
	rightEncoderPins = encoderPins{clk: machine.GPIO4, b: machine.GPIO5}
)

func (p encoderPins) levels() (clk, b bool) {
	return p.clk.Get(), p.b.Get()
}

// setupEncoder configures the lines, seeds the decoder from their current
// levels and attaches the edge interrupt. handler runs in interrupt context.
func setupEncoder(p encoderPins, enc *core.Encoder, handler func(clk, b bool)) error {
	p.clk.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	p.b.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	enc.Sync(p.levels())

	return p.clk.SetInterrupt(machine.PinToggle, func(machine.Pin) {
		handler(p.levels())
	})
}
