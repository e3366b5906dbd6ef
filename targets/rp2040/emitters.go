//go:build rp2040

package main

import (
	"machine"

	"mazerunner/config"
)

// setupEmitters makes every emitter pin in the layout an output, driven low.
func setupEmitters(robot config.Robot) {
	for _, s := range robot.Sensors {
		if s.Emitter == config.NoEmitter {
			continue
		}
		pin := machine.Pin(s.Emitter)
		pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
		pin.Low()
	}
}

// emitterPin drives one emitter; shared by both converter variants.
func emitterPin(pin uint8, on bool) {
	machine.Pin(pin).Set(on)
}
