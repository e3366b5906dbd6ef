//go:build rp2040

package main

import (
	"machine"
	"sync/atomic"
)

// gpioSwitch is the single push button of boards without a switch ladder.
// Update samples it once per tick; the main loop reads it.
type gpioSwitch struct {
	pin     machine.Pin
	pressed uint32
}

func newGPIOSwitch(pin machine.Pin) *gpioSwitch {
	pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	return &gpioSwitch{pin: pin}
}

func (s *gpioSwitch) Update() {
	var v uint32
	if !s.pin.Get() {
		v = 1
	}
	atomic.StoreUint32(&s.pressed, v)
}

// Value reports the button as 1 when pressed, matching the ladder's
// position numbering.
func (s *gpioSwitch) Value() uint8 {
	return uint8(atomic.LoadUint32(&s.pressed))
}
