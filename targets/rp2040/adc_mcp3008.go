//go:build rp2040

package main

import (
	"machine"
	"runtime/interrupt"

	"tinygo.org/x/drivers/mcp3008"

	"mazerunner/core"
)

// mcp3008ADC drives an MCP3008 on SPI0. An SPI transfer is too slow for the
// tick interrupt, so StartConversion only latches the channel and poll, run
// from the main loop, performs the read and dispatches the completion.
type mcp3008ADC struct {
	dev     *mcp3008.Device
	handler func()

	// Shared with the tick interrupt
	pending    bool
	channel    core.ChannelID
	irqEnabled bool
	result     uint16
}

var external = &mcp3008ADC{}

const mcp3008Baud = 1000000

func (a *mcp3008ADC) attach(handler func()) {
	a.handler = handler
}

func (a *mcp3008ADC) Init() error {
	err := machine.SPI0.Configure(machine.SPIConfig{
		Frequency: mcp3008Baud,
		SCK:       machine.GPIO18,
		SDO:       machine.GPIO19,
		SDI:       machine.GPIO16,
		Mode:      0,
	})
	if err != nil {
		return err
	}
	cs := machine.GPIO17
	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
	cs.High()

	a.dev = mcp3008.New(machine.SPI0, cs)
	a.dev.Configure()
	return nil
}

func (a *mcp3008ADC) StartConversion(ch core.ChannelID) {
	a.channel = ch
	a.pending = true
}

func (a *mcp3008ADC) EnableInterrupt() {
	a.irqEnabled = true
}

func (a *mcp3008ADC) DisableInterrupt() {
	a.irqEnabled = false
}

func (a *mcp3008ADC) ReadResult() uint16 {
	return a.result
}

func (a *mcp3008ADC) SetEmitter(pin core.EmitterPin, on bool) {
	emitterPin(uint8(pin), on)
}

// poll completes at most one pending conversion. It returns false when none
// was pending.
func (a *mcp3008ADC) poll() bool {
	state := interrupt.Disable()
	ch, pending := a.channel, a.pending
	a.pending = false
	interrupt.Restore(state)
	if !pending {
		return false
	}

	// The driver returns the 10 bit result scaled to 16 bits.
	v, err := a.dev.Read(int(ch))
	if err != nil {
		v = 0
	}

	// A new request means the tick restarted the cycle during the read, and
	// the result is dropped.
	state = interrupt.Disable()
	if !a.pending {
		a.result = v >> 6
		if a.irqEnabled && a.handler != nil {
			a.handler()
		}
	}
	interrupt.Restore(state)
	return true
}
