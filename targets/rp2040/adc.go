//go:build rp2040

package main

import (
	"device/rp"
	"machine"
	"runtime/interrupt"

	"mazerunner/core"
)

// onChipADC drives the RP2040's own converter. Each result goes through the
// FIFO with a threshold of one, so the FIFO interrupt is the
// conversion-complete interrupt and reading the FIFO clears it.
type onChipADC struct {
	handler func()
	irq     interrupt.Interrupt
}

var onChip = &onChipADC{}

func (a *onChipADC) attach(handler func()) {
	a.handler = handler
}

func (a *onChipADC) Init() error {
	machine.InitADC()
	for _, pin := range []machine.Pin{machine.ADC0, machine.ADC1, machine.ADC2, machine.ADC3} {
		adc := machine.ADC{Pin: pin}
		if err := adc.Configure(machine.ADCConfig{}); err != nil {
			return err
		}
	}
	// The temperature sensor is only the warm-up input, but must be powered.
	rp.ADC.CS.SetBits(rp.ADC_CS_TS_EN)

	rp.ADC.FCS.Set(rp.ADC_FCS_EN | 1<<rp.ADC_FCS_THRESH_Pos)
	a.drain()

	a.irq = interrupt.New(rp.IRQ_ADC_IRQ_FIFO, func(interrupt.Interrupt) {
		onChip.completed()
	})
	a.irq.SetPriority(0x80)
	a.irq.Enable()
	return nil
}

func (a *onChipADC) completed() {
	if a.handler != nil {
		a.handler()
	}
}

func (a *onChipADC) StartConversion(ch core.ChannelID) {
	rp.ADC.CS.ReplaceBits(uint32(ch)<<rp.ADC_CS_AINSEL_Pos, rp.ADC_CS_AINSEL_Msk, 0)
	rp.ADC.CS.SetBits(rp.ADC_CS_START_ONCE)
}

func (a *onChipADC) EnableInterrupt() {
	rp.ADC.INTE.SetBits(rp.ADC_INTE_FIFO)
}

func (a *onChipADC) DisableInterrupt() {
	rp.ADC.INTE.ClearBits(rp.ADC_INTE_FIFO)
}

// ReadResult pops the FIFO and scales the 12 bit result to 10 bits, the
// resolution the calibration assumes.
func (a *onChipADC) ReadResult() uint16 {
	return uint16(rp.ADC.FIFO.Get()&0xFFF) >> 2
}

func (a *onChipADC) SetEmitter(pin core.EmitterPin, on bool) {
	emitterPin(uint8(pin), on)
}

// drain empties the FIFO so a stale result cannot raise the interrupt.
func (a *onChipADC) drain() {
	for rp.ADC.FCS.Get()&rp.ADC_FCS_LEVEL_Msk != 0 {
		rp.ADC.FIFO.Get()
	}
}
