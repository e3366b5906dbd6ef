//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"runtime/interrupt"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

// Raw encodings for the two instructions the tick program needs beyond
// pull, out and jmp.
const (
	pioMovXY   = 0xa000 | 1<<5 | 2 // mov x, y
	pioIRQSet0 = 0xc000            // irq nowait 0
)

// The state machine runs at 1 MHz and raises PIO IRQ 0 once per period:
//
//	pull block      ; period, once
//	out y, 32
//	.wrap_target
//	mov x, y
//	jmp x--, .      ; x+1 cycles
//	irq nowait 0
//	.wrap
//
// One period is y+3 cycles.
func buildTickProgram(origin uint8) []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),
		asm.Out(rp2pio.OutDestY, 32).Encode(),
		pioMovXY,
		asm.Jmp(origin+3, rp2pio.JmpXNZeroDec).Encode(),
		pioIRQSet0,
	}
}

const (
	tickPIOOrigin   = 0
	tickClkDiv      = 125 // 125 MHz system clock to 1 MHz
	tickOverhead    = 3
	tickIRQPriority = 0xc0 // Below the encoder and converter interrupts
)

var errNoStateMachine = errors.New("PIO state machine busy")

// pioTicker is the control tick source: a PIO state machine timing the
// period with no CPU involvement, and a low priority interrupt running the
// handler.
type pioTicker struct {
	pio      *rp2pio.PIO
	sm       rp2pio.StateMachine
	periodUS uint32
	offset   uint8
	cfg      rp2pio.StateMachineConfig
	handler  func()
	irq      interrupt.Interrupt
	loaded   bool
}

var ticker = &pioTicker{pio: rp2pio.PIO0}

func (t *pioTicker) configure(periodUS uint32) error {
	t.periodUS = periodUS
	t.sm = t.pio.StateMachine(0)
	if !t.sm.TryClaim() {
		return errNoStateMachine
	}

	program := buildTickProgram(tickPIOOrigin)
	offset, err := t.pio.AddProgram(program, tickPIOOrigin)
	if err != nil {
		return err
	}

	t.offset = offset
	t.cfg = rp2pio.DefaultStateMachineConfig()
	t.cfg.SetOutShift(true, false, 32)
	t.cfg.SetWrap(offset+uint8(len(program))-1, offset+2)
	t.cfg.SetClkDivIntFrac(tickClkDiv, 0)

	t.irq = interrupt.New(rp.IRQ_PIO0_IRQ_0, func(interrupt.Interrupt) {
		// Acknowledge first so a long tick cannot hide the next one.
		rp.PIO0.IRQ.Set(1)
		if ticker.handler != nil {
			ticker.handler()
		}
	})
	t.irq.SetPriority(tickIRQPriority)
	t.loaded = true
	return nil
}

// Start implements core.TickSource.
func (t *pioTicker) Start(handler func()) error {
	if !t.loaded {
		return errNoStateMachine
	}
	t.handler = handler

	// Init also rewinds the program to the initial pull.
	t.sm.Init(t.offset, t.cfg)
	t.sm.TxPut(t.periodUS - tickOverhead)

	rp.PIO0.IRQ.Set(1)
	rp.PIO0.IRQ0_INTE.SetBits(rp.PIO0_IRQ0_INTE_SM0)
	t.irq.Enable()
	t.sm.SetEnabled(true)
	return nil
}

// Stop implements core.TickSource. Once it returns the handler will not be
// entered again.
func (t *pioTicker) Stop() {
	t.sm.SetEnabled(false)
	rp.PIO0.IRQ0_INTE.ClearBits(rp.PIO0_IRQ0_INTE_SM0)
	rp.PIO0.IRQ.Set(1)

	state := interrupt.Disable()
	t.handler = nil
	interrupt.Restore(state)
}
