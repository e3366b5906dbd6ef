//go:build !tinygo

package core

import "sync"

// State is the saved interrupt mask returned by disableInterrupts.
type State uintptr

// irqMask stands in for the single interrupt mask of the target core.
// Interrupt entry points take it for their whole body, so a goroutine
// feeding simulated edges or completions is atomic with respect to a
// critical section on the tick side, just as an ISR is on hardware.
var irqMask sync.Mutex

// disableInterrupts enters a critical section. Critical sections must not nest.
func disableInterrupts() State {
	irqMask.Lock()
	return 0
}

// restoreInterrupts leaves the critical section entered by disableInterrupts.
func restoreInterrupts(state State) {
	irqMask.Unlock()
}
