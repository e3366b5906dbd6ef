//go:build tinygo

package core

import "runtime/interrupt"

// disableInterrupts masks every interrupt on the core and returns the prior
// mask. Calling it from inside an ISR is fine: the restore puts back the
// ISR's own mask.
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}
