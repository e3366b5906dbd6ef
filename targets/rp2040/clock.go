//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"mazerunner/core"
)

// RP2040 timer: a free-running 64 bit microsecond counter.
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28 // Raw low word, no latching
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// micros reads the low word of the timer. It wraps every 71 minutes, which
// the core tolerates since it only ever takes differences.
func micros() uint32 {
	return timerRAWL.Get()
}

// hardwareClock feeds the tick timing and the timing ring.
var hardwareClock core.Clock = core.ClockFunc(micros)
