package core

// Default control loop rate.
const (
	LoopFrequency = 500 // Hz
	TickPeriodUS  = 1000000 / LoopFrequency
)

// Clock is a free-running microsecond counter. It is allowed to wrap; only
// differences between two readings are used.
type Clock interface {
	Micros() uint32
}

// ClockFunc adapts a plain function, such as a hardware timer read, to Clock.
type ClockFunc func() uint32

func (f ClockFunc) Micros() uint32 {
	return f()
}

// TickSource fires a handler at the control loop rate. On hardware it is a
// timer interrupt; on the host it is a simulated ticker.
type TickSource interface {
	// Start attaches handler and begins firing it.
	Start(handler func()) error

	// Stop detaches the handler. No call to handler starts after Stop returns.
	Stop()
}

// PeriodUS returns the tick period in microseconds for a loop frequency.
func PeriodUS(frequency float32) uint32 {
	if frequency <= 0 {
		return 0
	}
	return uint32(1000000/frequency + 0.5)
}

// elapsedUS returns the microseconds between two readings of a wrapping clock.
func elapsedUS(start, end uint32) uint32 {
	return end - start
}
