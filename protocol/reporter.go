package protocol

import "sync/atomic"

// Reporter paces telemetry: every Interval ticks it sends one frame per
// message and flushes.
type Reporter struct {
	transport *Transport
	interval  uint32 // Ticks between reports, 0 to stop
	last      uint32
	started   bool
}

func NewReporter(t *Transport, interval uint32) *Reporter {
	return &Reporter{transport: t, interval: interval}
}

// SetInterval may be called from a command handler.
func (r *Reporter) SetInterval(ticks uint32) {
	atomic.StoreUint32(&r.interval, ticks)
}

func (r *Reporter) Interval() uint32 {
	return atomic.LoadUint32(&r.interval)
}

// Due reports whether a report is owed at tick and, if so, marks it sent.
// The first call with a non-zero interval is always due.
func (r *Reporter) Due(tick uint32) bool {
	interval := r.Interval()
	if interval == 0 {
		return false
	}
	if r.started && tick-r.last < interval {
		return false
	}
	r.started = true
	r.last = tick
	return true
}

// Send writes each message in its own frame and flushes once.
func (r *Reporter) Send(msgs ...Message) {
	for _, m := range msgs {
		r.transport.Send(m)
	}
	r.transport.Flush()
}
