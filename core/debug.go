package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Clock     uint32 // Clock reading at the event, in microseconds
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtTickLate      = 1 // Tick body overran its budget: v1=duration us, v2=tick
	EvtCycleOverrun  = 2 // Acquisition restarted mid-cycle: v1=cursor, v2=overruns
	EvtOdometryReset = 3 // Odometry reset: v1=tick
	EvtTickStarted   = 4 // Tick source attached: v1=period us
	EvtTickStopped   = 5 // Tick source detached: v1=tick
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

// TimingRing keeps the most recent timing events. Recording never blocks and
// never allocates, so it is safe from interrupt context.
type TimingRing struct {
	clock  Clock
	events [TimingRingSize]TimingEvent
	head   uint8 // Next write position
	total  uint32
}

// NewTimingRing creates a ring stamping events with clock (may be nil).
func NewTimingRing(clock Clock) *TimingRing {
	return &TimingRing{clock: clock}
}

// Record captures an event.
func (r *TimingRing) Record(eventType uint8, value1, value2 uint32) {
	state := disableInterrupts()
	r.record(eventType, value1, value2)
	restoreInterrupts(state)
}

// record captures an event. Caller must hold the critical section.
func (r *TimingRing) record(eventType uint8, value1, value2 uint32) {
	var now uint32
	if r.clock != nil {
		now = r.clock.Micros()
	}
	idx := r.head
	r.events[idx] = TimingEvent{
		EventType: eventType,
		Clock:     now,
		Value1:    value1,
		Value2:    value2,
	}
	r.head = (idx + 1) % TimingRingSize
	r.total++
}

// Events appends the recorded events, oldest first, to dst.
func (r *TimingRing) Events(dst []TimingEvent) []TimingEvent {
	state := disableInterrupts()
	snapshot := r.events
	start := r.head
	restoreInterrupts(state)

	for i := uint8(0); i < TimingRingSize; i++ {
		evt := snapshot[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		dst = append(dst, evt)
	}
	return dst
}

// Total returns how many events have ever been recorded.
func (r *TimingRing) Total() uint32 {
	state := disableInterrupts()
	n := r.total
	restoreInterrupts(state)
	return n
}

// Clear empties the ring.
func (r *TimingRing) Clear() {
	state := disableInterrupts()
	r.events = [TimingRingSize]TimingEvent{}
	r.head = 0
	r.total = 0
	restoreInterrupts(state)
}

// EventName returns a short name for an event type.
func EventName(eventType uint8) string {
	switch eventType {
	case EvtTickLate:
		return "TICK_LATE!"
	case EvtCycleOverrun:
		return "ADC_OVERRUN"
	case EvtOdometryReset:
		return "ODO_RESET"
	case EvtTickStarted:
		return "TICK_START"
	case EvtTickStopped:
		return "TICK_STOP"
	default:
		return "UNKNOWN"
	}
}

// Dump writes the ring, oldest first. Call from task context only.
func (r *TimingRing) Dump(w DebugWriter) {
	if w == nil {
		return
	}
	var buf [TimingRingSize]TimingEvent
	events := r.Events(buf[:0])

	w("[TIMING] === Timing Ring Dump ===")
	w("[TIMING] Total events: " + utoa(r.Total()))
	for _, evt := range events {
		w("[TIMING] " + EventName(evt.EventType) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	w("[TIMING] === End Dump ===")
}
