// Multiplexed analogue acquisition
// Samples a fixed channel table once per tick, driven by conversion-complete
// interrupts rather than blocking reads
package core

import "errors"

// Acquisition states
const (
	AcqStateIdle       = 0 // Completion interrupt disabled, nothing in flight
	AcqStateConverting = 1 // Completion interrupt enabled, one conversion in flight
)

// MaxSteps bounds the channel table so the result buffers can be fixed size.
const MaxSteps = 32

var (
	ErrEmptyTable    = errors.New("acquisition table is empty")
	ErrTableTooLarge = errors.New("acquisition table too large")
)

// Sensor is one analogue input, optionally paired with an emitter.
type Sensor struct {
	Channel ChannelID
	Emitter EmitterPin // NoEmitter if the sensor has none
}

// Step is one entry of the channel table. Its index is its result slot.
type Step struct {
	Channel ChannelID
	Emitter EmitterPin // Lit for the duration of this conversion, or NoEmitter
}

// BuildTable lays out one ambient step for every sensor followed by one lit
// step for every sensor that has an emitter. All the dark readings come first
// so no emitter is on while an ambient reading is taken.
func BuildTable(sensors []Sensor) []Step {
	table := make([]Step, 0, 2*len(sensors))
	for _, s := range sensors {
		table = append(table, Step{Channel: s.Channel, Emitter: NoEmitter})
	}
	for _, s := range sensors {
		if s.Emitter != NoEmitter {
			table = append(table, Step{Channel: s.Channel, Emitter: s.Emitter})
		}
	}
	return table
}

// AcquisitionConfig describes the sensors and the warm-up conversion.
type AcquisitionConfig struct {
	Sensors []Sensor

	// WarmupChannel is converted first in every cycle and its result thrown
	// away, giving the multiplexer time to settle before the first real step.
	WarmupChannel ChannelID
}

// Acquisition runs the per-tick conversion cycle over the channel table.
//
// During a cycle the cursor and the pending buffer belong to the completion
// handler. Readers only ever see the last fully completed cycle.
type Acquisition struct {
	conv   Converter
	table  []Step
	warmup ChannelID
	ring   *TimingRing

	// Result slots per sensor; -1 when a sensor has no lit step
	darkStep []int
	litStep  []int

	configured      bool
	emittersEnabled bool

	state     uint8
	cursor    int
	warmingUp bool

	pending   [MaxSteps]uint16
	completed [MaxSteps]uint16
	cycles    uint32
	overruns  uint32
}

// NewAcquisition creates the engine. Begin must be called before any cycle.
func NewAcquisition(conv Converter, cfg AcquisitionConfig) (*Acquisition, error) {
	table := BuildTable(cfg.Sensors)
	if len(table) == 0 {
		return nil, ErrEmptyTable
	}
	if len(table) > MaxSteps {
		return nil, ErrTableTooLarge
	}

	a := &Acquisition{
		conv:     conv,
		table:    table,
		warmup:   cfg.WarmupChannel,
		darkStep: make([]int, len(cfg.Sensors)),
		litStep:  make([]int, len(cfg.Sensors)),
	}
	lit := len(cfg.Sensors)
	for i, s := range cfg.Sensors {
		a.darkStep[i] = i
		a.litStep[i] = -1
		if s.Emitter != NoEmitter {
			a.litStep[i] = lit
			lit++
		}
	}
	return a, nil
}

// SetTimingRing attaches a ring that records abandoned cycles.
func (a *Acquisition) SetTimingRing(ring *TimingRing) {
	a.ring = ring
}

// Begin switches the emitters off and initialises the converter. Until it
// succeeds every cycle-control call is ignored.
func (a *Acquisition) Begin() error {
	a.SetEmittersEnabled(false)
	if err := a.conv.Init(); err != nil {
		return err
	}

	state := disableInterrupts()
	a.configured = true
	a.state = AcqStateIdle
	restoreInterrupts(state)
	return nil
}

// StartConversionCycle restarts the table from step 0 with a warm-up
// conversion. A cycle still in flight is abandoned and its partial results
// dropped.
func (a *Acquisition) StartConversionCycle() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !a.configured {
		return
	}
	if a.state == AcqStateConverting {
		a.overruns++
		if !a.warmingUp {
			a.emitterOff(a.table[a.cursor].Emitter)
		}
		if a.ring != nil {
			a.ring.record(EvtCycleOverrun, uint32(a.cursor), a.overruns)
		}
	}

	a.cursor = 0
	a.warmingUp = true
	a.state = AcqStateConverting
	a.conv.EnableInterrupt()
	a.conv.StartConversion(a.warmup)
}

// EndConversionCycle stops acquisition, for example while reconfiguring.
func (a *Acquisition) EndConversionCycle() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !a.configured {
		return
	}
	a.conv.DisableInterrupt()
	if a.state == AcqStateConverting && !a.warmingUp {
		a.emitterOff(a.table[a.cursor].Emitter)
	}
	a.state = AcqStateIdle
}

// HandleCompletion is the conversion-complete interrupt handler.
func (a *Acquisition) HandleCompletion() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	// Always read: it clears the ready flag even for a stray interrupt.
	value := a.conv.ReadResult()
	if a.state != AcqStateConverting {
		return
	}

	if a.warmingUp {
		a.warmingUp = false
	} else {
		step := a.table[a.cursor]
		a.pending[a.cursor] = value
		a.emitterOff(step.Emitter)
		if a.cursor == len(a.table)-1 {
			a.completed = a.pending
			a.cycles++
			a.conv.DisableInterrupt()
			a.state = AcqStateIdle
			return
		}
		a.cursor++
	}

	next := a.table[a.cursor]
	a.emitterOn(next.Emitter)
	a.conv.StartConversion(next.Channel)
}

// SetEmittersEnabled gates every emitter. Disabling also switches all the
// table's emitters off.
func (a *Acquisition) SetEmittersEnabled(enabled bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	a.emittersEnabled = enabled
	if !enabled {
		for _, step := range a.table {
			a.emitterOff(step.Emitter)
		}
	}
}

// EmittersEnabled reports whether emitters are allowed to light.
func (a *Acquisition) EmittersEnabled() bool {
	state := disableInterrupts()
	enabled := a.emittersEnabled
	restoreInterrupts(state)
	return enabled
}

// EmitterOn lights an emitter unless emitters are disabled or pin is NoEmitter.
func (a *Acquisition) EmitterOn(pin EmitterPin) {
	state := disableInterrupts()
	a.emitterOn(pin)
	restoreInterrupts(state)
}

// EmitterOff switches an emitter off unless pin is NoEmitter.
func (a *Acquisition) EmitterOff(pin EmitterPin) {
	state := disableInterrupts()
	a.emitterOff(pin)
	restoreInterrupts(state)
}

func (a *Acquisition) emitterOn(pin EmitterPin) {
	if pin == NoEmitter || !a.emittersEnabled {
		return
	}
	a.conv.SetEmitter(pin, true)
}

func (a *Acquisition) emitterOff(pin EmitterPin) {
	if pin == NoEmitter {
		return
	}
	a.conv.SetEmitter(pin, false)
}

// Table returns the channel table. The caller must not modify it.
func (a *Acquisition) Table() []Step {
	return a.table
}

// Sensors returns the number of configured sensors.
func (a *Acquisition) Sensors() int {
	return len(a.darkStep)
}

// State returns the current acquisition state.
func (a *Acquisition) State() uint8 {
	state := disableInterrupts()
	s := a.state
	restoreInterrupts(state)
	return s
}

// Cursor returns the step currently in flight, or the last step converted.
func (a *Acquisition) Cursor() int {
	state := disableInterrupts()
	c := a.cursor
	restoreInterrupts(state)
	return c
}

// Cycles returns the number of completed cycles.
func (a *Acquisition) Cycles() uint32 {
	state := disableInterrupts()
	n := a.cycles
	restoreInterrupts(state)
	return n
}

// Overruns returns the number of cycles abandoned by a restart.
func (a *Acquisition) Overruns() uint32 {
	state := disableInterrupts()
	n := a.overruns
	restoreInterrupts(state)
	return n
}

// Result returns a step's value from the last completed cycle.
func (a *Acquisition) Result(step int) uint16 {
	if step < 0 || step >= len(a.table) {
		return 0
	}
	state := disableInterrupts()
	v := a.completed[step]
	restoreInterrupts(state)
	return v
}

// Results appends the last completed cycle, in table order, to dst.
func (a *Acquisition) Results(dst []uint16) []uint16 {
	state := disableInterrupts()
	snapshot := a.completed
	restoreInterrupts(state)
	return append(dst, snapshot[:len(a.table)]...)
}

// Dark returns a sensor's ambient reading.
func (a *Acquisition) Dark(sensor int) uint16 {
	if sensor < 0 || sensor >= len(a.darkStep) {
		return 0
	}
	return a.Result(a.darkStep[sensor])
}

// Lit returns a sensor's illuminated reading, or its ambient reading when it
// has no emitter.
func (a *Acquisition) Lit(sensor int) uint16 {
	if sensor < 0 || sensor >= len(a.litStep) {
		return 0
	}
	if a.litStep[sensor] < 0 {
		return a.Dark(sensor)
	}
	return a.Result(a.litStep[sensor])
}

// Raw returns the emitter's contribution to a sensor reading (lit minus dark,
// never negative). A sensor without an emitter returns its ambient reading.
func (a *Acquisition) Raw(sensor int) uint16 {
	if sensor < 0 || sensor >= len(a.darkStep) {
		return 0
	}
	if a.litStep[sensor] < 0 {
		return a.Dark(sensor)
	}
	state := disableInterrupts()
	dark := a.completed[a.darkStep[sensor]]
	lit := a.completed[a.litStep[sensor]]
	restoreInterrupts(state)
	if lit < dark {
		return 0
	}
	return lit - dark
}
