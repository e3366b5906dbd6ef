package core

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type callLog struct {
	calls []string
}

func (l *callLog) add(call string) {
	l.calls = append(l.calls, call)
}

type namedUpdater struct {
	log  *callLog
	name string
}

func (u namedUpdater) Update() { u.log.add(u.name) }

type fakeSensors struct {
	log      *callLog
	comp     float32
	steering float32
}

func (s *fakeSensors) Update() { s.log.add("sensors") }

func (s *fakeSensors) BatteryComp() float32 {
	s.log.add("battery")
	return s.comp
}

func (s *fakeSensors) SteeringFeedback() float32 {
	s.log.add("steering")
	return s.steering
}

type fakeMotors struct {
	log      *callLog
	comp     float32
	steering float32
}

func (m *fakeMotors) SetBatteryCompensation(comp float32) {
	m.log.add("motors.comp")
	m.comp = comp
}

func (m *fakeMotors) UpdateControllers(steering float32) {
	m.log.add("motors.update")
	m.steering = steering
}

type fakeStarter struct {
	log *callLog
}

func (s fakeStarter) StartConversionCycle() { s.log.add("adc") }

type fakeTickSource struct {
	handler  func()
	startErr error
	stopped  bool
}

func (f *fakeTickSource) Start(handler func()) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.handler = handler
	return nil
}

func (f *fakeTickSource) Stop() {
	f.stopped = true
	f.handler = nil
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  uint32
	step uint32
}

func (c *stepClock) Micros() uint32 {
	now := c.now
	c.now += c.step
	return now
}

func newLoggedSystick(log *callLog, sensors *fakeSensors, motors *fakeMotors) SystickConfig {
	return SystickConfig{
		Odometry: namedUpdater{log, "odometry"},
		Forward:  namedUpdater{log, "forward"},
		Rotation: namedUpdater{log, "rotation"},
		Sensors:  sensors,
		Switches: namedUpdater{log, "switches"},
		Motors:   motors,
		ADC:      fakeStarter{log},
	}
}

func TestSystickUpdateOrder(t *testing.T) {
	log := &callLog{}
	sensors := &fakeSensors{log: log, comp: 1.25, steering: -0.5}
	motors := &fakeMotors{log: log}
	tick := NewSystick(newLoggedSystick(log, sensors, motors))

	tick.Update()

	want := []string{
		"odometry",
		"forward",
		"rotation",
		"sensors",
		"switches",
		"battery",
		"motors.comp",
		"steering",
		"motors.update",
		"adc",
	}
	if diff := cmp.Diff(want, log.calls); diff != "" {
		t.Errorf("Update order mismatch (-want +got):\n%s", diff)
	}
	if motors.comp != 1.25 {
		t.Errorf("Expected battery compensation 1.25, got %f", motors.comp)
	}
	if motors.steering != -0.5 {
		t.Errorf("Expected steering -0.5, got %f", motors.steering)
	}
	if got := tick.Stats().Ticks; got != 1 {
		t.Errorf("Expected 1 tick, got %d", got)
	}
}

func TestSystickDefaults(t *testing.T) {
	tick := NewSystick(SystickConfig{})
	stats := tick.Stats()
	if stats.PeriodUS != TickPeriodUS {
		t.Errorf("Expected period %d, got %d", TickPeriodUS, stats.PeriodUS)
	}
	if stats.BudgetUS != TickPeriodUS*40/100 {
		t.Errorf("Expected budget %d, got %d", TickPeriodUS*40/100, stats.BudgetUS)
	}
}

func TestSystickTiming(t *testing.T) {
	log := &callLog{}
	cfg := newLoggedSystick(log, &fakeSensors{log: log}, &fakeMotors{log: log})
	clock := &stepClock{step: 300}
	ring := NewTimingRing(nil)
	cfg.Clock = clock
	cfg.Ring = ring
	tick := NewSystick(cfg)

	tick.Update()
	stats := tick.Stats()
	if stats.LastUS != 300 {
		t.Errorf("Expected 300us tick, got %d", stats.LastUS)
	}
	if stats.LoadPermil != 150 {
		t.Errorf("Expected load 150 permil, got %d", stats.LoadPermil)
	}
	if stats.LateTicks != 0 {
		t.Errorf("Expected no late ticks, got %d", stats.LateTicks)
	}

	// 900us is over the 800us budget of a 2ms period.
	clock.step = 900
	tick.Update()
	stats = tick.Stats()
	if stats.MaxUS != 900 {
		t.Errorf("Expected max 900us, got %d", stats.MaxUS)
	}
	if stats.LateTicks != 1 {
		t.Errorf("Expected 1 late tick, got %d", stats.LateTicks)
	}

	events := ring.Events(nil)
	if len(events) != 1 || events[0].EventType != EvtTickLate {
		t.Fatalf("Expected one late tick event, got %+v", events)
	}
	if events[0].Value1 != 900 || events[0].Value2 != 2 {
		t.Errorf("Expected late event 900us at tick 2, got %+v", events[0])
	}

	tick.ResetStats()
	stats = tick.Stats()
	if stats.MaxUS != 0 || stats.LateTicks != 0 {
		t.Errorf("Expected cleared stats, got %+v", stats)
	}
	if stats.Ticks != 2 {
		t.Errorf("Expected tick count kept, got %d", stats.Ticks)
	}
}

func TestSystickClockWrap(t *testing.T) {
	log := &callLog{}
	cfg := newLoggedSystick(log, &fakeSensors{log: log}, &fakeMotors{log: log})
	cfg.Clock = &stepClock{now: 0xFFFFFF00, step: 0x200}
	tick := NewSystick(cfg)

	tick.Update()
	if got := tick.Stats().LastUS; got != 0x200 {
		t.Errorf("Expected %d across wrap, got %d", 0x200, got)
	}
}

func TestSystickBeginStop(t *testing.T) {
	log := &callLog{}
	cfg := newLoggedSystick(log, &fakeSensors{log: log}, &fakeMotors{log: log})
	ring := NewTimingRing(nil)
	cfg.Ring = ring
	tick := NewSystick(cfg)
	source := &fakeTickSource{}

	if err := tick.Begin(source); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !tick.Running() {
		t.Error("Expected running after Begin")
	}
	if err := tick.Begin(source); !errors.Is(err, ErrTickRunning) {
		t.Errorf("Expected ErrTickRunning, got %v", err)
	}

	source.handler()
	source.handler()

	tick.Stop()
	if !source.stopped || tick.Running() {
		t.Error("Expected tick source stopped")
	}
	tick.Stop()

	var types []uint8
	for _, evt := range ring.Events(nil) {
		types = append(types, evt.EventType)
	}
	if diff := cmp.Diff([]uint8{EvtTickStarted, EvtTickStopped}, types); diff != "" {
		t.Errorf("Event mismatch (-want +got):\n%s", diff)
	}
	if got := ring.Events(nil)[1].Value1; got != 2 {
		t.Errorf("Expected stop event at tick 2, got %d", got)
	}
}

func TestSystickBeginError(t *testing.T) {
	tick := NewSystick(SystickConfig{})
	if err := tick.Begin(&fakeTickSource{startErr: errors.New("no timer")}); err == nil {
		t.Fatal("Expected Begin to fail")
	}
	if tick.Running() {
		t.Error("Tick running after failed Begin")
	}
}

// idle satisfies every collaborator interface with no behaviour.
type idle struct{}

func (idle) Update()                        {}
func (idle) BatteryComp() float32           { return 1 }
func (idle) SteeringFeedback() float32      { return 0 }
func (idle) SetBatteryCompensation(float32) {}
func (idle) UpdateControllers(float32)      {}

func TestSystickDrivesCore(t *testing.T) {
	odo := NewOdometry(testOdometryConfig())
	acq, conv := newTestAcquisition(t)
	tick := NewSystick(SystickConfig{
		Odometry: odo,
		Forward:  idle{},
		Rotation: idle{},
		Sensors:  idle{},
		Switches: idle{},
		Motors:   idle{},
		ADC:      acq,
	})

	var left, right quadrature
	for i := 0; i < 10; i++ {
		odo.LeftInputChange(left.step(true))
		odo.RightInputChange(right.step(true))
	}
	tick.Update()
	completeCycle(t, acq, conv)

	if got := odo.Distance(); got != 10 {
		t.Errorf("Expected distance 10, got %f", got)
	}
	if got := acq.Cycles(); got != 1 {
		t.Errorf("Expected 1 acquisition cycle, got %d", got)
	}

	// A tick arriving before the cycle finishes restarts it.
	tick.Update()
	acq.HandleCompletion()
	tick.Update()
	if got := acq.Overruns(); got != 1 {
		t.Errorf("Expected 1 overrun, got %d", got)
	}
}
