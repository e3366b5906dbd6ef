// Fixed-rate control tick
// Runs the time-critical control work once per period in a fixed order
package core

import "errors"

var ErrTickRunning = errors.New("systick already running")

// Updater is a collaborator updated once per tick, such as a motion
// profile or the switch reader.
type Updater interface {
	Update()
}

// SensorInterpreter turns the last completed acquisition cycle into the
// values the motor controllers need.
type SensorInterpreter interface {
	Update()
	BatteryComp() float32
	SteeringFeedback() float32
}

// MotorController runs the motor control loops.
type MotorController interface {
	SetBatteryCompensation(comp float32)
	UpdateControllers(steering float32)
}

// CycleStarter kicks off an acquisition cycle.
type CycleStarter interface {
	StartConversionCycle()
}

// SystickConfig wires the tick to its collaborators.
type SystickConfig struct {
	Odometry Updater
	Forward  Updater
	Rotation Updater
	Sensors  SensorInterpreter
	Switches Updater
	Motors   MotorController
	ADC      CycleStarter

	// Clock, when set, is used to measure the tick body.
	Clock Clock
	Ring  *TimingRing

	LoopFrequency float32 // Hz, defaults to LoopFrequency

	// BudgetPercent is the share of the period the body may use before the
	// tick is counted late. Defaults to 40.
	BudgetPercent uint32
}

// TickStats summarises tick timing.
type TickStats struct {
	Ticks      uint32 // Ticks run since Begin
	LastUS     uint32 // Duration of the last tick body
	MaxUS      uint32 // Longest tick body seen
	LateTicks  uint32 // Ticks whose body overran the budget
	PeriodUS   uint32
	BudgetUS   uint32
	LoadPermil uint32 // Last body duration as thousandths of the period
}

// Systick is the periodic control loop.
type Systick struct {
	cfg    SystickConfig
	source TickSource

	periodUS uint32
	budgetUS uint32

	stats TickStats
}

// NewSystick creates the control tick. It does not fire until Begin.
func NewSystick(cfg SystickConfig) *Systick {
	if cfg.LoopFrequency <= 0 {
		cfg.LoopFrequency = LoopFrequency
	}
	if cfg.BudgetPercent == 0 || cfg.BudgetPercent > 100 {
		cfg.BudgetPercent = 40
	}
	s := &Systick{cfg: cfg}
	s.periodUS = PeriodUS(cfg.LoopFrequency)
	s.budgetUS = s.periodUS * cfg.BudgetPercent / 100
	s.stats.PeriodUS = s.periodUS
	s.stats.BudgetUS = s.budgetUS
	return s
}

// Begin attaches Update to the tick source. Everything the tick touches must
// be set up first.
func (s *Systick) Begin(source TickSource) error {
	if s.source != nil {
		return ErrTickRunning
	}
	if err := source.Start(s.Update); err != nil {
		return err
	}
	s.source = source
	if s.cfg.Ring != nil {
		s.cfg.Ring.Record(EvtTickStarted, s.periodUS, 0)
	}
	return nil
}

// Stop detaches the tick. Odometry may be reset once it returns.
func (s *Systick) Stop() {
	if s.source == nil {
		return
	}
	s.source.Stop()
	s.source = nil
	if s.cfg.Ring != nil {
		s.cfg.Ring.Record(EvtTickStopped, s.Stats().Ticks, 0)
	}
}

// Running reports whether the tick is attached to a source.
func (s *Systick) Running() bool {
	return s.source != nil
}

// Update is the tick handler. Interrupts stay enabled while it runs so no
// encoder edge is lost; only the drain inside the odometry update holds them
// off, briefly.
//
// The order is fixed: each stage consumes what the previous stage produced
// this tick, and the acquisition cycle is started last so its results are
// ready for the next tick.
func (s *Systick) Update() {
	var start uint32
	if s.cfg.Clock != nil {
		start = s.cfg.Clock.Micros()
	}

	// grab the encoder values first because they will continue to change
	s.cfg.Odometry.Update()
	s.cfg.Forward.Update()
	s.cfg.Rotation.Update()
	s.cfg.Sensors.Update()
	s.cfg.Switches.Update()
	s.cfg.Motors.SetBatteryCompensation(s.cfg.Sensors.BatteryComp())
	s.cfg.Motors.UpdateControllers(s.cfg.Sensors.SteeringFeedback())
	s.cfg.ADC.StartConversionCycle()

	var elapsed uint32
	if s.cfg.Clock != nil {
		elapsed = elapsedUS(start, s.cfg.Clock.Micros())
	}
	s.account(elapsed)
}

func (s *Systick) account(elapsed uint32) {
	state := disableInterrupts()
	s.stats.Ticks++
	s.stats.LastUS = elapsed
	if elapsed > s.stats.MaxUS {
		s.stats.MaxUS = elapsed
	}
	if s.periodUS > 0 {
		s.stats.LoadPermil = elapsed * 1000 / s.periodUS
	}
	late := s.cfg.Clock != nil && elapsed > s.budgetUS
	if late {
		s.stats.LateTicks++
		if s.cfg.Ring != nil {
			s.cfg.Ring.record(EvtTickLate, elapsed, s.stats.Ticks)
		}
	}
	restoreInterrupts(state)
}

// Stats returns a snapshot of the tick timing.
func (s *Systick) Stats() TickStats {
	state := disableInterrupts()
	stats := s.stats
	restoreInterrupts(state)
	return stats
}

// ResetStats clears the maximum and late tick counters.
func (s *Systick) ResetStats() {
	state := disableInterrupts()
	s.stats.MaxUS = 0
	s.stats.LateTicks = 0
	restoreInterrupts(state)
}
