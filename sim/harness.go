// Package sim runs the control core on the host against simulated hardware:
// quadrature wheels, a multiplexed converter with emitters and a
// clock-driven tick source.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mazerunner/collab"
	"mazerunner/config"
	"mazerunner/core"
)

var ErrRunning = errors.New("simulation is running")

// Harness composes the core with simulated hardware, in the same way the
// firmware composition root does with the real thing.
//
// Edges and completions are delivered straight to the interrupt handler
// methods, which take the core critical section themselves.
type Harness struct {
	Robot config.Robot

	Clock     clock.Clock
	Micros    *Clock
	Ring      *core.TimingRing
	Left      *Wheel
	Right     *Wheel
	Converter *Converter
	Ticker    *Ticker

	Odometry    *core.Odometry
	Acquisition *core.Acquisition
	Systick     *core.Systick

	Forward  *collab.IdleProfile
	Rotation *collab.IdleProfile
	Sensors  *collab.BatterySensors
	Switches *collab.SwitchLadder
	Motors   *collab.HeldMotors

	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHarness builds the core for a calibration. Nothing runs until Begin or
// Tick is called.
func NewHarness(robot config.Robot, clk clock.Clock, logger *zap.SugaredLogger) (*Harness, error) {
	if err := robot.Validate(); err != nil {
		return nil, errors.Wrap(err, "calibration")
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	h := &Harness{
		Robot:     robot,
		Clock:     clk,
		Micros:    NewClock(clk),
		Converter: NewConverter(),
		Forward:   &collab.IdleProfile{},
		Rotation:  &collab.IdleProfile{},
		Motors:    &collab.HeldMotors{},
		logger:    logger,
	}
	h.Ring = core.NewTimingRing(h.Micros)

	h.Odometry = core.NewOdometry(robot.OdometryConfig())
	h.Left = NewWheel(h.Odometry.LeftInputChange)
	h.Right = NewWheel(h.Odometry.RightInputChange)

	acq, err := core.NewAcquisition(h.Converter, robot.AcquisitionConfig())
	if err != nil {
		return nil, errors.Wrap(err, "acquisition")
	}
	acq.SetTimingRing(h.Ring)
	h.Acquisition = acq
	h.Converter.Attach(acq.HandleCompletion)

	h.Sensors = collab.NewBatterySensors(acq, collab.BatteryConfig{
		Sensor:        robot.Battery.Sensor,
		VoltsPerCount: robot.Battery.VoltsPerCount,
		NominalVolts:  robot.Battery.NominalVolts,
	})
	switches := robot.SensorIndex("switches")
	h.Switches = collab.NewSwitchLadder(acq, switches, MaxCount)

	h.Systick = core.NewSystick(core.SystickConfig{
		Odometry:      h.Odometry,
		Forward:       h.Forward,
		Rotation:      h.Rotation,
		Sensors:       h.Sensors,
		Switches:      h.Switches,
		Motors:        h.Motors,
		ADC:           acq,
		Clock:         h.Micros,
		Ring:          h.Ring,
		LoopFrequency: robot.LoopFrequency,
		BudgetPercent: robot.TickBudgetPercent,
	})
	h.Ticker = NewTicker(clk, robot.LoopFrequency)
	return h, nil
}

// Setup seeds the encoders from the wheel lines and starts the converter.
// It must run before the first tick.
func (h *Harness) Setup() error {
	h.Odometry.Left().Sync(h.Left.Levels())
	h.Odometry.Right().Sync(h.Right.Levels())

	if err := h.Acquisition.Begin(); err != nil {
		return errors.Wrap(err, "starting acquisition")
	}
	h.Acquisition.SetEmittersEnabled(h.Robot.EmittersEnabled)
	h.logger.Debugw("harness ready",
		"sensors", len(h.Robot.Sensors),
		"steps", len(h.Acquisition.Table()),
		"period", h.Ticker.Period())
	return nil
}

// Drive turns the wheels by the given number of edges, positive meaning the
// robot moves forward on that side whatever the encoder polarity.
func (h *Harness) Drive(leftEdges, rightEdges int) {
	h.Left.Move(leftEdges * int(h.Robot.Left.Polarity))
	h.Right.Move(rightEdges * int(h.Robot.Right.Polarity))
}

// Tick runs one control tick and then lets the converter finish the cycle
// it started, as if the conversions were instantaneous.
func (h *Harness) Tick() {
	h.Systick.Update()
	h.Converter.Complete(2 * core.MaxSteps)
}

// Begin runs the tick from the clock and completes conversions latency
// after they start, until Stop or ctx is cancelled.
func (h *Harness) Begin(ctx context.Context, latency time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return ErrRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.Converter.Run(ctx, h.Clock, latency)
	}()

	if err := h.Systick.Begin(h.Ticker); err != nil {
		cancel()
		h.wg.Wait()
		return errors.Wrap(err, "starting tick")
	}
	h.cancel = cancel
	h.logger.Infow("tick started", "frequency", h.Robot.LoopFrequency)
	return nil
}

// Stop detaches the tick and stops the converter.
func (h *Harness) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return
	}
	h.Systick.Stop()
	h.Acquisition.EndConversionCycle()
	h.cancel()
	h.wg.Wait()
	h.cancel = nil

	stats := h.Systick.Stats()
	h.logger.Infow("tick stopped",
		"ticks", stats.Ticks,
		"max_us", stats.MaxUS,
		"late", stats.LateTicks,
		"overruns", h.Acquisition.Overruns())
}

// Running reports whether the tick is attached.
func (h *Harness) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancel != nil
}

// ResetOdometry zeroes the pose. The tick must be stopped.
func (h *Harness) ResetOdometry() error {
	if h.Running() {
		return ErrRunning
	}
	h.Odometry.Reset()
	h.Ring.Record(core.EvtOdometryReset, h.Systick.Stats().Ticks, 0)
	return nil
}
