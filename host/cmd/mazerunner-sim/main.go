// Command mazerunner-sim runs the control core on the host against
// simulated wheels and sensors, logging the pose as it goes.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mazerunner/config"
	"mazerunner/core"
	"mazerunner/host/logging"
	"mazerunner/host/monitor"
	"mazerunner/link"
	"mazerunner/protocol"
	"mazerunner/sim"
)

var (
	configPath = flag.String("config", "", "Robot calibration YAML (default: built-in)")
	duration   = flag.Duration("duration", 5*time.Second, "How long to run, 0 until interrupted")
	leftRate   = flag.Float64("left", 2000, "Left wheel edges per second, negative for reverse")
	rightRate  = flag.Float64("right", 2000, "Right wheel edges per second, negative for reverse")
	latency    = flag.Duration("latency", 20*time.Microsecond, "Simulated conversion time")
	report     = flag.Duration("report", 500*time.Millisecond, "Pose log period without -telemetry")
	telemetry  = flag.Bool("telemetry", false, "Report through the telemetry link to a host monitor")
	dumpConfig = flag.Bool("dump-config", false, "Print the calibration as YAML and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger, err := logging.NewLogger(*debug)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Errorw("simulation failed", "error", err)
		os.Exit(1)
	}
}

func loadRobot() (config.Robot, error) {
	if *configPath == "" {
		return config.Default(), nil
	}
	return config.Load(*configPath)
}

func run(logger *zap.SugaredLogger) error {
	robot, err := loadRobot()
	if err != nil {
		return err
	}
	if *dumpConfig {
		data, err := robot.Marshal()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	clk := clock.New()
	h, err := sim.NewHarness(robot, clk, logger)
	if err != nil {
		return err
	}
	furnish(h)
	if err := h.Setup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	go h.Left.Spin(ctx, clk, *leftRate*float64(robot.Left.Polarity))
	go h.Right.Spin(ctx, clk, *rightRate*float64(robot.Right.Polarity))

	if err := h.Begin(ctx, *latency); err != nil {
		return err
	}

	if *telemetry {
		err = serveTelemetry(ctx, h, logger)
	} else {
		logPose(ctx, h, logger)
	}
	h.Stop()

	h.Ring.Dump(func(line string) {
		logger.Debug(line)
	})
	pose := h.Odometry.Pose()
	logger.Infow("finished",
		"distance_mm", pose.Distance,
		"angle_deg", pose.Angle,
		"cycles", h.Acquisition.Cycles())
	return err
}

// furnish sets up a corridor: walls on both sides, open ahead, and a
// battery near nominal.
func furnish(h *sim.Harness) {
	robot := h.Robot
	for _, s := range robot.Sensors {
		h.Converter.SetAmbient(core.ChannelID(s.Channel), 40)
	}
	for _, name := range []string{"left_side", "right_side"} {
		i := robot.SensorIndex(name)
		if i < 0 {
			continue
		}
		s := robot.Sensors[i]
		h.Converter.SetReflection(core.EmitterPin(s.Emitter), core.ChannelID(s.Channel), 450)
	}
	if b := robot.Battery; b.Sensor >= 0 && b.Sensor < len(robot.Sensors) && b.VoltsPerCount > 0 {
		counts := b.NominalVolts / b.VoltsPerCount
		if counts > sim.MaxCount {
			counts = sim.MaxCount
		}
		h.Converter.SetAmbient(core.ChannelID(robot.Sensors[b.Sensor].Channel), uint16(counts))
	}
}

func logPose(ctx context.Context, h *sim.Harness, logger *zap.SugaredLogger) {
	ticker := h.Clock.Ticker(*report)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pose := h.Odometry.Pose()
			stats := h.Systick.Stats()
			logger.Infow("pose",
				"distance_mm", pose.Distance,
				"angle_deg", pose.Angle,
				"speed", h.Odometry.Speed(),
				"battery_v", h.Sensors.Volts(),
				"switches", h.Switches.Value(),
				"ticks", stats.Ticks,
				"max_us", stats.MaxUS)
		}
	}
}

// serveTelemetry runs the firmware link on one end of a pipe and a host
// monitor on the other, the way the robot and a laptop would talk over USB.
func serveTelemetry(ctx context.Context, h *sim.Harness, logger *zap.SugaredLogger) error {
	robotConn, hostConn := net.Pipe()
	defer robotConn.Close()

	out := protocol.NewScratchOutput()
	l := link.New(out, link.Config{
		Odometry:    h.Odometry,
		Acquisition: h.Acquisition,
		Systick:     h.Systick,
		Interval:    h.Robot.TelemetryInterval,
		ResetOdometry: func() error {
			h.Stop()
			if err := h.ResetOdometry(); err != nil {
				return err
			}
			return h.Begin(ctx, *latency)
		},
	})
	l.Transport().SetFlushCallback(func() {
		if _, err := robotConn.Write(out.Result()); err != nil {
			logger.Debugw("telemetry write failed", "error", err)
		}
		out.Reset()
	})

	go func() {
		buf := make([]byte, 64)
		fifo := protocol.NewFifoBuffer(protocol.MessageMax)
		for {
			n, err := robotConn.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			l.Receive(fifo)
		}
	}()

	mon := monitor.New(hostConn, h.Clock, logger)
	defer mon.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- mon.Run(ctx, mon.Log)
	}()

	// Mirror the firmware main loop, which polls the link between ticks.
	poll := h.Clock.Ticker(time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return errors.Wrap(err, "monitor")
		case <-poll.C:
			l.Poll()
		}
	}
}
