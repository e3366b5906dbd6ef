// Command mazerunner-monitor logs the telemetry of a robot on a serial link
// and optionally sends it a command first.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mazerunner/host/logging"
	"mazerunner/host/monitor"
	"mazerunner/host/serial"
	"mazerunner/protocol"
)

var (
	port     = flag.String("port", "/dev/ttyACM0", "Serial device path")
	baud     = flag.Int("baud", 115200, "Baud rate (ignored for USB CDC)")
	emitters = flag.String("emitters", "", "Set emitters \"on\" or \"off\" before monitoring")
	reset    = flag.Bool("reset", false, "Reset odometry before monitoring")
	interval = flag.Int("interval", -1, "Ticks between reports, 0 to stop (default: leave unchanged)")
	quiet    = flag.Bool("quiet", false, "Send commands and exit without monitoring")
	debug    = flag.Bool("debug", false, "Enable debug logging")
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
		logger.Errorw("monitor failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *zap.SugaredLogger) error {
	cfg := serial.DefaultConfig(*port)
	cfg.Baud = *baud

	mon, err := monitor.Connect(cfg, logger)
	if err != nil {
		return err
	}
	defer mon.Close()
	logger.Infow("connected", "port", cfg.Device, "protocol", protocol.Version)

	if err := sendCommands(mon, logger); err != nil {
		return err
	}
	if *quiet {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = mon.Run(ctx, mon.Log)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := mon.Stats()
	logger.Infow("disconnected",
		"messages", mon.Snapshot().Received,
		"frames", stats.Frames,
		"decode_errors", stats.DecodeErrors,
		"dropped", stats.Dropped)
	return err
}

func sendCommands(mon *monitor.Monitor, logger *zap.SugaredLogger) error {
	switch *emitters {
	case "":
	case "on", "off":
		if err := mon.SetEmitters(*emitters == "on"); err != nil {
			return errors.Wrap(err, "setting emitters")
		}
		logger.Infow("emitters set", "state", *emitters)
	default:
		return errors.Errorf("-emitters must be on or off, not %q", *emitters)
	}

	if *reset {
		if err := mon.ResetOdometry(); err != nil {
			return errors.Wrap(err, "resetting odometry")
		}
		logger.Info("odometry reset")
	}

	if *interval >= 0 {
		if err := mon.SetReportInterval(uint32(*interval)); err != nil {
			return errors.Wrap(err, "setting report interval")
		}
		logger.Infow("report interval set", "ticks", *interval)
	}
	return nil
}
