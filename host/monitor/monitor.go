// Package monitor talks to a running robot: it decodes the telemetry stream
// and sends the few commands the firmware accepts.
package monitor

import (
	"context"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"mazerunner/host/serial"
	"mazerunner/protocol"
)

// Snapshot is the latest telemetry of each kind.
type Snapshot struct {
	Odometry protocol.Odometry
	Sensors  protocol.Sensors
	Timing   protocol.Timing
	Received uint32 // Messages seen since connecting
}

// Monitor wraps a host transport to one robot.
type Monitor struct {
	transport *protocol.HostTransport
	logger    *zap.SugaredLogger

	mu   sync.Mutex
	last Snapshot
}

// New starts a monitor on an open link. clk times command ACKs; nil means
// the wall clock.
func New(port io.ReadWriteCloser, clk clock.Clock, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Monitor{
		transport: protocol.NewHostTransport(port, clk),
		logger:    logger,
	}
}

// Connect opens a serial device and starts a monitor on it.
func Connect(cfg serial.Config, logger *zap.SugaredLogger) (*Monitor, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to robot")
	}
	return New(port, nil, logger), nil
}

func (m *Monitor) Close() error {
	return m.transport.Close()
}

// Telemetry is the raw decoded stream. Use it or Run, not both.
func (m *Monitor) Telemetry() <-chan protocol.Message {
	return m.transport.Telemetry()
}

// Run records telemetry, passing each message to fn if it is not nil, until
// ctx is done or the link fails.
func (m *Monitor) Run(ctx context.Context, fn func(protocol.Message)) error {
	for {
		select {
		case msg := <-m.transport.Telemetry():
			m.record(msg)
			if fn != nil {
				fn(msg)
			}
		case <-m.transport.Done():
			if err := m.transport.Err(); err != nil {
				return errors.Wrap(err, "telemetry link")
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Monitor) record(msg protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last.Received++
	switch v := msg.(type) {
	case protocol.Odometry:
		m.last.Odometry = v
	case protocol.Sensors:
		m.last.Sensors = v
	case protocol.Timing:
		m.last.Timing = v
	default:
		m.logger.Warnw("unexpected message from robot", "id", msg.ID())
	}
}

// Snapshot returns the latest telemetry.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.last
	s.Sensors.Results = append([]uint16(nil), m.last.Sensors.Results...)
	return s
}

// Log writes one telemetry message to the monitor's logger.
func (m *Monitor) Log(msg protocol.Message) {
	switch v := msg.(type) {
	case protocol.Odometry:
		m.logger.Infow("odometry",
			"tick", v.Tick,
			"distance_mm", v.Distance,
			"angle_deg", v.Angle,
			"speed", v.Speed,
			"omega", v.Omega,
			"left", v.LeftCount,
			"right", v.RightCount)
	case protocol.Sensors:
		m.logger.Infow("sensors", "cycles", v.Cycles, "overruns", v.Overruns, "results", v.Results)
	case protocol.Timing:
		m.logger.Infow("timing", "ticks", v.Ticks, "last_us", v.LastUS, "max_us", v.MaxUS, "late", v.LateTicks)
	}
}

// SetEmitters turns the sensor emitters on or off.
func (m *Monitor) SetEmitters(enabled bool) error {
	return m.send(protocol.SetEmitters{Enabled: enabled})
}

// ResetOdometry zeroes the robot pose.
func (m *Monitor) ResetOdometry() error {
	return m.send(protocol.ResetOdometry{})
}

// SetReportInterval sets the ticks between reports; 0 stops telemetry.
func (m *Monitor) SetReportInterval(ticks uint32) error {
	return m.send(protocol.SetReportInterval{Ticks: ticks})
}

func (m *Monitor) send(cmd protocol.Message) error {
	if err := m.transport.SendCommand(cmd); err != nil {
		return err
	}
	m.logger.Debugw("command acknowledged", "id", cmd.ID(), "seq", m.transport.Sequence())
	return nil
}

// Stats returns link counters.
func (m *Monitor) Stats() protocol.HostStats {
	return m.transport.Stats()
}
