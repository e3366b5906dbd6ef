// Package link connects the control core to the telemetry protocol on the
// robot: it answers host commands and reports the pose, sensor readings and
// tick timing from task context.
package link

import (
	"mazerunner/core"
	"mazerunner/protocol"
)

// Config names the core parts the link reads and drives.
type Config struct {
	Odometry    *core.Odometry
	Acquisition *core.Acquisition
	Systick     *core.Systick

	// Interval is the number of ticks between reports; 0 waits for the host
	// to ask.
	Interval uint32

	// ResetOdometry zeroes the pose. It is supplied by whoever owns the
	// tick, since the tick has to be stopped around the reset.
	ResetOdometry func() error
}

// Link is the robot end of the telemetry connection.
type Link struct {
	cfg       Config
	transport *protocol.Transport
	reporter  *protocol.Reporter
	results   []uint16
}

// New builds a link that writes frames to output.
func New(output protocol.OutputBuffer, cfg Config) *Link {
	l := &Link{
		cfg:     cfg,
		results: make([]uint16, 0, core.MaxSteps),
	}
	l.transport = protocol.NewTransport(output, protocol.Dispatch(l.handle))
	l.reporter = protocol.NewReporter(l.transport, cfg.Interval)
	return l
}

// Transport returns the underlying transport, for setting callbacks.
func (l *Link) Transport() *protocol.Transport {
	return l.transport
}

// Receive runs any complete host commands in input.
func (l *Link) Receive(input protocol.InputBuffer) {
	l.transport.Receive(input)
}

// Interval returns the current report interval in ticks.
func (l *Link) Interval() uint32 {
	return l.reporter.Interval()
}

func (l *Link) handle(m protocol.Message) error {
	switch v := m.(type) {
	case protocol.SetEmitters:
		l.cfg.Acquisition.SetEmittersEnabled(v.Enabled)
	case protocol.ResetOdometry:
		if l.cfg.ResetOdometry == nil {
			return nil
		}
		return l.cfg.ResetOdometry()
	case protocol.SetReportInterval:
		l.reporter.SetInterval(v.Ticks)
	default:
		return protocol.ErrUnknownMessage
	}
	return nil
}

// Poll sends a report if one is due and reports whether it did. Call it from
// the main loop, never from the tick.
func (l *Link) Poll() bool {
	stats := l.cfg.Systick.Stats()
	if !l.reporter.Due(stats.Ticks) {
		return false
	}
	l.reporter.Send(l.odometry(stats.Ticks), l.sensors(), timing(stats))
	return true
}

func (l *Link) odometry(tick uint32) protocol.Odometry {
	o := l.cfg.Odometry
	pose := o.Pose()
	left, right := o.Counts()
	return protocol.Odometry{
		Tick:       tick,
		Distance:   pose.Distance,
		Angle:      pose.Angle,
		Speed:      o.Speed(),
		Omega:      o.Omega(),
		LeftCount:  int32(left),
		RightCount: int32(right),
	}
}

func (l *Link) sensors() protocol.Sensors {
	a := l.cfg.Acquisition
	l.results = a.Results(l.results[:0])
	return protocol.Sensors{
		Cycles:   a.Cycles(),
		Overruns: a.Overruns(),
		Results:  l.results,
	}
}

func timing(stats core.TickStats) protocol.Timing {
	return protocol.Timing{
		Ticks:     stats.Ticks,
		LastUS:    stats.LastUS,
		MaxUS:     stats.MaxUS,
		LateTicks: stats.LateTicks,
	}
}
