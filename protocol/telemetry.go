package protocol

import "errors"

// Message IDs. Telemetry flows from the robot, commands from the host.
const (
	MsgOdometry = 1
	MsgSensors  = 2
	MsgTiming   = 3

	CmdSetEmitters       = 16
	CmdResetOdometry     = 17
	CmdSetReportInterval = 18
)

// FixedScale is the fixed point scale used for real values on the wire.
const FixedScale = 100

// MaxResults bounds the results carried by one sensors message.
const MaxResults = 32

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrShortMessage   = errors.New("message truncated")
	ErrTooManyResults = errors.New("too many sensor results")
)

// Message is a decoded payload.
type Message interface {
	ID() uint16
	encode(out OutputBuffer)
}

// Odometry reports the robot pose.
type Odometry struct {
	Tick       uint32
	Distance   float32 // mm
	Angle      float32 // degrees
	Speed      float32 // mm/s
	Omega      float32 // degrees/s
	LeftCount  int32
	RightCount int32
}

// Sensors reports the last completed acquisition cycle in table order.
type Sensors struct {
	Cycles   uint32
	Overruns uint32
	Results  []uint16
}

// Timing reports control tick load.
type Timing struct {
	Ticks     uint32
	LastUS    uint32
	MaxUS     uint32
	LateTicks uint32
}

// SetEmitters enables or disables every emitter.
type SetEmitters struct {
	Enabled bool
}

// ResetOdometry zeroes the pose.
type ResetOdometry struct{}

// SetReportInterval changes how often telemetry is sent.
type SetReportInterval struct {
	Ticks uint32
}

func (Odometry) ID() uint16          { return MsgOdometry }
func (Sensors) ID() uint16           { return MsgSensors }
func (Timing) ID() uint16            { return MsgTiming }
func (SetEmitters) ID() uint16       { return CmdSetEmitters }
func (ResetOdometry) ID() uint16     { return CmdResetOdometry }
func (SetReportInterval) ID() uint16 { return CmdSetReportInterval }

func toFixed(v float32) int32 {
	if v < 0 {
		return int32(v*FixedScale - 0.5)
	}
	return int32(v*FixedScale + 0.5)
}

func fromFixed(v int32) float32 {
	return float32(v) / FixedScale
}

func (m Odometry) encode(out OutputBuffer) {
	EncodeVLQUint(out, m.Tick)
	EncodeVLQInt(out, toFixed(m.Distance))
	EncodeVLQInt(out, toFixed(m.Angle))
	EncodeVLQInt(out, toFixed(m.Speed))
	EncodeVLQInt(out, toFixed(m.Omega))
	EncodeVLQInt(out, m.LeftCount)
	EncodeVLQInt(out, m.RightCount)
}

func (m Sensors) encode(out OutputBuffer) {
	EncodeVLQUint(out, m.Cycles)
	EncodeVLQUint(out, m.Overruns)
	EncodeVLQUint(out, uint32(len(m.Results)))
	for _, v := range m.Results {
		EncodeVLQUint(out, uint32(v))
	}
}

func (m Timing) encode(out OutputBuffer) {
	EncodeVLQUint(out, m.Ticks)
	EncodeVLQUint(out, m.LastUS)
	EncodeVLQUint(out, m.MaxUS)
	EncodeVLQUint(out, m.LateTicks)
}

func (m SetEmitters) encode(out OutputBuffer) {
	EncodeVLQBool(out, m.Enabled)
}

func (ResetOdometry) encode(OutputBuffer) {}

func (m SetReportInterval) encode(out OutputBuffer) {
	EncodeVLQUint(out, m.Ticks)
}

// Encode writes a message: its ID followed by its fields.
func Encode(out OutputBuffer, m Message) {
	EncodeVLQUint(out, uint32(m.ID()))
	m.encode(out)
}

// Decode parses a complete payload.
func Decode(payload []byte) (Message, error) {
	id, err := DecodeVLQUint(&payload)
	if err != nil {
		return nil, ErrShortMessage
	}
	return DecodeBody(uint16(id), &payload)
}

// DecodeBody parses the fields of message id and advances data past them.
func DecodeBody(id uint16, data *[]byte) (Message, error) {
	d := decoder{data: data}
	switch id {
	case MsgOdometry:
		m := Odometry{
			Tick:     d.uint(),
			Distance: fromFixed(d.int()),
			Angle:    fromFixed(d.int()),
			Speed:    fromFixed(d.int()),
			Omega:    fromFixed(d.int()),
		}
		m.LeftCount = d.int()
		m.RightCount = d.int()
		return m, d.err
	case MsgSensors:
		m := Sensors{Cycles: d.uint(), Overruns: d.uint()}
		n := d.uint()
		if d.err != nil {
			return nil, d.err
		}
		if n > MaxResults {
			return nil, ErrTooManyResults
		}
		m.Results = make([]uint16, n)
		for i := range m.Results {
			m.Results[i] = uint16(d.uint())
		}
		return m, d.err
	case MsgTiming:
		m := Timing{Ticks: d.uint(), LastUS: d.uint(), MaxUS: d.uint(), LateTicks: d.uint()}
		return m, d.err
	case CmdSetEmitters:
		m := SetEmitters{Enabled: d.uint() != 0}
		return m, d.err
	case CmdResetOdometry:
		return ResetOdometry{}, nil
	case CmdSetReportInterval:
		m := SetReportInterval{Ticks: d.uint()}
		return m, d.err
	}
	return nil, ErrUnknownMessage
}

// decoder keeps the first error so field lists read straight through.
type decoder struct {
	data *[]byte
	err  error
}

func (d *decoder) int() int32 {
	if d.err != nil {
		return 0
	}
	v, err := DecodeVLQInt(d.data)
	if err != nil {
		d.err = ErrShortMessage
		if err == ErrInvalidVLQ {
			d.err = err
		}
	}
	return v
}

func (d *decoder) uint() uint32 {
	return uint32(d.int())
}
