//go:build !tinygo

package protocol

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// DefaultAckTimeout bounds how long SendCommand waits for the robot.
const DefaultAckTimeout = 2 * time.Second

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrAckTimeout      = errors.New("ACK timeout")
)

// Frame is one frame received by the host.
type Frame struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Between header and trailer
	CRC      uint16
}

// HostStats counts frames seen by the host.
type HostStats struct {
	Frames       uint32
	Acks         uint32
	DecodeErrors uint32
	Dropped      uint32 // Telemetry messages discarded on a full channel
}

// HostTransport is the host end of the link. It sends commands and waits for
// their ACK while decoding telemetry in the background.
type HostTransport struct {
	port  io.ReadWriteCloser
	clock clock.Clock

	currentSeq   uint32 // Sequence of the next command
	synchronized uint32

	input     *FifoBuffer
	acks      chan *Frame
	telemetry chan Message
	handler   func(Message)

	sendMu sync.Mutex // One command in flight

	frames       uint32
	ackCount     uint32
	decodeErrors uint32
	dropped      uint32
	readErr      atomic.Value

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port. clk times ACK waits; nil means
// the wall clock.
func NewHostTransport(port io.ReadWriteCloser, clk clock.Clock) *HostTransport {
	if clk == nil {
		clk = clock.New()
	}
	t := &HostTransport{
		port:         port,
		clock:        clk,
		currentSeq:   MessageDest,
		synchronized: 1,
		input:        NewFifoBuffer(MessageMax),
		acks:         make(chan *Frame, 4),
		telemetry:    make(chan Message, 64),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SetTelemetryHandler routes decoded telemetry to fn instead of the
// Telemetry channel. fn runs on the read goroutine. Set it before the robot
// starts sending.
func (t *HostTransport) SetTelemetryHandler(fn func(Message)) {
	t.handler = fn
}

// Telemetry returns decoded robot messages. The oldest are dropped when the
// reader falls behind.
func (t *HostTransport) Telemetry() <-chan Message {
	return t.telemetry
}

// SendCommand sends m and waits for the robot to acknowledge it.
func (t *HostTransport) SendCommand(m Message) error {
	return t.SendCommandWithTimeout(m, DefaultAckTimeout)
}

func (t *HostTransport) SendCommandWithTimeout(m Message, timeout time.Duration) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	seq := uint8(atomic.LoadUint32(&t.currentSeq))
	frame, err := buildFrame(seq, m)
	if err != nil {
		return errors.Wrapf(err, "build command %d", m.ID())
	}

	// Stale ACKs from before this command carry nothing useful.
	for len(t.acks) > 0 {
		<-t.acks
	}

	if _, err := t.port.Write(frame); err != nil {
		return errors.Wrapf(err, "write command %d", m.ID())
	}
	if err := t.waitForAck(nextSeq(seq), timeout); err != nil {
		return errors.Wrapf(err, "command %d", m.ID())
	}
	atomic.StoreUint32(&t.currentSeq, uint32(nextSeq(seq)))
	return nil
}

// buildFrame encodes one command frame.
func buildFrame(seq uint8, m Message) ([]byte, error) {
	out := NewScratchOutput()
	out.Output([]byte{0, seq})
	Encode(out, m)

	n := out.CurPosition() + MessageTrailerSize
	if n > MessageLengthMax || out.Overflowed() {
		return nil, errors.Errorf("frame too long: %d bytes (max %d)", n, MessageLengthMax)
	}
	out.Update(MessagePositionLen, uint8(n))
	appendTrailer(out, out.Result())

	frame := make([]byte, out.CurPosition())
	copy(frame, out.Result())
	return frame, nil
}

// waitForAck waits for an ACK naming want as the next expected sequence.
// ACKs sent while the robot resynchronises name the old sequence and are
// skipped.
func (t *HostTransport) waitForAck(want uint8, timeout time.Duration) error {
	timer := t.clock.Timer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence == want {
				return nil
			}
		case <-timer.C:
			return errors.Wrapf(ErrAckTimeout, "after %v", timeout)
		case <-t.done:
			return t.closedErr()
		}
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.process(buf[:n])
		}

		select {
		case <-t.stop:
			return
		default:
		}

		if err == io.EOF {
			// Serial reads time out with EOF.
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			t.readErr.Store(err)
			return
		}
	}
}

// process feeds received bytes through the frame parser, a chunk at a time
// when more arrives than the ring holds.
func (t *HostTransport) process(data []byte) {
	for len(data) > 0 {
		n := t.input.Write(data)
		data = data[n:]
		t.parse()
		if t.input.Free() == 0 {
			// Nothing parseable in a full ring.
			t.input.Reset()
		}
	}
}

func (t *HostTransport) parse() {
	data := t.input.Data()

	for len(data) > 0 {
		if !t.isSynchronized() {
			i := 0
			for i < len(data) && data[i] != MessageValueSync {
				i++
			}
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			t.setSynchronized(true)
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}
		msgLen := frameLength(data)
		if msgLen == 0 {
			t.setSynchronized(false)
			continue
		}
		if len(data) < msgLen {
			break
		}
		if !frameValid(data[:msgLen]) {
			t.setSynchronized(false)
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, data[MessageHeaderSize:msgLen-MessageTrailerSize])
		frame := &Frame{
			Length:   data[MessagePositionLen],
			Sequence: data[MessagePositionSeq],
			Payload:  payload,
			CRC:      uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1]),
		}
		data = data[msgLen:]
		t.dispatch(frame)
	}

	if consumed := t.input.Available() - len(data); consumed > 0 {
		t.input.Pop(consumed)
	}
}

func (t *HostTransport) dispatch(frame *Frame) {
	atomic.AddUint32(&t.frames, 1)

	if len(frame.Payload) == 0 {
		atomic.AddUint32(&t.ackCount, 1)
		select {
		case t.acks <- frame:
		default:
		}
		return
	}

	// A frame may carry several messages back to back.
	payload := frame.Payload
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			atomic.AddUint32(&t.decodeErrors, 1)
			return
		}
		m, err := DecodeBody(uint16(id), &payload)
		if err != nil {
			atomic.AddUint32(&t.decodeErrors, 1)
			return
		}
		t.deliver(m)
	}
}

func (t *HostTransport) deliver(m Message) {
	if t.handler != nil {
		t.handler(m)
		return
	}
	for {
		select {
		case t.telemetry <- m:
			return
		default:
		}
		select {
		case <-t.telemetry:
			atomic.AddUint32(&t.dropped, 1)
		default:
		}
	}
}

// Stats returns frame counters.
func (t *HostTransport) Stats() HostStats {
	return HostStats{
		Frames:       atomic.LoadUint32(&t.frames),
		Acks:         atomic.LoadUint32(&t.ackCount),
		DecodeErrors: atomic.LoadUint32(&t.decodeErrors),
		Dropped:      atomic.LoadUint32(&t.dropped),
	}
}

// Err returns the error that stopped the reader, if any.
func (t *HostTransport) Err() error {
	err, _ := t.readErr.Load().(error)
	return err
}

func (t *HostTransport) closedErr() error {
	if err := t.Err(); err != nil {
		return errors.Wrap(err, "read")
	}
	return ErrTransportClosed
}

// Done is closed once the reader has stopped.
func (t *HostTransport) Done() <-chan struct{} {
	return t.done
}

// Close closes the port and waits for the reader to stop.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

// Sequence returns the sequence the next command will carry.
func (t *HostTransport) Sequence() uint8 {
	return uint8(atomic.LoadUint32(&t.currentSeq))
}

func (t *HostTransport) isSynchronized() bool {
	return atomic.LoadUint32(&t.synchronized) != 0
}

func (t *HostTransport) setSynchronized(val bool) {
	var v uint32
	if val {
		v = 1
	}
	atomic.StoreUint32(&t.synchronized, v)
}
