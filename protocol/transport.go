package protocol

import (
	"sync"
	"sync/atomic"
)

// CommandHandler handles one command from the host. data holds the rest of
// the frame; the handler consumes its arguments from the front.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the robot end of the link. It parses and acknowledges host
// frames and encodes telemetry frames into an OutputBuffer.
type Transport struct {
	synchronized uint32 // 0 or 1
	nextSequence uint32 // Sequence expected from the host

	// Last accepted frame, to tell a resend from a host restart. Only
	// touched by Receive.
	lastSeq uint8
	lastCRC uint16

	mu      sync.Mutex // Guards output
	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()

	frames  uint32
	errors  uint32
	dropped uint32
	lastErr atomic.Value
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		synchronized: 1,
		nextSequence: MessageDest,
		output:       output,
		handler:      handler,
	}
}

// Receive parses every complete frame in input and pops what it consumed. A
// trailing partial frame is left for the next call.
func (t *Transport) Receive(input InputBuffer) {
	data := input.Data()

	for len(data) > 0 {
		if !t.isSynchronized() {
			// Drop everything up to the next sync byte.
			i := 0
			for i < len(data) && data[i] != MessageValueSync {
				i++
			}
			if i == len(data) {
				atomic.AddUint32(&t.dropped, uint32(len(data)))
				data = nil
				break
			}
			atomic.AddUint32(&t.dropped, uint32(i))
			data = data[i+1:]
			t.setSynchronized(true)
			t.encodeAckNak()
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

		seq := data[MessagePositionSeq]
		crc := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
		frame := data[MessageHeaderSize : msgLen-MessageTrailerSize]
		data = data[msgLen:]

		expected := uint8(atomic.LoadUint32(&t.nextSequence))
		resend := seq == t.lastSeq && crc == t.lastCRC
		if seq == MessageDest && expected != MessageDest && !resend {
			// The host restarted its sequence.
			atomic.StoreUint32(&t.nextSequence, MessageDest)
			expected = MessageDest
			if t.resetCallback != nil {
				t.resetCallback()
			}
		}

		// A repeated frame is acknowledged again but not run twice.
		if seq == expected {
			t.lastSeq, t.lastCRC = seq, crc
			atomic.StoreUint32(&t.nextSequence, uint32(nextSeq(seq)))
			atomic.AddUint32(&t.frames, 1)
			if err := t.parseFrame(frame); err != nil {
				atomic.AddUint32(&t.errors, 1)
				t.lastErr.Store(err)
			}
		}
		t.encodeAckNak()
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

// parseFrame runs every command in a frame.
func (t *Transport) parseFrame(frame []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.setSynchronized(false)
			err = ErrInvalidVLQ
		}
	}()

	for len(frame) > 0 {
		cmdID, err := DecodeVLQUint(&frame)
		if err != nil {
			t.setSynchronized(false)
			return err
		}
		if t.handler == nil {
			return nil
		}
		if err := t.handler(uint16(cmdID), &frame); err != nil {
			return err
		}
	}
	return nil
}

// encodeAckNak sends an empty frame carrying the next expected sequence.
func (t *Transport) encodeAckNak() {
	t.mu.Lock()
	defer t.mu.Unlock()

	ack := [MessageLengthMin]byte{MessageLengthMin, uint8(atomic.LoadUint32(&t.nextSequence))}
	crc := CRC16(ack[:MessageHeaderSize])
	ack[2] = uint8(crc >> 8)
	ack[3] = uint8(crc)
	ack[4] = MessageValueSync
	t.output.Output(ack[:])
	t.flush()
}

// EncodeFrame builds one frame around the payload written by frameData.
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cursor := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(atomic.LoadUint32(&t.nextSequence))})
	frameData(t.output)

	length := len(t.output.DataSince(cursor)) + MessageTrailerSize
	t.output.Update(cursor+MessagePositionLen, uint8(length))
	appendTrailer(t.output, t.output.DataSince(cursor))
}

// Send encodes a message in its own frame.
func (t *Transport) Send(m Message) {
	t.EncodeFrame(func(output OutputBuffer) {
		Encode(output, m)
	})
}

// Flush hands the buffered output to the flush callback.
func (t *Transport) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flush()
}

func (t *Transport) flush() {
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// Reset forgets the host sequence, as after a reconnect.
func (t *Transport) Reset() {
	atomic.StoreUint32(&t.synchronized, 1)
	atomic.StoreUint32(&t.nextSequence, MessageDest)
	t.lastSeq, t.lastCRC = 0, 0
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback is called when the host restarts its sequence.
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback is called, with the output locked, after every ACK and on
// Flush. It should write out and reset the output buffer, and must not call
// back into the Transport.
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// TransportStats counts link activity.
type TransportStats struct {
	Frames  uint32 // Host frames accepted
	Errors  uint32 // Frames whose commands failed
	Dropped uint32 // Bytes discarded while resynchronising
}

func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Frames:  atomic.LoadUint32(&t.frames),
		Errors:  atomic.LoadUint32(&t.errors),
		Dropped: atomic.LoadUint32(&t.dropped),
	}
}

// LastError returns the last command error, or nil.
func (t *Transport) LastError() error {
	err, _ := t.lastErr.Load().(error)
	return err
}

func (t *Transport) isSynchronized() bool {
	return atomic.LoadUint32(&t.synchronized) != 0
}

func (t *Transport) setSynchronized(val bool) {
	var v uint32
	if val {
		v = 1
	}
	atomic.StoreUint32(&t.synchronized, v)
}

// Dispatch adapts fn into a CommandHandler that decodes each command before
// calling it. An unknown command stops the rest of its frame.
func Dispatch(fn func(Message) error) CommandHandler {
	return func(cmdID uint16, data *[]byte) error {
		m, err := DecodeBody(cmdID, data)
		if err != nil {
			return err
		}
		return fn(m)
	}
}
