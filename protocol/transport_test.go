//go:build !tinygo

package protocol

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func mustFrame(t *testing.T, seq uint8, m Message) []byte {
	t.Helper()
	frame, err := buildFrame(seq, m)
	if err != nil {
		t.Fatalf("buildFrame failed: %v", err)
	}
	return frame
}

// recorder collects the commands a Transport dispatches.
type recorder struct {
	got []Message
}

func (r *recorder) handle(m Message) error {
	r.got = append(r.got, m)
	return nil
}

func checkAck(t *testing.T, out *ScratchOutput, seq uint8) {
	t.Helper()
	ack := out.Result()
	if len(ack) != MessageLengthMin {
		t.Fatalf("Expected a %d byte ACK, got %v", MessageLengthMin, ack)
	}
	if !frameValid(ack) {
		t.Errorf("ACK %v fails its CRC", ack)
	}
	if ack[MessagePositionSeq] != seq {
		t.Errorf("Expected ACK sequence 0x%02X, got 0x%02X", seq, ack[MessagePositionSeq])
	}
}

func TestTransportDispatchesAndAcks(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	frame := mustFrame(t, MessageDest, SetEmitters{Enabled: true})
	tr.Receive(NewSliceInputBuffer(frame))
	checkAck(t, out, MessageDest+1)

	// A retransmission is acknowledged but not run again.
	out.Reset()
	tr.Receive(NewSliceInputBuffer(frame))
	checkAck(t, out, MessageDest+1)

	if diff := cmp.Diff([]Message{SetEmitters{Enabled: true}}, rec.got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
	if stats := tr.Stats(); stats.Frames != 1 {
		t.Errorf("Expected 1 accepted frame, got %d", stats.Frames)
	}
}

func TestTransportPartialFrame(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	frame := mustFrame(t, MessageDest, SetReportInterval{Ticks: 20})
	fifo := NewFifoBuffer(MessageMax)

	fifo.Write(frame[:3])
	tr.Receive(fifo)
	if fifo.Available() != 3 {
		t.Fatalf("Partial frame consumed: %d bytes left", fifo.Available())
	}
	if len(rec.got) != 0 {
		t.Fatal("Partial frame dispatched")
	}

	fifo.Write(frame[3:])
	tr.Receive(fifo)
	if !fifo.IsEmpty() {
		t.Errorf("Expected empty input, %d bytes left", fifo.Available())
	}
	if diff := cmp.Diff([]Message{SetReportInterval{Ticks: 20}}, rec.got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportResynchronises(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	input := []byte{0x01, 0x02, 0x03, MessageValueSync}
	input = append(input, mustFrame(t, MessageDest, ResetOdometry{})...)
	tr.Receive(NewSliceInputBuffer(input))

	if diff := cmp.Diff([]Message{ResetOdometry{}}, rec.got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
	if stats := tr.Stats(); stats.Dropped != 3 {
		t.Errorf("Expected 3 dropped bytes, got %d", stats.Dropped)
	}
}

func TestTransportHostRestart(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, SetEmitters{})))
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest+1, SetEmitters{Enabled: true})))

	// The host reopened the link and starts over.
	out.Reset()
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, ResetOdometry{})))
	checkAck(t, out, MessageDest+1)

	if resets != 1 {
		t.Errorf("Expected 1 reset callback, got %d", resets)
	}
	if len(rec.got) != 3 {
		t.Errorf("Expected 3 commands, got %d", len(rec.got))
	}
}

func TestTransportResentFirstFrame(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	resets := 0
	tr.SetResetCallback(func() { resets++ })

	// The ACK for the first frame was lost, so the host sends it again.
	frame := mustFrame(t, MessageDest, ResetOdometry{})
	tr.Receive(NewSliceInputBuffer(frame))
	out.Reset()
	tr.Receive(NewSliceInputBuffer(frame))
	checkAck(t, out, MessageDest+1)

	if resets != 0 {
		t.Errorf("Resend taken for a host restart: %d reset callbacks", resets)
	}
	if diff := cmp.Diff([]Message{ResetOdometry{}}, rec.got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportRestartAfterOneFrame(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	resets := 0
	tr.SetResetCallback(func() { resets++ })

	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, SetEmitters{Enabled: true})))
	tr.Receive(NewSliceInputBuffer(mustFrame(t, MessageDest, SetReportInterval{Ticks: 5})))

	if resets != 1 {
		t.Errorf("Expected 1 reset callback, got %d", resets)
	}
	want := []Message{SetEmitters{Enabled: true}, SetReportInterval{Ticks: 5}}
	if diff := cmp.Diff(want, rec.got); diff != "" {
		t.Errorf("Commands mismatch (-want +got):\n%s", diff)
	}
}

func TestTransportUnknownCommand(t *testing.T) {
	out := NewScratchOutput()
	rec := &recorder{}
	tr := NewTransport(out, Dispatch(rec.handle))

	frame := mustFrame(t, MessageDest, unknownMessage{})
	tr.Receive(NewSliceInputBuffer(frame))

	checkAck(t, out, MessageDest+1)
	if tr.LastError() != ErrUnknownMessage {
		t.Errorf("Expected ErrUnknownMessage, got %v", tr.LastError())
	}
	if stats := tr.Stats(); stats.Errors != 1 {
		t.Errorf("Expected 1 error, got %d", stats.Errors)
	}
}

type unknownMessage struct{}

func (unknownMessage) ID() uint16 { return 99 }

func (unknownMessage) encode(OutputBuffer) {}

func TestEncodeFrame(t *testing.T) {
	out := NewScratchOutput()
	tr := NewTransport(out, nil)

	tr.Send(Timing{Ticks: 3, LastUS: 100, MaxUS: 200})
	frame := out.Result()

	if n := frameLength(frame); n != len(frame) {
		t.Fatalf("Length byte %d, frame is %d bytes", n, len(frame))
	}
	if !frameValid(frame) {
		t.Fatal("Encoded frame fails validation")
	}
	got, err := Decode(frame[MessageHeaderSize : len(frame)-MessageTrailerSize])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(Timing{Ticks: 3, LastUS: 100, MaxUS: 200}, got); diff != "" {
		t.Errorf("Timing mismatch (-want +got):\n%s", diff)
	}
}

// robotEnd runs a firmware Transport over one end of a pipe.
func robotEnd(t *testing.T, conn net.Conn, cmds chan<- Message) *Transport {
	t.Helper()
	out := NewScratchOutput()
	tr := NewTransport(out, Dispatch(func(m Message) error {
		cmds <- m
		return nil
	}))
	tr.SetFlushCallback(func() {
		conn.Write(out.Result())
		out.Reset()
	})

	go func() {
		buf := make([]byte, 64)
		fifo := NewFifoBuffer(MessageMax)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			fifo.Write(buf[:n])
			tr.Receive(fifo)
		}
	}()
	return tr
}

func TestHostTransportRoundTrip(t *testing.T) {
	robotConn, hostConn := net.Pipe()
	defer robotConn.Close()

	cmds := make(chan Message, 4)
	robot := robotEnd(t, robotConn, cmds)
	host := NewHostTransport(hostConn, nil)
	defer host.Close()

	if err := host.SendCommand(SetReportInterval{Ticks: 5}); err != nil {
		t.Fatalf("SendCommand failed: %v", err)
	}
	if err := host.SendCommand(SetEmitters{Enabled: true}); err != nil {
		t.Fatalf("Second SendCommand failed: %v", err)
	}
	if host.Sequence() != MessageDest+2 {
		t.Errorf("Expected sequence 0x12, got 0x%02X", host.Sequence())
	}

	want := []Message{SetReportInterval{Ticks: 5}, SetEmitters{Enabled: true}}
	for i, w := range want {
		select {
		case got := <-cmds:
			if diff := cmp.Diff(w, got); diff != "" {
				t.Errorf("Command %d mismatch (-want +got):\n%s", i, diff)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Command %d never dispatched", i)
		}
	}

	// Two messages sharing a frame arrive separately.
	robot.EncodeFrame(func(out OutputBuffer) {
		Encode(out, Odometry{Tick: 7, Distance: 12.5, LeftCount: 3, RightCount: 4})
		Encode(out, Timing{Ticks: 7, LastUS: 90})
	})
	robot.Flush()

	wantTelemetry := []Message{
		Odometry{Tick: 7, Distance: 12.5, LeftCount: 3, RightCount: 4},
		Timing{Ticks: 7, LastUS: 90},
	}
	for i, w := range wantTelemetry {
		select {
		case got := <-host.Telemetry():
			if diff := cmp.Diff(w, got); diff != "" {
				t.Errorf("Telemetry %d mismatch (-want +got):\n%s", i, diff)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Telemetry %d never arrived", i)
		}
	}
}

// silentPort accepts writes and never answers.
type silentPort struct {
	closed chan struct{}
}

func (p *silentPort) Read([]byte) (int, error) {
	<-p.closed
	return 0, io.ErrClosedPipe
}

func (p *silentPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *silentPort) Close() error {
	close(p.closed)
	return nil
}

func TestHostTransportAckTimeout(t *testing.T) {
	mock := clock.NewMock()
	host := NewHostTransport(&silentPort{closed: make(chan struct{})}, mock)

	result := make(chan error, 1)
	go func() {
		result <- host.SendCommandWithTimeout(ResetOdometry{}, time.Second)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case err := <-result:
			if errors.Cause(err) != ErrAckTimeout {
				t.Errorf("Expected ErrAckTimeout, got %v", err)
			}
			if host.Sequence() != MessageDest {
				t.Errorf("Sequence advanced without an ACK: 0x%02X", host.Sequence())
			}
			if err := host.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
			return
		case <-deadline:
			t.Fatal("SendCommand never timed out")
		default:
			mock.Add(500 * time.Millisecond)
			time.Sleep(time.Millisecond)
		}
	}
}

func TestHostTransportClosed(t *testing.T) {
	host := NewHostTransport(&silentPort{closed: make(chan struct{})}, nil)
	if err := host.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close is idempotent.
	if err := host.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	select {
	case <-host.Done():
	default:
		t.Error("Reader still running after Close")
	}
	if err := host.SendCommand(ResetOdometry{}); errors.Cause(err) != ErrTransportClosed {
		t.Errorf("Expected ErrTransportClosed, got %v", err)
	}
}
