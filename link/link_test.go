package link

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"mazerunner/config"
	"mazerunner/protocol"
	"mazerunner/sim"
)

type testLink struct {
	*Link
	h    *sim.Harness
	sent []byte
}

func newTestLink(t *testing.T, interval uint32) *testLink {
	t.Helper()
	h, err := sim.NewHarness(config.Default(), clock.NewMock(), nil)
	if err != nil {
		t.Fatalf("NewHarness failed: %v", err)
	}
	h.Converter.SetAmbient(0, 40)
	h.Converter.SetReflection(14, 0, 300)
	if err := h.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	out := protocol.NewScratchOutput()
	tl := &testLink{h: h}
	tl.Link = New(out, Config{
		Odometry:      h.Odometry,
		Acquisition:   h.Acquisition,
		Systick:       h.Systick,
		Interval:      interval,
		ResetOdometry: h.ResetOdometry,
	})
	tl.Transport().SetFlushCallback(func() {
		tl.sent = append(tl.sent, out.Result()...)
		out.Reset()
	})
	return tl
}

// messages decodes and clears everything the link has sent, skipping ACKs.
func (tl *testLink) messages(t *testing.T) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	data := tl.sent
	for len(data) > 0 {
		n := int(data[protocol.MessagePositionLen])
		if n < protocol.MessageLengthMin || n > len(data) {
			t.Fatalf("Bad frame length %d with %d bytes left", n, len(data))
		}
		payload := data[protocol.MessageHeaderSize : n-protocol.MessageTrailerSize]
		for len(payload) > 0 {
			id, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				t.Fatalf("Bad message ID: %v", err)
			}
			m, err := protocol.DecodeBody(uint16(id), &payload)
			if err != nil {
				t.Fatalf("Bad message %d: %v", id, err)
			}
			msgs = append(msgs, m)
		}
		data = data[n:]
	}
	tl.sent = nil
	return msgs
}

// command frames a host command the way the host transport does.
func command(seq uint8, m protocol.Message) protocol.InputBuffer {
	out := protocol.NewScratchOutput()
	out.Output([]byte{0, seq})
	protocol.Encode(out, m)
	out.Update(protocol.MessagePositionLen, uint8(out.CurPosition()+protocol.MessageTrailerSize))
	crc := protocol.CRC16(out.Result())
	out.Output([]byte{uint8(crc >> 8), uint8(crc), protocol.MessageValueSync})
	return protocol.NewSliceInputBuffer(append([]byte(nil), out.Result()...))
}

func TestLinkReports(t *testing.T) {
	tl := newTestLink(t, 5)

	tl.h.Drive(100, 100)
	tl.h.Tick()

	if !tl.Poll() {
		t.Fatal("First poll should report")
	}
	msgs := tl.messages(t)
	if len(msgs) != 3 {
		t.Fatalf("Expected 3 messages, got %d: %v", len(msgs), msgs)
	}

	odo, ok := msgs[0].(protocol.Odometry)
	if !ok {
		t.Fatalf("Expected odometry first, got %T", msgs[0])
	}
	if odo.Tick != 1 || odo.LeftCount != 100 || odo.RightCount != 100 {
		t.Errorf("Unexpected odometry %+v", odo)
	}
	want := 100 * tl.h.Robot.Left.MMPerCount
	if d := odo.Distance - want; d > 0.01 || d < -0.01 {
		t.Errorf("Expected distance %.2f, got %.2f", want, odo.Distance)
	}

	sensors, ok := msgs[1].(protocol.Sensors)
	if !ok {
		t.Fatalf("Expected sensors second, got %T", msgs[1])
	}
	if len(sensors.Results) != len(tl.h.Acquisition.Table()) {
		t.Errorf("Expected %d results, got %d", len(tl.h.Acquisition.Table()), len(sensors.Results))
	}

	timing, ok := msgs[2].(protocol.Timing)
	if !ok {
		t.Fatalf("Expected timing third, got %T", msgs[2])
	}
	if timing.Ticks != 1 {
		t.Errorf("Expected 1 tick, got %d", timing.Ticks)
	}

	if tl.Poll() {
		t.Error("Report sent before the interval elapsed")
	}
	for i := 0; i < 5; i++ {
		tl.h.Tick()
	}
	if !tl.Poll() {
		t.Error("Report not sent after the interval")
	}
}

func TestLinkSensorResults(t *testing.T) {
	tl := newTestLink(t, 1)
	tl.h.Tick()
	tl.h.Tick()

	tl.Poll()
	msgs := tl.messages(t)
	sensors := msgs[1].(protocol.Sensors)

	want := tl.h.Acquisition.Results(nil)
	if diff := cmp.Diff(want, sensors.Results); diff != "" {
		t.Errorf("Results mismatch (-want +got):\n%s", diff)
	}
	if sensors.Cycles != tl.h.Acquisition.Cycles() {
		t.Errorf("Expected %d cycles, got %d", tl.h.Acquisition.Cycles(), sensors.Cycles)
	}
}

func TestLinkCommands(t *testing.T) {
	tl := newTestLink(t, 5)

	tl.Receive(command(protocol.MessageDest, protocol.SetEmitters{Enabled: false}))
	if tl.h.Acquisition.EmittersEnabled() {
		t.Error("Emitters still enabled")
	}

	tl.Receive(command(protocol.MessageDest+1, protocol.SetReportInterval{Ticks: 0}))
	if tl.Interval() != 0 {
		t.Errorf("Expected interval 0, got %d", tl.Interval())
	}
	tl.h.Tick()
	if tl.Poll() {
		t.Error("Reported with a zero interval")
	}

	tl.h.Drive(20, 20)
	tl.h.Tick()
	tl.Receive(command(protocol.MessageDest+2, protocol.ResetOdometry{}))
	if left, right := tl.h.Odometry.Counts(); left != 0 || right != 0 {
		t.Errorf("Expected counts cleared, got %d/%d", left, right)
	}

	if stats := tl.Transport().Stats(); stats.Frames != 3 || stats.Errors != 0 {
		t.Errorf("Unexpected transport stats %+v", stats)
	}
	if msgs := tl.messages(t); len(msgs) != 0 {
		t.Errorf("Only ACKs expected, got %v", msgs)
	}
}

func TestLinkResetWhileRunning(t *testing.T) {
	tl := newTestLink(t, 5)

	if err := tl.h.Begin(context.Background(), 0); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	tl.Receive(command(protocol.MessageDest, protocol.ResetOdometry{}))
	tl.h.Stop()

	if tl.Transport().LastError() != sim.ErrRunning {
		t.Errorf("Expected ErrRunning, got %v", tl.Transport().LastError())
	}
}
