package protocol

import "testing"

func TestCRC16(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"empty", []byte{}, 0xFFFF},
		{"zero", []byte{0x00}, 0x0F87},
		{"ones", []byte{0xFF}, 0x00FF},
		{"check string", []byte("123456789"), 0x6F91},
		{"ack header", []byte{MessageLengthMin, MessageDest}, 0x9E81},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CRC16(tc.data); got != tc.expected {
				t.Errorf("Expected 0x%04X, got 0x%04X", tc.expected, got)
			}
		})
	}
}

func TestCRC16Different(t *testing.T) {
	crc1 := CRC16([]byte{0x01, 0x02, 0x03})
	crc2 := CRC16([]byte{0x01, 0x02, 0x04})

	if crc1 == crc2 {
		t.Errorf("CRC16 collision: both inputs produced %04X", crc1)
	}
}

func TestFrameValid(t *testing.T) {
	out := NewScratchOutput()
	out.Output([]byte{6, MessageDest, 0x2A})
	appendTrailer(out, out.Result())
	frame := append([]byte(nil), out.Result()...)

	if !frameValid(frame) {
		t.Fatalf("Frame %v rejected", frame)
	}
	if n := frameLength(frame); n != 6 {
		t.Errorf("Expected length 6, got %d", n)
	}

	frame[2] ^= 1
	if frameValid(frame) {
		t.Error("Corrupted payload accepted")
	}

	bad := []byte{6, 0x20, 0, 0, 0, MessageValueSync}
	if frameLength(bad) != 0 {
		t.Error("Sequence without destination bits accepted")
	}
}
