// Package protocol implements the framed link between the robot and a host:
// VLQ encoded integers inside CRC16 protected frames, carrying telemetry from
// the robot and acknowledged commands from the host.
//
// Frame layout:
//
//	[len][seq][payload ...][crc hi][crc lo][0x7E]
//
// len counts the whole frame. seq is 0x10 | n where n increments with every
// accepted host frame. An empty payload is an ACK carrying the next expected
// sequence.
package protocol

// Version of the link protocol, reported by the firmware at startup.
const Version = "0.1.0"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 128
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// High bits of every sequence byte
	MessageDest    = 0x10
	MessageSeqMask = 0x0F

	// Output scratch space, enough for one report burst
	MessageMax = 512
)

// nextSeq returns the sequence following seq.
func nextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}

// frameLength validates the header of a candidate frame and returns its
// length, or 0 if data cannot start a frame.
func frameLength(data []byte) int {
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return 0
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0
	}
	return n
}

// frameValid checks the trailer of a complete frame.
func frameValid(frame []byte) bool {
	n := len(frame)
	if frame[n-MessageTrailerSync] != MessageValueSync {
		return false
	}
	crc := uint16(frame[n-MessageTrailerCRC])<<8 | uint16(frame[n-MessageTrailerCRC+1])
	return crc == CRC16(frame[:n-MessageTrailerSize])
}

// appendTrailer appends the CRC of frame and the sync byte.
func appendTrailer(out OutputBuffer, frame []byte) {
	crc := CRC16(frame)
	out.Output([]byte{uint8(crc >> 8), uint8(crc), MessageValueSync})
}
