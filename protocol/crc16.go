package protocol

// CRC16 is the CCITT CRC (MCRF4XX: initial value 0xFFFF, reflected) of a
// frame's length, sequence and payload bytes. It is sent big-endian between
// the payload and the 0x7E sync byte:
//
//	[len][seq][payload...][crc hi][crc lo][0x7E]
//
// CRC16([]byte("123456789")) is 0x6F91.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}
