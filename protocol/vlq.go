package protocol

import "errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// EncodeVLQInt writes v in 1 to 5 bytes, most significant group first. Small
// negative values stay short: the first byte's 0x40 bit carries the sign.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [5]byte
	n := 0
	if v < -(1<<26) || v >= 3<<26 {
		buf[n] = byte(v>>28)&0x7F | 0x80
		n++
	}
	if v < -(1<<19) || v >= 3<<19 {
		buf[n] = byte(v>>21)&0x7F | 0x80
		n++
	}
	if v < -(1<<12) || v >= 3<<12 {
		buf[n] = byte(v>>14)&0x7F | 0x80
		n++
	}
	if v < -(1<<5) || v >= 3<<5 {
		buf[n] = byte(v>>7)&0x7F | 0x80
		n++
	}
	buf[n] = byte(v) & 0x7F
	output.Output(buf[:n+1])
}

// EncodeVLQUint writes an unsigned value. Values above 2^31 wrap like the
// signed form and decode back unchanged with DecodeVLQUint.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one value and advances data past it.
func DecodeVLQInt(data *[]byte) (int32, error) {
	if len(*data) == 0 {
		return 0, ErrBufferTooSmall
	}
	c := uint32((*data)[0])
	*data = (*data)[1:]

	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	for groups := 1; c&0x80 != 0; groups++ {
		if groups == 5 {
			return 0, ErrInvalidVLQ
		}
		if len(*data) == 0 {
			return 0, ErrBufferTooSmall
		}
		c = uint32((*data)[0])
		*data = (*data)[1:]
		v = v<<7 | c&0x7F
	}
	return int32(v), nil
}

// DecodeVLQUint reads one unsigned value and advances data past it.
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBool writes a flag as 0 or 1.
func EncodeVLQBool(output OutputBuffer, v bool) {
	if v {
		EncodeVLQUint(output, 1)
		return
	}
	EncodeVLQUint(output, 0)
}

// DecodeVLQBool reads a flag; any non-zero value is true.
func DecodeVLQBool(data *[]byte) (bool, error) {
	v, err := DecodeVLQUint(data)
	return v != 0, err
}
