package core

// utoa converts an unsigned integer to a string without the fmt package,
// which is too heavy for the firmware image.
func utoa(n uint32) string {
	var buf [10]byte
	return string(appendUint(buf[:0], uint64(n)))
}

func appendUint(dst []byte, n uint64) []byte {
	if n == 0 {
		return append(dst, '0')
	}
	var digits [20]byte
	pos := len(digits)
	for n > 0 {
		pos--
		digits[pos] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, digits[pos:]...)
}
