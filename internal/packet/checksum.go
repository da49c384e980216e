package packet

// Checksum computes the RFC 1071 internet checksum over b.
//
// The header's own checksum field must be zeroed by the caller before the
// call. Words are read big-endian and the result is meant to be written back
// big-endian, which yields the same wire bytes as a native-order sum.
func Checksum(b []byte) uint16 {
	return fold(sum(0, b))
}

// sum adds the 16-bit words of b to acc. An odd trailing byte is added as a
// zero-padded word.
func sum(acc uint32, b []byte) uint32 {
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		acc += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if n%2 == 1 {
		acc += uint32(b[n-1]) << 8
	}
	return acc
}

// fold folds carries back into the low 16 bits and complements the result.
func fold(acc uint32) uint16 {
	for acc>>16 != 0 {
		acc = (acc >> 16) + (acc & 0xFFFF)
	}
	return ^uint16(acc)
}
