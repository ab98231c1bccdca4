package lib

import (
	"encoding/binary"
)

// CalculateChecksum computes the 16-bit one's complement Internet checksum
// over buffer. The caller must zero the checksum field first.
func CalculateChecksum(buffer []byte) uint16 {
	var cksum uint32 = 0

	// Process 16-bit words (2 bytes each)
	for i := 0; i < len(buffer)-1; i += 2 {
		word := binary.BigEndian.Uint16(buffer[i : i+2])
		cksum += uint32(word)
	}

	// Handle remaining odd byte, if any
	if len(buffer)%2 != 0 {
		cksum += uint32(buffer[len(buffer)-1]) << 8 // Shift last byte to 16 bits
	}

	// Fold 32-bit sum to 16 bits
	cksum = (cksum >> 16) + (cksum & 0xffff)
	cksum += (cksum >> 16)

	// Return one's complement of the final sum
	return ^uint16(cksum)
}

// VerifyChecksum checks the checksum of a raw segment. It zeroes the
// checksum field in place for recomputation and restores it before
// returning. A segment that fails verification must be treated as lost.
func VerifyChecksum(data []byte) bool {
	if len(data) < HeaderLength {
		return false
	}

	// Retrieve the checksum from the segment
	receivedChecksum := binary.BigEndian.Uint16(data[8:10])

	// Zero out the checksum field in data for calculation
	binary.BigEndian.PutUint16(data[8:10], 0)

	calculatedChecksum := CalculateChecksum(data)

	// Restore the original checksum field in data
	binary.BigEndian.PutUint16(data[8:10], receivedChecksum)

	return receivedChecksum == calculatedChecksum
}
