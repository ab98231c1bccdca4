package lib

// Sequence numbers live in a modulo-65536 space, so plain uint16 arithmetic
// wraps for free. Comparisons must not: 65534 is "before" 2.

const seqHalfSpace = 1 << 15

func SeqIncrement(seq uint16) uint16 {
	return seq + 1 // implicit modulo operation included
}

func SeqIncrementBy(seq, inc uint16) uint16 {
	return seq + inc // implicit modulo operation included
}

// SEQ compare function with SEQ wraparound in mind. seq1 is "greater" when
// the forward distance from seq2 to seq1 lies in the lower half of the space.
func isGreater(seq1, seq2 uint16) bool {
	if seq1 == seq2 {
		return false
	}
	return seq1-seq2 < seqHalfSpace
}

func isGreaterOrEqual(seq1, seq2 uint16) bool {
	return isGreater(seq1, seq2) || (seq1 == seq2)
}

func isLess(seq1, seq2 uint16) bool {
	return !isGreaterOrEqual(seq1, seq2)
}

func isLessOrEqual(seq1, seq2 uint16) bool {
	return !isGreater(seq1, seq2)
}
