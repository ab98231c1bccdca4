package lib

import (
	"testing"
)

func TestIsGreater(t *testing.T) {
	testCases := []struct {
		seq1     uint16
		seq2     uint16
		expected bool
	}{
		{seq1: 10, seq2: 5, expected: true},         // direct comparison
		{seq1: 5, seq2: 10, expected: false},        // direct comparison
		{seq1: 2, seq2: 65534, expected: true},      // wrap-around case
		{seq1: 65534, seq2: 2, expected: false},     // inverse wrap-around case
		{seq1: 32767, seq2: 32766, expected: true},  // close to half-space boundary
		{seq1: 32766, seq2: 32767, expected: false}, // close to half-space boundary
		{seq1: 0, seq2: 65535, expected: true},      // full wrap-around
		{seq1: 65535, seq2: 0, expected: false},     // full wrap-around
		{seq1: 100, seq2: 100, expected: false},     // equality is not greater
	}

	for _, tc := range testCases {
		result := isGreater(tc.seq1, tc.seq2)
		if result != tc.expected {
			t.Errorf("For (%d, %d), expected %t, but got %t", tc.seq1, tc.seq2, tc.expected, result)
		}
	}
}

func TestSeqOrderingAcrossWraparound(t *testing.T) {
	// 65534 is "before" 2 in the modulo-65536 space
	if !isLess(65534, 2) {
		t.Error("isLess(65534, 2) should be true")
	}
	if !isGreaterOrEqual(2, 65534) {
		t.Error("isGreaterOrEqual(2, 65534) should be true")
	}
	if !isLessOrEqual(65534, 65534) {
		t.Error("isLessOrEqual should hold on equality")
	}
}

func TestSeqIncrement(t *testing.T) {
	if got := SeqIncrement(65535); got != 0 {
		t.Errorf("SeqIncrement(65535): got %d, want 0", got)
	}
	if got := SeqIncrementBy(65000, 1000); got != 464 {
		t.Errorf("SeqIncrementBy(65000, 1000): got %d, want 464", got)
	}
	if got := SeqIncrementBy(100, 1008); got != 1108 {
		t.Errorf("SeqIncrementBy(100, 1008): got %d, want 1108", got)
	}
}
