package simulation

// PlayerInputSequenceNumber is incremented once per captured input sample. Ordering is
// serial-number arithmetic so comparisons keep working across the 2^32 wraparound.
type PlayerInputSequenceNumber uint32

func (s PlayerInputSequenceNumber) Next() PlayerInputSequenceNumber {
	return s + 1
}

// IsNewerThan reports whether s was produced after other, assuming the two are less than
// 2^31 samples apart.
func (s PlayerInputSequenceNumber) IsNewerThan(other PlayerInputSequenceNumber) bool {
	return int32(s-other) > 0
}

// Distance returns how many samples s is ahead of older. Negative when s is older.
func (s PlayerInputSequenceNumber) Distance(older PlayerInputSequenceNumber) int32 {
	return int32(s - older)
}
