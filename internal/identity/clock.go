package identity

import "time"

// EpochYear anchors birth-year offsets: an offset of N means EpochYear+N.
// 1900 keeps every plausible birth year non-negative and the current year
// offset inside u8 until 2155.
const EpochYear = 1900

// Clock supplies the current year offset so age checks are testable.
type Clock interface {
	YearOffset() uint8
}

// SystemClock derives the year offset from wall time.
type SystemClock struct{}

func (SystemClock) YearOffset() uint8 {
	year := time.Now().UTC().Year()
	if year < EpochYear {
		return 0
	}
	offset := year - EpochYear
	if offset > 255 {
		return 255
	}
	return uint8(offset)
}

// FixedClock pins the year offset. Tests inject it to exercise boundaries.
type FixedClock uint8

func (c FixedClock) YearOffset() uint8 { return uint8(c) }
