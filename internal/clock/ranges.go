package clock

import "time"

// IsBefore reports whether a is strictly before b.
func IsBefore(a, b time.Time) bool {
	return a.Before(b)
}

// IsAfter reports whether a is strictly after b.
func IsAfter(a, b time.Time) bool {
	return a.After(b)
}

// ValidRange reports whether [start, end) is a non-empty range.
func ValidRange(start, end time.Time) bool {
	return start.Before(end)
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and [bStart, bEnd)
// intersect. Ranges that only touch at an endpoint do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HasStarted reports whether an interval beginning at start has started at now.
// An interval starting exactly at now counts as started.
func HasStarted(start, now time.Time) bool {
	return !now.Before(start)
}
