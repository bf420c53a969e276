package scheduler

import (
	"fmt"
	"strconv"
	"strings"
)

// Range selects a contiguous slice of the item list by 0-based position.
// The zero Range selects every item.
type Range struct {
	// Start is the first position.
	Start int
	// End is the last position, inclusive. Used only when Bounded is set.
	End     int
	Bounded bool
	// Count selects Count items from Start when Counted is set or Count is
	// non-zero. Counts running past the list stop at the last item.
	Count   int
	Counted bool
}

// All selects every item.
func All() Range { return Range{} }

// NewRange selects positions start through end, inclusive.
func NewRange(start, end int) Range {
	return Range{Start: start, End: end, Bounded: true}
}

// From selects every item from start on.
func From(start int) Range { return Range{Start: start} }

// Sample selects the first n items.
func Sample(n int) Range { return Range{Count: n, Counted: true} }

// ParseRange parses "a-b" (inclusive) or a single position "a".
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	startText, endText, found := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startText))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range %q: expected start-end", s)
	}
	end := start
	if found {
		end, err = strconv.Atoi(strings.TrimSpace(endText))
		if err != nil {
			return Range{}, fmt.Errorf("invalid range %q: expected start-end", s)
		}
	}
	r := NewRange(start, end)
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// RangeError reports a range that cannot be applied. Ranges are never clamped
// to make them valid.
type RangeError struct {
	Range  Range
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("invalid range %s: %s", e.Range, e.Reason)
}

func (r Range) String() string {
	switch {
	case r.counted():
		return fmt.Sprintf("%d items from %d", r.Count, r.Start)
	case r.Bounded:
		return fmt.Sprintf("%d-%d", r.Start, r.End)
	case r.Start == 0:
		return "all"
	}
	return fmt.Sprintf("%d-", r.Start)
}

func (r Range) counted() bool { return r.Counted || r.Count != 0 }

// Validate reports a *RangeError when the range cannot apply to any list.
func (r Range) Validate() error {
	switch {
	case r.Start < 0:
		return &RangeError{Range: r, Reason: "start is negative"}
	case r.counted() && r.Count <= 0:
		return &RangeError{Range: r, Reason: "count must be at least 1"}
	case r.Bounded && r.counted():
		return &RangeError{Range: r, Reason: "end and count are mutually exclusive"}
	case r.Bounded && r.End < r.Start:
		return &RangeError{Range: r, Reason: "end is before start"}
	}
	return nil
}

// Bounds resolves the range against a list of n items and returns the
// inclusive positions to process. An empty list with the zero Range yields
// end < start, meaning nothing to do.
func (r Range) Bounds(n int) (start, end int, err error) {
	if err := r.Validate(); err != nil {
		return 0, 0, err
	}
	if n == 0 && r == (Range{}) {
		return 0, -1, nil
	}
	if r.Start >= n {
		return 0, 0, &RangeError{Range: r, Reason: fmt.Sprintf("start is past the last item (%d items)", n)}
	}

	switch {
	case r.Bounded:
		if r.End >= n {
			return 0, 0, &RangeError{Range: r, Reason: fmt.Sprintf("end is past the last item (%d items)", n)}
		}
		return r.Start, r.End, nil
	case r.counted():
		return r.Start, min(r.Start+r.Count, n) - 1, nil
	}
	return r.Start, n - 1, nil
}
