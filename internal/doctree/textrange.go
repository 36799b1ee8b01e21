package doctree

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidRange is returned when a range is constructed with inverted or negative bounds.
var ErrInvalidRange = errors.New("invalid range")

// TextRange is a half-open byte interval [Start, Stop) over a flattened text buffer.
type TextRange struct {
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

// NewTextRange validates and returns a TextRange.
func NewTextRange(start, stop int) (TextRange, error) {
	if start < 0 || start > stop {
		return TextRange{}, fmt.Errorf("%w: text range [%d, %d)", ErrInvalidRange, start, stop)
	}
	return TextRange{Start: start, Stop: stop}, nil
}

// Contains reports whether pos lies in [Start, Stop).
func (r TextRange) Contains(pos int) bool {
	return r.Start <= pos && pos < r.Stop
}

// ContainsRange reports whether o lies entirely inside r.
func (r TextRange) ContainsRange(o TextRange) bool {
	return r.Start <= o.Start && o.Stop <= r.Stop
}

// Overlaps reports whether the two ranges share at least one position.
func (r TextRange) Overlaps(o TextRange) bool {
	return r.Start < o.Stop && o.Start < r.Stop
}

func (r TextRange) Len() int      { return r.Stop - r.Start }
func (r TextRange) IsEmpty() bool { return r.Stop <= r.Start }

// Tuple returns the bounds as a pair.
func (r TextRange) Tuple() (int, int) { return r.Start, r.Stop }

// Slice returns the text covered by r, clamped to the buffer.
func (r TextRange) Slice(text string) string {
	start, stop := clamp(r.Start, len(text)), clamp(r.Stop, len(text))
	if start >= stop {
		return ""
	}
	return text[start:stop]
}

func (r TextRange) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.Stop) }

// Pager is an inclusive interval [First, Last] over page indices.
type Pager struct {
	First int `json:"first"`
	Last  int `json:"last"`
}

// NewPager validates and returns a Pager.
func NewPager(first, last int) (Pager, error) {
	if first < 0 || first > last {
		return Pager{}, fmt.Errorf("%w: pager [%d, %d]", ErrInvalidRange, first, last)
	}
	return Pager{First: first, Last: last}, nil
}

// Contains reports whether page index i lies in [First, Last].
func (p Pager) Contains(i int) bool {
	return p.First <= i && i <= p.Last
}

// Len is Last - First.
func (p Pager) Len() int { return p.Last - p.First }

// Count is the number of pages covered.
func (p Pager) Count() int { return p.Last - p.First + 1 }

func (p Pager) Tuple() (int, int) { return p.First, p.Last }

// All yields First..=Last in order.
func (p Pager) All() iter.Seq[int] {
	return func(yield func(int) bool) {
		for i := p.First; i <= p.Last; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

func (p Pager) String() string { return fmt.Sprintf("[%d, %d]", p.First, p.Last) }

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
