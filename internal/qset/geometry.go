// Package qset implements the two-level allocation structure behind a
// device: a singly linked chain of segments, each holding a fixed number of
// page slots, each slot naming one page buffer in a storage.Store.
package qset

import "github.com/gravitational/trace"

// Geometry is the page size (quantum) and the number of page slots per
// segment (qset) a device uses between two resets.
type Geometry struct {
	Quantum int
	QSet    int
}

// Position is a linear offset split into segment index, page slot within
// the segment and byte within the page.
type Position struct {
	Segment int64
	Page    int
	Byte    int
}

func (g Geometry) Check() error {
	if g.Quantum <= 0 {
		return trace.BadParameter("invalid quantum %d: must be > 0", g.Quantum)
	}
	if g.QSet <= 0 {
		return trace.BadParameter("invalid qset %d: must be > 0", g.QSet)
	}
	return nil
}

// Span is the number of bytes addressed by one segment.
func (g Geometry) Span() int64 {
	return int64(g.Quantum) * int64(g.QSet)
}

// Locate translates a non-negative offset.
func (g Geometry) Locate(off int64) Position {
	span := g.Span()
	rest := off % span
	return Position{
		Segment: off / span,
		Page:    int(rest / int64(g.Quantum)),
		Byte:    int(rest % int64(g.Quantum)),
	}
}

// Remaining is the number of bytes from p to the end of its page, the most a
// single read or write starting at p may transfer.
func (g Geometry) Remaining(p Position) int {
	return g.Quantum - p.Byte
}
