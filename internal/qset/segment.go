package qset

import (
	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/storage"
)

// Segment is one node of the chain. Its slot array is allocated on the first
// write into the segment, pages on the first write into their range.
type Segment struct {
	slots []storage.PageID
	next  *Segment
}

// Page returns the page in slot i, or storage.NoPage when either the slot
// array or the page is missing.
func (s *Segment) Page(i int) storage.PageID {
	if s == nil || s.slots == nil {
		return storage.NoPage
	}
	return s.slots[i]
}

// EnsurePage returns the page in slot i, allocating the slot array and the
// page buffer as needed. A slot array created before a failed page
// allocation stays in place.
func (s *Segment) EnsurePage(i int, g Geometry, store storage.Store) (storage.PageID, error) {
	if s.slots == nil {
		s.slots = make([]storage.PageID, g.QSet)
	}
	if s.slots[i] == storage.NoPage {
		pid, err := store.Alloc(g.Quantum)
		if err != nil {
			return storage.NoPage, trace.Wrap(err)
		}
		s.slots[i] = pid
	}
	return s.slots[i], nil
}

func (s *Segment) pages() int {
	n := 0
	for _, pid := range s.slots {
		if pid != storage.NoPage {
			n++
		}
	}
	return n
}
