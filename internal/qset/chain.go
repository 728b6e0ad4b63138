package qset

import (
	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/storage"
)

// Chain is the head of a device's segment list. The zero value is an empty
// chain. Chain is not safe for concurrent use; the owning device serializes
// access.
type Chain struct {
	head   *Segment
	length int64
}

// Lookup walks to segment index without allocating and returns nil when the
// chain is shorter than that.
func (c *Chain) Lookup(index int64) *Segment {
	s := c.head
	for ; s != nil && index > 0; index-- {
		s = s.next
	}
	return s
}

// Follow walks to segment index, appending zeroed segments until it exists.
// limit > 0 caps the chain length; hitting it is a LimitExceeded error and
// the segments appended so far are kept.
func (c *Chain) Follow(index int64, limit int) (*Segment, error) {
	if c.head == nil {
		s, err := c.grow(limit)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		c.head = s
	}

	s := c.head
	for ; index > 0; index-- {
		if s.next == nil {
			next, err := c.grow(limit)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			s.next = next
		}
		s = s.next
	}
	return s, nil
}

func (c *Chain) grow(limit int) (*Segment, error) {
	if limit > 0 && c.length >= int64(limit) {
		return nil, trace.LimitExceeded("segment budget of %d segments exhausted", limit)
	}
	c.length++
	return &Segment{}, nil
}

// Trim frees every page of every segment and empties the chain.
func (c *Chain) Trim(store storage.Store) {
	var next *Segment
	for s := c.head; s != nil; s = next {
		for _, pid := range s.slots {
			if pid != storage.NoPage {
				store.Free(pid)
			}
		}
		s.slots = nil
		next = s.next
		s.next = nil
	}
	c.head = nil
	c.length = 0
}

func (c *Chain) Len() int64 {
	return c.length
}

// Pages counts the allocated pages across the chain.
func (c *Chain) Pages() int {
	n := 0
	for s := c.head; s != nil; s = s.next {
		n += s.pages()
	}
	return n
}
