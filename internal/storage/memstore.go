package storage

import (
	"sync"

	"github.com/gravitational/trace"
)

type MemStore struct {
	mu       sync.RWMutex
	pages    map[PageID][]byte
	nextID   PageID
	freeList []PageID
	maxPages int
}

// NewMemStore returns a heap-backed store. maxPages <= 0 disables the budget.
func NewMemStore(maxPages int) *MemStore {
	return &MemStore{
		pages:    make(map[PageID][]byte),
		nextID:   1,
		freeList: []PageID{},
		maxPages: maxPages,
	}
}

func (s *MemStore) Alloc(size int) (PageID, error) {
	if size <= 0 {
		return NoPage, trace.BadParameter("invalid page size %d", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPages > 0 && len(s.pages) >= s.maxPages {
		return NoPage, trace.LimitExceeded("page budget of %d pages exhausted", s.maxPages)
	}

	var pid PageID
	if len(s.freeList) > 0 {
		pid = s.freeList[len(s.freeList)-1]
		s.freeList = s.freeList[:len(s.freeList)-1]
	} else {
		pid = s.nextID
		s.nextID++
	}
	s.pages[pid] = make([]byte, size)
	return pid, nil
}

func (s *MemStore) Free(pid PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pages[pid]; exists {
		delete(s.pages, pid)
		s.freeList = append(s.freeList, pid)
	}
}

func (s *MemStore) Read(pid PageID, off int, p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page, exists := s.pages[pid]
	if !exists {
		return 0, trace.NotFound("page %d not found", pid)
	}

	if off < 0 || off >= len(page) {
		return 0, trace.BadParameter("offset %d out of bounds", off)
	}

	return copy(p, page[off:]), nil
}

func (s *MemStore) Write(pid PageID, off int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page, exists := s.pages[pid]
	if !exists {
		return 0, trace.NotFound("page %d not found", pid)
	}

	if off < 0 || off >= len(page) {
		return 0, trace.BadParameter("offset %d out of bounds", off)
	}

	return copy(page[off:], data), nil
}

func (s *MemStore) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.pages)
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages = make(map[PageID][]byte)
	s.freeList = s.freeList[:0]
	return nil
}
