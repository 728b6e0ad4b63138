package storage

import (
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// BadgerStore keeps page buffers as badger values. With an empty dir the
// database runs in badger's in-memory mode; a non-empty dir is used as
// scratch space and is emptied on open, so nothing survives a restart.
type BadgerStore struct {
	db       *badger.DB
	mu       sync.RWMutex
	sizes    map[PageID]int
	nextID   PageID
	freeList []PageID
	maxPages int

	logger *log.Entry
}

func NewBadgerStore(dir string, maxPages int) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, trace.Wrap(err, "open badger")
	}

	if dir != "" {
		if err := db.DropAll(); err != nil {
			db.Close()
			return nil, trace.Wrap(err, "drop stale pages in %v", dir)
		}
	}

	return &BadgerStore{
		db:       db,
		sizes:    make(map[PageID]int),
		nextID:   1,
		freeList: []PageID{},
		maxPages: maxPages,
		logger:   log.WithField(trace.Component, "scull.storage"),
	}, nil
}

func (s *BadgerStore) Alloc(size int) (PageID, error) {
	if size <= 0 {
		return NoPage, trace.BadParameter("invalid page size %d", size)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPages > 0 && len(s.sizes) >= s.maxPages {
		return NoPage, trace.LimitExceeded("page budget of %d pages exhausted", s.maxPages)
	}

	var pid PageID
	reused := len(s.freeList) > 0
	if reused {
		pid = s.freeList[len(s.freeList)-1]
	} else {
		pid = s.nextID
	}

	page := make([]byte, size)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pageKey(pid), page)
	})
	if err != nil {
		return NoPage, trace.LimitExceeded("allocate page %d: %v", pid, err)
	}

	if reused {
		s.freeList = s.freeList[:len(s.freeList)-1]
	} else {
		s.nextID++
	}
	s.sizes[pid] = size
	return pid, nil
}

func (s *BadgerStore) Free(pid PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sizes[pid]; !exists {
		return
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(pageKey(pid))
	})
	if err != nil {
		// the key is overwritten when the id is handed out again
		s.logger.Warn("Could not delete page ", pid, ", err=", err)
	}

	delete(s.sizes, pid)
	s.freeList = append(s.freeList, pid)
}

func (s *BadgerStore) Read(pid PageID, off int, p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	size, exists := s.sizes[pid]
	if !exists {
		return 0, trace.NotFound("page %d not found", pid)
	}
	if off < 0 || off >= size {
		return 0, trace.BadParameter("offset %d out of bounds", off)
	}

	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(pid))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			n = copy(p, val[off:])
			return nil
		})
	})
	if err != nil {
		return 0, trace.Wrap(err, "read page %d", pid)
	}

	return n, nil
}

func (s *BadgerStore) Write(pid PageID, off int, data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size, exists := s.sizes[pid]
	if !exists {
		return 0, trace.NotFound("page %d not found", pid)
	}
	if off < 0 || off >= size {
		return 0, trace.BadParameter("offset %d out of bounds", off)
	}

	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(pid))
		if err != nil {
			return err
		}

		page, err := item.ValueCopy(make([]byte, 0, size))
		if err != nil {
			return err
		}

		n = copy(page[off:], data)
		return txn.Set(pageKey(pid), page)
	})
	if err != nil {
		return 0, trace.Wrap(err, "write page %d", pid)
	}

	return n, nil
}

func (s *BadgerStore) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.sizes)
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return trace.Wrap(s.db.Close())
}

func pageKey(pid PageID) []byte {
	key := make([]byte, 9)
	key[0] = 'p'
	binary.BigEndian.PutUint64(key[1:], uint64(pid))
	return key
}
