package storage

// PageID addresses one page buffer inside a Store. The zero value is never
// handed out and marks an empty slot.
type PageID uint64

const NoPage PageID = 0

// Store owns page buffers. Alloc fails with a trace.LimitExceeded error once
// the page budget is exhausted; callers treat that as out of memory.
type Store interface {
	Alloc(size int) (PageID, error)
	Free(pid PageID)
	Read(pid PageID, off int, p []byte) (int, error)
	Write(pid PageID, off int, data []byte) (int, error)
	Pages() int
	Close() error
}
