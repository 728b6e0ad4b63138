package api

import (
	"context"
	"io"
	"sync"

	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/device"
	"github.com/sekai02/scull/pkg/scullfs"
)

var _ scullfs.Handle = (*File)(nil)

// File is an open device with its own position.
type File struct {
	dev     *device.Device
	flag    int
	control scullfs.Controller

	mu  sync.Mutex
	pos int64
}

func (f *File) Minor() int {
	return f.dev.Minor()
}

// Read returns io.EOF when nothing is left at the current position.
func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.dev.ReadAt(ctx, p, f.pos)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	f.pos += int64(n)
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.dev.WriteAt(ctx, p, f.pos)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	f.pos += int64(n)
	return n, nil
}

func (f *File) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := f.dev.ReadAt(ctx, p, off)
	return n, trace.Wrap(err)
}

func (f *File) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	n, err := f.dev.WriteAt(ctx, p, off)
	return n, trace.Wrap(err)
}

func (f *File) Seek(offset int64, whence int) (int64, error) {
	return f.control.Seek(offset, whence)
}

func (f *File) Ioctl(cmd uint, arg uintptr) (int, error) {
	return f.control.Ioctl(cmd, arg)
}

// position is the offset the next Read or Write starts at.
func (f *File) position() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pos
}

// Release holds nothing to give back.
func (f *File) Release() error {
	return nil
}

func (f *File) Flag() int {
	return f.flag
}
