// Package scullfs declares the device-node surface of the scull devices.
package scullfs

import "context"

// Handle is one open device. Read and Write use and advance the handle's
// position; ReadAt and WriteAt leave it alone. A single call never moves
// more than the rest of the current page, callers loop for more.
type Handle interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Ioctl(cmd uint, arg uintptr) (int, error)
	Release() error
}

// Controller supplies seek and ioctl behaviour. The devices themselves do
// not implement either.
type Controller interface {
	Seek(offset int64, whence int) (int64, error)
	Ioctl(cmd uint, arg uintptr) (int, error)
}

type API interface {
	Open(ctx context.Context, minor int, flag int) (Handle, error)
	DeviceList(ctx context.Context) ([]int, error)
}

// NopController answers every seek and ioctl with 0.
type NopController struct{}

func (NopController) Seek(int64, int) (int64, error) { return 0, nil }
func (NopController) Ioctl(uint, uintptr) (int, error) { return 0, nil }
