package api

import (
	"context"
	"io"

	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/device"
	"github.com/sekai02/scull/pkg/scullfs"
	log "github.com/sirupsen/logrus"
)

var _ scullfs.API = (*Service)(nil)

type Service struct {
	registry *device.Registry
	control  scullfs.Controller
	logger   *log.Entry
}

// NewService serves the devices registered in registry. A nil control
// falls back to scullfs.NopController.
func NewService(registry *device.Registry, control scullfs.Controller) *Service {
	if control == nil {
		control = scullfs.NopController{}
	}
	return &Service{
		registry: registry,
		control:  control,
		logger:   log.WithField(trace.Component, "scull.api"),
	}
}

func (s *Service) Open(ctx context.Context, minor int, flag int) (scullfs.Handle, error) {
	return s.OpenFile(ctx, minor, flag)
}

// OpenFile opens device minor, truncating it when flag is write-only.
func (s *Service) OpenFile(ctx context.Context, minor int, flag int) (*File, error) {
	dev, err := s.registry.Lookup(minor)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := dev.Open(ctx, flag); err != nil {
		return nil, trace.Wrap(err, "open device %d", minor)
	}

	s.logger.Debugf("Opened device %d, flag=%#o", minor, flag)
	return &File{dev: dev, flag: flag, control: s.control}, nil
}

func (s *Service) DeviceList(ctx context.Context) ([]int, error) {
	return s.registry.List(), nil
}

func (s *Service) Stat(ctx context.Context, minor int) (device.Stats, error) {
	dev, err := s.registry.Lookup(minor)
	if err != nil {
		return device.Stats{}, trace.Wrap(err)
	}

	st, err := dev.Stat(ctx)
	if err != nil {
		return device.Stats{}, trace.Wrap(err)
	}
	return st, nil
}

func (s *Service) Trim(ctx context.Context, minor int) error {
	dev, err := s.registry.Lookup(minor)
	if err != nil {
		return trace.Wrap(err)
	}

	return trace.Wrap(dev.Reset(ctx))
}

// Dump streams device minor to w from offset 0 with single-page reads and
// stops at end of data or at the first never written page, whichever comes
// first. It returns the number of bytes written to w.
func (s *Service) Dump(ctx context.Context, minor int, w io.Writer) (int64, error) {
	dev, err := s.registry.Lookup(minor)
	if err != nil {
		return 0, trace.Wrap(err)
	}

	st, err := dev.Stat(ctx)
	if err != nil {
		return 0, trace.Wrap(err)
	}

	buf := make([]byte, st.Quantum)
	var off int64
	for {
		n, err := dev.ReadAt(ctx, buf, off)
		if err != nil {
			return off, trace.Wrap(err, "read device %d at %d", minor, off)
		}
		if n == 0 {
			return off, nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return off, trace.Wrap(err)
		}
		off += int64(n)
	}
}
