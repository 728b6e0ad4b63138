package device

import (
	"context"
	"sync/atomic"

	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/ids"
	"github.com/sekai02/scull/internal/qset"
	"github.com/sekai02/scull/internal/storage"
	log "github.com/sirupsen/logrus"
)

type (
	// Config describes a device set.
	Config struct {
		// Devices is the number of devices created by Init
		Devices int
		// FirstMinor is the minor number of the first device
		FirstMinor int
		// MaxSegments caps each device's chain length, 0 means no cap
		MaxSegments int
		// Geometry is the initial default page size and segment capacity
		Geometry qset.Geometry
	}

	// Registrar is the host side of the set: it makes devices reachable
	// under their minor numbers.
	Registrar interface {
		Register(minor int, dev *Device) error
		Unregister(minor int)
	}

	// Set is a fixed collection of devices created together. Init and
	// Teardown are expected to run single threaded; device operations may
	// run concurrently with each other and with SetDefaults.
	Set struct {
		devices   []*Device
		defaults  atomic.Pointer[qset.Geometry]
		registrar Registrar

		cancel context.CancelFunc
		logger *log.Entry
	}

	nopRegistrar struct{}
)

func (nopRegistrar) Register(int, *Device) error { return nil }
func (nopRegistrar) Unregister(int)              {}

func (c Config) Check() error {
	if c.Devices <= 0 {
		return trace.BadParameter("invalid Devices=%d: must be > 0", c.Devices)
	}
	if c.FirstMinor < 0 {
		return trace.BadParameter("invalid FirstMinor=%d: must be >= 0", c.FirstMinor)
	}
	if c.MaxSegments < 0 {
		return trace.BadParameter("invalid MaxSegments=%d: must be >= 0", c.MaxSegments)
	}
	if err := c.Geometry.Check(); err != nil {
		return trace.BadParameter("invalid Geometry=%+v: %v", c.Geometry, err)
	}
	return nil
}

// Init creates cfg.Devices empty devices sharing store and registers each
// under a sequential minor number. A nil registrar registers nowhere. If a
// registration fails the devices created so far are torn down.
func Init(cfg Config, store storage.Store, registrar Registrar) (*Set, error) {
	if err := cfg.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if registrar == nil {
		registrar = nopRegistrar{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Set{
		devices:   make([]*Device, 0, cfg.Devices),
		registrar: registrar,
		cancel:    cancel,
		logger:    log.WithField(trace.Component, "scull.set"),
	}
	geometry := cfg.Geometry
	s.defaults.Store(&geometry)

	minors := ids.NewGenerator(cfg.FirstMinor)
	for i := 0; i < cfg.Devices; i++ {
		minor := minors.NextMinor()
		dev := newDevice(minor, store, s.Defaults, cfg.MaxSegments, ctx)
		if err := registrar.Register(minor, dev); err != nil {
			s.logger.Error("Failed to register device ", minor, ", err=", err)
			s.Teardown()
			return nil, trace.Wrap(err, "register device %d", minor)
		}
		s.devices = append(s.devices, dev)
	}

	s.logger.Infof("Initialized %d devices, minors=%d..%d, geometry=%+v",
		cfg.Devices, cfg.FirstMinor, minors.Peek()-1, geometry)
	return s, nil
}

// Teardown interrupts pending lock waits, resets every device and
// unregisters it. Calling it on a set that was never initialized, or twice,
// is an error.
func (s *Set) Teardown() error {
	if s == nil || s.devices == nil {
		return trace.BadParameter("device set was never initialized")
	}

	s.cancel()
	for _, dev := range s.devices {
		// waiters were interrupted above; this waits for in-flight calls
		dev.lock.Acquire(context.Background())
		dev.trim()
		dev.lock.Release()
		s.registrar.Unregister(dev.minor)
	}

	s.logger.Infof("Tore down %d devices", len(s.devices))
	s.devices = nil
	return nil
}

func (s *Set) Device(minor int) (*Device, error) {
	for _, dev := range s.devices {
		if dev.minor == minor {
			return dev, nil
		}
	}
	return nil, trace.NotFound("device %d not found", minor)
}

// Defaults returns the geometry devices adopt at their next reset.
func (s *Set) Defaults() qset.Geometry {
	return *s.defaults.Load()
}

// SetDefaults changes the current defaults. Devices keep their geometry until
// they are reset.
func (s *Set) SetDefaults(g qset.Geometry) error {
	if err := g.Check(); err != nil {
		return trace.Wrap(err)
	}
	s.defaults.Store(&g)
	s.logger.Info("Defaults changed, geometry=", g)
	return nil
}
