package config

import (
	"io/ioutil"

	"github.com/gravitational/trace"
	"github.com/mohae/deepcopy"
	"github.com/sekai02/scull/internal/device"
	"github.com/sekai02/scull/internal/qset"
	"github.com/sekai02/scull/internal/storage"
	"gopkg.in/yaml.v2"
)

const (
	BackendMemory = "memory"
	BackendBadger = "badger"

	// DefaultMaxSegments bounds how far a write may reach into a device:
	// with the default geometry that is about 4GB of address space.
	DefaultMaxSegments = 1024
)

type (
	// Storage selects and sizes the page store shared by all devices.
	Storage struct {
		// Backend is either "memory" or "badger"
		Backend string `yaml:"backend"`
		// Dir is the badger scratch directory, empty keeps badger in memory
		Dir string `yaml:"dir,omitempty"`
		// MaxPages caps the pages allocated across all devices, 0 means no cap
		MaxPages int `yaml:"max_pages"`
	}

	// Config is read once at start up. Quantum and QSet are the initial
	// defaults copied into each device.
	Config struct {
		Devices     int      `yaml:"devices"`
		Quantum     int      `yaml:"quantum"`
		QSet        int      `yaml:"qset"`
		FirstMinor  int      `yaml:"first_minor"`
		MaxSegments int      `yaml:"max_segments"`
		Storage     *Storage `yaml:"storage"`
	}
)

// NewDefaultConfig creates config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Devices:     4,
		Quantum:     4000,
		QSet:        1000,
		MaxSegments: DefaultMaxSegments,
		Storage: &Storage{
			Backend: BackendMemory,
		},
	}
}

// LoadFromFile reads a YAML config file
func LoadFromFile(path string) (*Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	cfg := &Config{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, trace.BadParameter("failed to parse %v: %v", path, err)
	}
	return cfg, nil
}

// Merge overrides fields of c with the non-zero fields of other
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Devices != 0 {
		c.Devices = other.Devices
	}
	if other.Quantum != 0 {
		c.Quantum = other.Quantum
	}
	if other.QSet != 0 {
		c.QSet = other.QSet
	}
	if other.FirstMinor != 0 {
		c.FirstMinor = other.FirstMinor
	}
	if other.MaxSegments != 0 {
		c.MaxSegments = other.MaxSegments
	}
	if other.Storage != nil {
		if c.Storage == nil {
			c.Storage = &Storage{}
		}
		c.Storage.merge(other.Storage)
	}
}

// Check checks whether the config is valid and safe to use
func (c *Config) Check() error {
	if c.Storage == nil {
		return trace.BadParameter("invalid Storage: must be non-nil")
	}
	if err := c.Storage.check(); err != nil {
		return trace.BadParameter("invalid Storage=%v: %v", c.Storage, err)
	}
	if err := c.Device().Check(); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// Device returns the device set part of the config
func (c *Config) Device() device.Config {
	return device.Config{
		Devices:     c.Devices,
		FirstMinor:  c.FirstMinor,
		MaxSegments: c.MaxSegments,
		Geometry:    c.Geometry(),
	}
}

func (c *Config) Geometry() qset.Geometry {
	return qset.Geometry{Quantum: c.Quantum, QSet: c.QSet}
}

func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

func (c *Config) String() string {
	bb, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(bb)
}

func (s *Storage) merge(other *Storage) {
	if other.Backend != "" {
		s.Backend = other.Backend
	}
	if other.Dir != "" {
		s.Dir = other.Dir
	}
	if other.MaxPages != 0 {
		s.MaxPages = other.MaxPages
	}
}

func (s *Storage) check() error {
	switch s.Backend {
	case BackendMemory:
		if s.Dir != "" {
			return trace.BadParameter("invalid Dir: only the %v backend uses a directory", BackendBadger)
		}
	case BackendBadger:
	default:
		return trace.BadParameter("invalid Backend=%q: must be %q or %q", s.Backend, BackendMemory, BackendBadger)
	}
	if s.MaxPages < 0 {
		return trace.BadParameter("invalid MaxPages=%d: must be >= 0", s.MaxPages)
	}
	return nil
}

func (s *Storage) String() string {
	return s.Backend
}

// Open creates the page store described by s
func (s *Storage) Open() (storage.Store, error) {
	switch s.Backend {
	case BackendBadger:
		store, err := storage.NewBadgerStore(s.Dir, s.MaxPages)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		return store, nil
	case BackendMemory:
		return storage.NewMemStore(s.MaxPages), nil
	}
	return nil, trace.BadParameter("unknown backend %q", s.Backend)
}
