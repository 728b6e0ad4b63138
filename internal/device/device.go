package device

import (
	"context"
	"math"
	"os"

	"github.com/LK4D4/joincontext"
	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/qset"
	"github.com/sekai02/scull/internal/storage"
	log "github.com/sirupsen/logrus"
)

// accessMode masks the access bits of an open flag (O_ACCMODE).
const accessMode = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

type (
	// Device is one independently locked, lazily allocated byte store.
	// Every exported operation that touches the data takes the device lock
	// for its whole duration.
	Device struct {
		minor int
		lock  *AccessController
		store storage.Store

		// defaults yields the geometry restored on reset
		defaults    func() qset.Geometry
		maxSegments int
		// done is closed when the owning set is torn down
		done context.Context

		geometry qset.Geometry
		data     qset.Chain
		// size is the high-water mark of written bytes
		size int64

		logger *log.Entry
	}

	// Stats is a point-in-time view of a device taken under its lock.
	Stats struct {
		Minor    int
		Size     int64
		Quantum  int
		QSet     int
		Segments int64
		Pages    int
	}
)

func newDevice(minor int, store storage.Store, defaults func() qset.Geometry, maxSegments int, done context.Context) *Device {
	return &Device{
		minor:       minor,
		lock:        NewAccessController(),
		store:       store,
		defaults:    defaults,
		maxSegments: maxSegments,
		done:        done,
		geometry:    defaults(),
		logger: log.WithFields(log.Fields{
			trace.Component: "scull.device",
			"minor":         minor,
		}),
	}
}

func (d *Device) Minor() int {
	return d.minor
}

func (d *Device) acquire(ctx context.Context) error {
	for _, c := range []context.Context{ctx, d.done} {
		if err := c.Err(); err != nil {
			return trace.Wrap(&InterruptedError{Minor: d.minor, Err: err})
		}
	}

	jctx, cancel := joincontext.Join(ctx, d.done)
	defer cancel()

	if err := d.lock.Acquire(jctx); err != nil {
		d.logger.Warn("Lock wait interrupted, err=", err)
		return trace.Wrap(&InterruptedError{Minor: d.minor, Err: err})
	}
	return nil
}

// Open truncates the device when flag opens it write-only. Any other access
// mode leaves the data untouched.
func (d *Device) Open(ctx context.Context, flag int) error {
	if flag&accessMode != os.O_WRONLY {
		return nil
	}

	if err := d.acquire(ctx); err != nil {
		return trace.Wrap(err)
	}
	defer d.lock.Release()

	d.trim()
	return nil
}

// ReadAt copies at most the rest of the page holding off into p. It returns
// 0 at or past the end of data and inside never written pages.
func (d *Device) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, trace.BadParameter("negative offset %d", off)
	}

	if err := d.acquire(ctx); err != nil {
		return 0, trace.Wrap(err)
	}
	defer d.lock.Release()

	if off >= d.size {
		return 0, nil
	}

	count := len(p)
	if int64(count) > d.size-off {
		count = int(d.size - off)
	}

	pos := d.geometry.Locate(off)
	pid := d.data.Lookup(pos.Segment).Page(pos.Page)
	if pid == storage.NoPage {
		return 0, nil
	}

	if rest := d.geometry.Remaining(pos); count > rest {
		count = rest
	}

	n, err := d.store.Read(pid, pos.Byte, p[:count])
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return n, nil
}

// WriteAt copies at most the rest of the page holding off from p, allocating
// the segment and page on the way. Allocation failures are LimitExceeded
// errors; whatever was allocated before the failure stays.
func (d *Device) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, trace.BadParameter("negative offset %d", off)
	}

	if err := d.acquire(ctx); err != nil {
		return 0, trace.Wrap(err)
	}
	defer d.lock.Release()

	if len(p) == 0 {
		return 0, nil
	}

	pos := d.geometry.Locate(off)
	count := len(p)
	if rest := d.geometry.Remaining(pos); count > rest {
		count = rest
	}
	if off > math.MaxInt64-int64(count) {
		return 0, trace.BadParameter("write of %d bytes at offset %d overflows the device size", count, off)
	}

	seg, err := d.data.Follow(pos.Segment, d.maxSegments)
	if err != nil {
		d.logger.Warn("Segment allocation failed at offset=", off, ", err=", err)
		return 0, trace.Wrap(err)
	}

	pid, err := seg.EnsurePage(pos.Page, d.geometry, d.store)
	if err != nil {
		d.logger.Warn("Page allocation failed at offset=", off, ", err=", err)
		return 0, trace.Wrap(err)
	}

	n, err := d.store.Write(pid, pos.Byte, p[:count])
	if err != nil {
		return 0, trace.Wrap(err)
	}

	if end := off + int64(n); end > d.size {
		d.size = end
	}
	return n, nil
}

// Reset drops all data under the device lock.
func (d *Device) Reset(ctx context.Context) error {
	if err := d.acquire(ctx); err != nil {
		return trace.Wrap(err)
	}
	defer d.lock.Release()

	d.trim()
	return nil
}

func (d *Device) Stat(ctx context.Context) (Stats, error) {
	if err := d.acquire(ctx); err != nil {
		return Stats{}, trace.Wrap(err)
	}
	defer d.lock.Release()

	return Stats{
		Minor:    d.minor,
		Size:     d.size,
		Quantum:  d.geometry.Quantum,
		QSet:     d.geometry.QSet,
		Segments: d.data.Len(),
		Pages:    d.data.Pages(),
	}, nil
}

// trim frees the whole chain and restores the current defaults. The caller
// holds the lock.
func (d *Device) trim() {
	segments := d.data.Len()
	d.data.Trim(d.store)
	d.size = 0
	d.geometry = d.defaults()
	d.logger.Debugf("Trimmed %d segments, geometry=%+v", segments, d.geometry)
}
