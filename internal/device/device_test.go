package device

import (
	"bytes"
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/sekai02/scull/internal/qset"
	"github.com/sekai02/scull/internal/storage"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var smallGeometry = qset.Geometry{Quantum: 16, QSet: 4}

var backends = []string{"memory", "badger"}

func newBackendStore(t *testing.T, backend string) storage.Store {
	if backend == "memory" {
		return storage.NewMemStore(0)
	}
	bs, err := storage.NewBadgerStore("", 0)
	require.NoError(t, err)
	t.Cleanup(func() { bs.Close() })
	return bs
}

func newTestDevice(t *testing.T, g qset.Geometry, maxSegments, maxPages int) (*Device, *Set, storage.Store) {
	return newTestDeviceOn(t, storage.NewMemStore(maxPages), g, maxSegments)
}

func newTestDeviceOn(t *testing.T, store storage.Store, g qset.Geometry, maxSegments int) (*Device, *Set, storage.Store) {
	set, err := Init(Config{Devices: 1, MaxSegments: maxSegments, Geometry: g}, store, nil)
	require.NoError(t, err)
	t.Cleanup(func() { set.Teardown() })

	dev, err := set.Device(0)
	require.NoError(t, err)
	return dev, set, store
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte(i*7 + i/251)
	}
	return p
}

func writeAll(t *testing.T, dev *Device, p []byte, off int64) {
	for len(p) > 0 {
		n, err := dev.WriteAt(context.Background(), p, off)
		require.NoError(t, err)
		require.NotZero(t, n)
		p = p[n:]
		off += int64(n)
	}
}

func readAll(t *testing.T, dev *Device, n int, off int64) []byte {
	var out []byte
	buf := make([]byte, n)
	for len(out) < n {
		got, err := dev.ReadAt(context.Background(), buf[:n-len(out)], off)
		require.NoError(t, err)
		if got == 0 {
			break
		}
		out = append(out, buf[:got]...)
		off += int64(got)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			dev, _, store := newTestDeviceOn(t, newBackendStore(t, backend), smallGeometry, 0)

			for _, k := range []int{1, 15, 16, 17, 64, 65, 300, 1000} {
				require.NoError(t, dev.Reset(context.Background()))
				data := pattern(k)

				writeAll(t, dev, data, 0)
				require.Equal(t, data, readAll(t, dev, k, 0), "k=%d", k)

				st, err := dev.Stat(context.Background())
				require.NoError(t, err)
				require.Equal(t, int64(k), st.Size)
				require.Equal(t, st.Pages, store.Pages())
			}
		})
	}
}

func TestScenarioDefaultGeometry(t *testing.T) {
	ctx := context.Background()
	dev, _, _ := newTestDevice(t, qset.Geometry{Quantum: 4000, QSet: 1000}, 0, 0)

	n, err := dev.WriteAt(ctx, []byte("0123456789"), 0)
	require.NoError(t, err)
	require.Equal(t, 10, n)

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Minor: 0, Size: 10, Quantum: 4000, QSet: 1000, Segments: 1, Pages: 1}, st)

	buf := make([]byte, 10)
	n, err = dev.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	require.Equal(t, "0123456789", string(buf[:n]))

	n, err = dev.WriteAt(ctx, pattern(5000), 0)
	require.NoError(t, err)
	require.Equal(t, 4000, n)
	n, err = dev.WriteAt(ctx, pattern(5000)[4000:], 4000)
	require.NoError(t, err)
	require.Equal(t, 1000, n)

	n, err = dev.WriteAt(ctx, []byte("x"), 4000000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	st, err = dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Segments)
	require.Equal(t, 3, st.Pages)
	require.Equal(t, int64(4000001), st.Size)

	n, err = dev.ReadAt(ctx, make([]byte, 10), st.Size)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestReadPastEndDoesNotAllocate(t *testing.T) {
	ctx := context.Background()
	dev, _, store := newTestDevice(t, smallGeometry, 0, 0)

	n, err := dev.ReadAt(ctx, make([]byte, 8), 1000)
	require.NoError(t, err)
	require.Zero(t, n)

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Segments)
	require.Zero(t, store.Pages())
}

func TestReadHoleIsEndOfData(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dev, _, _ := newTestDeviceOn(t, newBackendStore(t, backend), smallGeometry, 0)

			// page 0 of segment 0 and page 1 of segment 2 exist, everything between is a hole
			writeAll(t, dev, []byte("head"), 0)
			writeAll(t, dev, []byte("tail"), 2*smallGeometry.Span()+16)

			n, err := dev.ReadAt(ctx, make([]byte, 4), 20)
			require.NoError(t, err)
			require.Zero(t, n)

			n, err = dev.ReadAt(ctx, make([]byte, 4), smallGeometry.Span())
			require.NoError(t, err)
			require.Zero(t, n)

			buf := make([]byte, 4)
			n, err = dev.ReadAt(ctx, buf, 2*smallGeometry.Span()+16)
			require.NoError(t, err)
			require.Equal(t, "tail", string(buf[:n]))

			st, err := dev.Stat(ctx)
			require.NoError(t, err)
			require.Equal(t, int64(3), st.Segments)
			require.Equal(t, 2, st.Pages)
		})
	}
}

func TestSinglePageClamp(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dev, _, _ := newTestDeviceOn(t, newBackendStore(t, backend), smallGeometry, 0)

			n, err := dev.WriteAt(ctx, pattern(100), 5)
			require.NoError(t, err)
			require.Equal(t, 11, n)

			writeAll(t, dev, pattern(100), 16)

			n, err = dev.ReadAt(ctx, make([]byte, 100), 5)
			require.NoError(t, err)
			require.Equal(t, 11, n)

			n, err = dev.ReadAt(ctx, make([]byte, 100), 20)
			require.NoError(t, err)
			require.Equal(t, 12, n)

			// clamped to the logical size before the page rest
			n, err = dev.ReadAt(ctx, make([]byte, 100), 112)
			require.NoError(t, err)
			require.Equal(t, 4, n)
		})
	}
}

func TestReset(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			dev, _, store := newTestDeviceOn(t, newBackendStore(t, backend), smallGeometry, 0)

			require.NoError(t, dev.Reset(ctx))
			st, err := dev.Stat(ctx)
			require.NoError(t, err)
			require.Zero(t, st.Size)

			writeAll(t, dev, pattern(200), 0)
			require.NotZero(t, store.Pages())

			require.NoError(t, dev.Reset(ctx))
			require.Zero(t, store.Pages())

			st, err = dev.Stat(ctx)
			require.NoError(t, err)
			require.Equal(t, Stats{Quantum: 16, QSet: 4}, st)

			n, err := dev.ReadAt(ctx, make([]byte, 10), 0)
			require.NoError(t, err)
			require.Zero(t, n)
		})
	}
}

func TestResetAdoptsCurrentDefaults(t *testing.T) {
	ctx := context.Background()
	dev, set, _ := newTestDevice(t, smallGeometry, 0, 0)
	writeAll(t, dev, pattern(40), 0)

	require.NoError(t, set.SetDefaults(qset.Geometry{Quantum: 8, QSet: 2}))

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, 16, st.Quantum)
	require.Equal(t, int64(40), st.Size)

	require.NoError(t, dev.Reset(ctx))
	st, err = dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, 8, st.Quantum)
	require.Equal(t, 2, st.QSet)

	n, err := dev.WriteAt(ctx, pattern(20), 0)
	require.NoError(t, err)
	require.Equal(t, 8, n)

	require.Error(t, set.SetDefaults(qset.Geometry{Quantum: 0, QSet: 2}))
}

func TestOpenTruncatesOnlyWriteOnly(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		flag     int
		truncate bool
	}{
		{name: "read only", flag: os.O_RDONLY, truncate: false},
		{name: "read write", flag: os.O_RDWR, truncate: false},
		{name: "read write trunc", flag: os.O_RDWR | os.O_TRUNC, truncate: false},
		{name: "write only", flag: os.O_WRONLY, truncate: true},
		{name: "write only append", flag: os.O_WRONLY | os.O_APPEND, truncate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _, _ := newTestDevice(t, smallGeometry, 0, 0)
			writeAll(t, dev, []byte("content"), 0)

			require.NoError(t, dev.Open(ctx, tt.flag))

			n, err := dev.ReadAt(ctx, make([]byte, 7), 0)
			require.NoError(t, err)
			if tt.truncate {
				require.Zero(t, n)
			} else {
				require.Equal(t, 7, n)
			}
		})
	}
}

func TestWriteSegmentBudget(t *testing.T) {
	ctx := context.Background()
	dev, _, _ := newTestDevice(t, smallGeometry, 2, 0)

	_, err := dev.WriteAt(ctx, []byte("a"), 0)
	require.NoError(t, err)

	_, err = dev.WriteAt(ctx, []byte("b"), 3*smallGeometry.Span())
	require.Error(t, err)
	require.True(t, IsOutOfMemory(err))

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Segments)
	require.Equal(t, int64(1), st.Size)

	// the segment appended before the failure is usable
	n, err := dev.WriteAt(ctx, []byte("c"), smallGeometry.Span())
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestWritePageBudget(t *testing.T) {
	ctx := context.Background()
	dev, _, store := newTestDevice(t, smallGeometry, 0, 1)

	writeAll(t, dev, []byte("first"), 0)

	_, err := dev.WriteAt(ctx, []byte("second"), smallGeometry.Span())
	require.True(t, IsOutOfMemory(err))

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), st.Segments)
	require.Equal(t, 1, st.Pages)
	require.Equal(t, int64(5), st.Size)
	require.Equal(t, 1, store.Pages())
}

func TestZeroLengthWriteDoesNotAllocate(t *testing.T) {
	ctx := context.Background()
	dev, _, store := newTestDevice(t, smallGeometry, 0, 0)

	n, err := dev.WriteAt(ctx, nil, 100)
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, store.Pages())

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Size)
	require.Zero(t, st.Segments)
}

func TestNegativeOffset(t *testing.T) {
	ctx := context.Background()
	dev, _, _ := newTestDevice(t, smallGeometry, 0, 0)

	_, err := dev.ReadAt(ctx, make([]byte, 1), -1)
	require.True(t, trace.IsBadParameter(err))
	_, err = dev.WriteAt(ctx, []byte("x"), -1)
	require.True(t, trace.IsBadParameter(err))
}

func TestWriteAtEndOfAddressSpace(t *testing.T) {
	ctx := context.Background()
	dev, _, store := newTestDevice(t, smallGeometry, 2, 0)

	_, err := dev.WriteAt(ctx, []byte("x"), math.MaxInt64)
	require.True(t, trace.IsBadParameter(err))

	// below the overflow edge the segment cap answers first
	_, err = dev.WriteAt(ctx, []byte("x"), math.MaxInt64-1)
	require.True(t, IsOutOfMemory(err))

	st, err := dev.Stat(ctx)
	require.NoError(t, err)
	require.Zero(t, st.Size)
	require.Zero(t, store.Pages())
}

func TestInterruptedWhileWaiting(t *testing.T) {
	dev, _, _ := newTestDevice(t, smallGeometry, 0, 0)
	writeAll(t, dev, []byte("keep"), 0)

	require.NoError(t, dev.lock.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := dev.WriteAt(ctx, []byte("lost"), 0)
	require.Error(t, err)
	require.True(t, IsInterrupted(err))

	err = dev.Open(ctx, os.O_WRONLY)
	require.True(t, IsInterrupted(err))

	dev.lock.Release()

	buf := make([]byte, 4)
	n, err := dev.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
	require.Equal(t, "keep", string(buf[:n]))
}

func TestInterruptedBeforeWaiting(t *testing.T) {
	dev, _, _ := newTestDevice(t, smallGeometry, 0, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dev.ReadAt(ctx, make([]byte, 1), 0)
	require.True(t, IsInterrupted(err))
	_, err = dev.Stat(ctx)
	require.True(t, IsInterrupted(err))
	require.False(t, IsOutOfMemory(err))
}

func TestWritesAreNotInterleaved(t *testing.T) {
	dev, _, _ := newTestDevice(t, smallGeometry, 0, 0)
	ctx := context.Background()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		fill := byte('a' + w)
		g.Go(func() error {
			page := bytes.Repeat([]byte{fill}, smallGeometry.Quantum)
			for i := 0; i < 200; i++ {
				if _, err := dev.WriteAt(ctx, page, 0); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		buf := make([]byte, smallGeometry.Quantum)
		for i := 0; i < 500; i++ {
			n, err := dev.ReadAt(ctx, buf, 0)
			if err != nil {
				return err
			}
			if n > 0 && !bytes.Equal(buf[:n], bytes.Repeat(buf[:1], n)) {
				return trace.Errorf("interleaved page contents %q", buf[:n])
			}
		}
		return nil
	})

	require.NoError(t, g.Wait())
}
