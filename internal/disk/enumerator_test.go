package disk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nace/volcrypt/internal/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	disks []Disk
	err   error
	calls int
}

func (s *fakeSource) Enumerate(context.Context) ([]Disk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]Disk(nil), s.disks...), nil
}

func (s *fakeSource) set(disks []Disk, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disks = disks
	s.err = err
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeRecorder struct {
	mu       sync.Mutex
	hits     int
	failures int
	passes   int
}

func (r *fakeRecorder) RecordEnumeration(err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes++
	if err != nil {
		r.failures++
	}
}

func (r *fakeRecorder) RecordCacheHit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits++
}

var (
	usbStick = Disk{ID: "E:", DevicePath: "E:", Size: 100, FreeSpace: 40, Filesystem: "FAT32", DriveType: DriveRemovable, Encryption: Unencrypted, Mounted: true}
	system1  = Disk{ID: "C:", DevicePath: "C:", Size: 1000, FreeSpace: 10, Filesystem: "NTFS", DriveType: DriveFixed, Encryption: Unencrypted, Mounted: true}
)

func newTestEnumerator(src Source) (*Enumerator, *fakeClock, *fakeRecorder) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	rec := &fakeRecorder{}
	return NewEnumerator(src, nil, WithClock(clock.Now), WithRecorder(rec)), clock, rec
}

func TestListCacheHit(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, clock, rec := newTestEnumerator(src)

	first := e.List(context.Background(), false)
	src.set([]Disk{system1, usbStick}, nil)
	clock.Advance(29 * time.Second)
	second := e.List(context.Background(), false)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 1, rec.hits)
}

func TestListCacheExpiry(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, clock, _ := newTestEnumerator(src)

	first := e.List(context.Background(), false)
	src.set([]Disk{system1, usbStick}, nil)
	clock.Advance(DefaultCacheTTL)
	second := e.List(context.Background(), false)

	assert.Len(t, first, 1)
	assert.Equal(t, []Disk{system1, usbStick}, second)
	assert.Equal(t, 2, src.calls)
}

func TestListForceRefresh(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, _, _ := newTestEnumerator(src)

	e.List(context.Background(), false)
	src.set([]Disk{usbStick}, nil)

	assert.Equal(t, []Disk{usbStick}, e.List(context.Background(), true))
	assert.Equal(t, 2, src.calls)
}

func TestListFailureYieldsEmptyList(t *testing.T) {
	src := &fakeSource{err: errors.New("wmic: access denied")}
	e, _, rec := newTestEnumerator(src)

	disks := e.List(context.Background(), false)
	require.NotNil(t, disks)
	assert.Empty(t, disks)
	assert.Equal(t, 1, rec.failures)
}

func TestListFailureKeepsCache(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, clock, _ := newTestEnumerator(src)

	e.List(context.Background(), false)
	src.set(nil, errors.New("lsblk: not found"))

	assert.Empty(t, e.List(context.Background(), true))

	// The earlier snapshot is still served inside its window.
	clock.Advance(time.Second)
	assert.Equal(t, []Disk{system1}, e.List(context.Background(), false))
}

func TestListReturnsCopies(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, _, _ := newTestEnumerator(src)

	got := e.List(context.Background(), false)
	got[0].Label = "mutated"

	assert.Empty(t, e.List(context.Background(), false)[0].Label)
}

func TestInvalidate(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, _, _ := newTestEnumerator(src)

	e.List(context.Background(), false)
	e.Invalidate()
	e.List(context.Background(), false)

	assert.Equal(t, 2, src.calls)
}

func TestDetails(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1, usbStick}}
	e, _, _ := newTestEnumerator(src)

	d, err := e.Details(context.Background(), "e:")
	require.NoError(t, err)
	assert.Equal(t, usbStick, d)

	_, err = e.Details(context.Background(), "Z:")
	assert.ErrorIs(t, err, system.ErrNotFound)
}

func TestConcurrentListQueriesOnce(t *testing.T) {
	src := &fakeSource{disks: []Disk{system1}}
	e, _, _ := newTestEnumerator(src)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, e.List(context.Background(), false), 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, src.calls)
}

func TestDiskHelpers(t *testing.T) {
	assert.InDelta(t, 60.0, usbStick.UsedPercent(), 0.001)
	assert.Zero(t, Disk{}.UsedPercent())

	mounted := Disk{DevicePath: "/dev/sdb1", MountPoint: "/media/usb"}
	assert.True(t, mounted.Matches("/media/usb"))
	assert.False(t, mounted.Matches(""))
}
