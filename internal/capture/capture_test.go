package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/core"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
	"github.com/joseph-ayodele/fieldsurvey/internal/reclaim"
)

func TestImport(t *testing.T) {
	t.Parallel()

	scratch := filepath.Join(t.TempDir(), "IMG_0042.JPG")
	require.NoError(t, os.WriteFile(scratch, []byte("pixels"), 0o644))
	permanent := filepath.Join(t.TempDir(), "raw")

	dst, err := Import(scratch, permanent)
	require.NoError(t, err)
	assert.Equal(t, permanent, filepath.Dir(dst))
	assert.Equal(t, ".jpg", filepath.Ext(dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))

	_, err = os.Stat(scratch)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	entries, err := os.ReadDir(permanent)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestImportRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Import(filepath.Join(dir, "missing.jpg"), t.TempDir())
	assert.ErrorIs(t, err, common.ErrNotFound)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("x"), 0o644))
	_, err = Import(txt, t.TempDir())
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = os.Stat(txt)
	assert.NoError(t, err)
}

func TestParseManifest(t *testing.T) {
	t.Parallel()

	m, err := ParseManifest([]byte(`{
		"latitude": 19.4326, "longitude": -99.1332, "altitude": 2240.5,
		"captured_at": "2024-05-01T10:15:00Z", "caption": "bridge pier 3"
	}`))
	require.NoError(t, err)
	c := m.Coordinate()
	require.NotNil(t, c)
	assert.Equal(t, entity.Coordinate{Latitude: 19.4326, Longitude: -99.1332, Altitude: 2240.5}, *c)
	require.NotNil(t, m.CapturedAt)
	assert.True(t, m.CapturedAt.Equal(time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)))
	assert.Equal(t, "bridge pier 3", m.Caption)

	m, err = ParseManifest([]byte(`{"caption": "no fix"}`))
	require.NoError(t, err)
	assert.Nil(t, m.Coordinate())
	assert.Nil(t, m.CapturedAt)

	bad := []string{
		`not json`,
		`{"latitude": 95, "longitude": 0}`,
		`{"latitude": 10}`,
		`{"longitude": "east", "latitude": 1}`,
		`{"unknown": true}`,
		`{"caption": "` + strings.Repeat("x", 501) + `"}`,
		`{"captured_at": "yesterday"}`,
	}
	for _, b := range bad {
		_, err := ParseManifest([]byte(b))
		assert.ErrorIs(t, err, common.ErrValidation, b)
	}
}

func TestReadManifestMissing(t *testing.T) {
	t.Parallel()

	m, err := ReadManifest(filepath.Join(t.TempDir(), "a.jpg"))
	require.NoError(t, err)
	assert.Nil(t, m)
}

type fakeSubmitter struct {
	mu    sync.Mutex
	caps  []core.Capture
	err   error
	fails int // calls answered with err; negative means every call
	calls int
}

func (f *fakeSubmitter) SubmitCapture(_ context.Context, c core.Capture) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil && (f.fails < 0 || f.calls <= f.fails) {
		return 0, f.err
	}
	f.caps = append(f.caps, c)
	return int64(len(f.caps)), nil
}

func (f *fakeSubmitter) captures() []core.Capture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Capture(nil), f.caps...)
}

type fakeQueue struct {
	mu  sync.Mutex
	ids []int64
}

func (f *fakeQueue) Enqueue(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

type fixedLocator struct{ c *entity.Coordinate }

func (l fixedLocator) Acquire(context.Context) *entity.Coordinate { return l.c }

// Not parallel: swaps the package-level directory sync.
func TestImportSyncsPermanentDir(t *testing.T) {
	orig := syncDir
	t.Cleanup(func() { syncDir = orig })

	permanent := filepath.Join(t.TempDir(), "raw")
	var synced []string
	syncDir = func(dir string) error {
		synced = append(synced, dir)
		return orig(dir)
	}
	scratch := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(scratch, []byte("pixels"), 0o644))
	_, err := Import(scratch, permanent)
	require.NoError(t, err)
	assert.Equal(t, []string{permanent}, synced)

	// a rename that cannot be made durable is undone and the source kept
	syncDir = func(string) error { return errors.New("fsync: input/output error") }
	scratch = filepath.Join(t.TempDir(), "b.jpg")
	require.NoError(t, os.WriteFile(scratch, []byte("pixels"), 0o644))
	_, err = Import(scratch, permanent)
	assert.ErrorIs(t, err, common.ErrIO)
	assert.True(t, exists(t, scratch))
	entries, err := os.ReadDir(permanent)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "only the first import remains")
}

func newTestBoundary(sub Submitter, q Enqueuer, loc Locator, permanent string) *Boundary {
	b := NewBoundary(sub, q, loc, permanent, nil)
	b.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	b.sidecarGrace = 0
	b.handleRetry = 10 * time.Millisecond
	return b
}

func storageDown() error {
	return common.StorageFault("create job", errors.New("disk full"))
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestBoundaryHandleWithManifest(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	permanent := t.TempDir()
	shot := filepath.Join(inbox, "shot.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(SidecarPath(shot),
		[]byte(`{"latitude": 1.5, "longitude": 2.5, "captured_at": "2024-01-02T03:04:05Z", "caption": "gate"}`), 0o644))

	sub, q := &fakeSubmitter{}, &fakeQueue{}
	b := newTestBoundary(sub, q, fixedLocator{c: &entity.Coordinate{Latitude: 9}}, permanent)
	id, err := b.Handle(context.Background(), shot)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, []int64{1}, q.ids)

	require.Len(t, sub.caps, 1)
	c := sub.caps[0]
	assert.Equal(t, permanent, filepath.Dir(c.FilePath))
	assert.Equal(t, entity.Coordinate{Latitude: 1.5, Longitude: 2.5}, *c.Coordinate)
	assert.Equal(t, "gate", c.Caption)
	assert.True(t, c.CapturedAt.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	assert.False(t, exists(t, shot))
	assert.False(t, exists(t, SidecarPath(shot)))
}

func TestBoundaryHandleFallsBackToLocator(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	shot := filepath.Join(inbox, "shot.png")
	require.NoError(t, os.WriteFile(shot, []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(SidecarPath(shot), []byte(`{broken`), 0o644))

	sub := &fakeSubmitter{}
	b := newTestBoundary(sub, &fakeQueue{}, fixedLocator{}, t.TempDir())
	_, err := b.Handle(context.Background(), shot)
	require.NoError(t, err)
	require.Len(t, sub.caps, 1)
	assert.Nil(t, sub.caps[0].Coordinate)
	assert.False(t, sub.caps[0].CapturedAt.IsZero())
}

func TestBoundaryHandleWaitsForLateSidecar(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	shot := filepath.Join(inbox, "late.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))

	sub := &fakeSubmitter{}
	b := newTestBoundary(sub, &fakeQueue{}, fixedLocator{c: &entity.Coordinate{Latitude: 9}}, t.TempDir())
	b.sidecarGrace = 5 * time.Second

	written := make(chan error, 1)
	go func() {
		time.Sleep(150 * time.Millisecond)
		tmp := filepath.Join(t.TempDir(), "late.json")
		if err := os.WriteFile(tmp, []byte(`{"latitude": -33.9, "longitude": 18.4}`), 0o644); err != nil {
			written <- err
			return
		}
		written <- os.Rename(tmp, SidecarPath(shot))
	}()

	_, err := b.Handle(context.Background(), shot)
	require.NoError(t, err)
	require.NoError(t, <-written)
	require.Len(t, sub.caps, 1)
	assert.Equal(t, entity.Coordinate{Latitude: -33.9, Longitude: 18.4}, *sub.caps[0].Coordinate)
	assert.False(t, exists(t, SidecarPath(shot)), "late sidecar consumed with its capture")
}

func TestBoundaryHandleRetriesSubmit(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	shot := filepath.Join(inbox, "shot.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))

	sub := &fakeSubmitter{err: storageDown(), fails: 2}
	id, err := newTestBoundary(sub, &fakeQueue{}, nil, t.TempDir()).Handle(context.Background(), shot)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id)
	assert.Equal(t, 3, sub.calls)
	assert.False(t, exists(t, shot))
}

func TestBoundaryHandleSubmitFailureKeepsInboxCopy(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	permanent := t.TempDir()
	shot := filepath.Join(inbox, "shot.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))

	sub := &fakeSubmitter{err: storageDown(), fails: -1}
	q := &fakeQueue{}
	_, err := newTestBoundary(sub, q, nil, permanent).Handle(context.Background(), shot)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.Equal(t, defaultSubmitRetries+1, sub.calls)

	assert.True(t, exists(t, shot))
	entries, err := os.ReadDir(permanent)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, q.ids)
}

func TestFailedCaptureSurvivesReclaimAndRestart(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	scratch := t.TempDir()
	permanent := t.TempDir()
	shot := filepath.Join(inbox, "IMG_7.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(scratch, "preview.jpg"), []byte("tmp"), 0o644))

	down := newTestBoundary(&fakeSubmitter{err: storageDown(), fails: -1}, &fakeQueue{}, nil, permanent)
	_, err := down.Handle(context.Background(), shot)
	require.Error(t, err)

	// next start: the reclaimer clears scratch only
	stats := reclaim.NewReclaimer(scratch, nil).Sweep(context.Background())
	assert.EqualValues(t, 1, stats.Deleted)
	require.True(t, exists(t, shot))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths, _, err := StartWatcher(ctx, WatchConfig{Roots: []string{inbox}, InitialScan: true, Debounce: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	sub, q := &fakeSubmitter{}, &fakeQueue{}
	up := newTestBoundary(sub, q, nil, permanent)
	go up.Serve(ctx, paths)

	require.Eventually(t, func() bool { return len(sub.captures()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := os.Stat(shot)
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)
	raw := sub.captures()[0].FilePath
	data, err := os.ReadFile(raw)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", string(data))
}

func TestServeRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	inbox := t.TempDir()
	shot := filepath.Join(inbox, "shot.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpeg"), 0o644))

	sub := &fakeSubmitter{err: storageDown(), fails: 1}
	b := newTestBoundary(sub, &fakeQueue{}, nil, t.TempDir())
	b.submitRetries = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths := make(chan string, 1)
	paths <- shot
	go b.Serve(ctx, paths)

	require.Eventually(t, func() bool {
		_, err := os.Stat(shot)
		return errors.Is(err, os.ErrNotExist)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, sub.captures(), 1)
}

func TestRemoveOrphanSidecars(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := time.Now().Add(-time.Hour)
	write := func(name string, aged bool) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
		if aged {
			require.NoError(t, os.Chtimes(p, old, old))
		}
		return p
	}

	write("a.jpg", true)
	paired := write("a.jpg.json", true)
	orphan := write("b.jpg.json", true)
	fresh := write("c.jpg.json", false)
	other := write("notes.json", true)

	assert.Equal(t, 1, RemoveOrphanSidecars(dir, time.Minute))
	assert.True(t, exists(t, paired))
	assert.False(t, exists(t, orphan))
	assert.True(t, exists(t, fresh))
	assert.True(t, exists(t, other))
}

func TestWatcherEmitsSettledCaptures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	existing := filepath.Join(root, "before.jpg")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, _, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{root},
		InitialScan: true,
		Debounce:    30 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-events:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no watcher event")
			return ""
		}
	}
	assert.Equal(t, existing, next())

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.json"), []byte("{}"), 0o644))
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(50 * time.Millisecond)
	shot := filepath.Join(sub, "after.HEIC")
	require.NoError(t, os.WriteFile(shot, []byte("x"), 0o644))
	assert.Equal(t, shot, next())

	cancel()
	require.Eventually(t, func() bool {
		_, ok := <-events
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcherNoRoots(t *testing.T) {
	t.Parallel()

	_, _, err := StartWatcher(context.Background(), WatchConfig{}, nil)
	assert.Error(t, err)
}
