package imaging

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
)

var testMeta = Metadata{
	Latitude:   45.123456,
	Longitude:  -122.654321,
	Altitude:   88.8,
	CapturedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
}

func newTestTransformer(t *testing.T, outDir string) *Transformer {
	t.Helper()
	return NewTransformer(Options{
		MaxWidth:    DefaultMaxWidth,
		JPEGQuality: DefaultJPEGQuality,
		OutputDir:   outDir,
		Operator:    "Field Survey",
	}, nil)
}

func requireFault(t *testing.T, err error, kind FaultKind) *TransformFault {
	t.Helper()
	var fault *TransformFault
	require.True(t, errors.As(err, &fault), "want TransformFault, got %v", err)
	require.Equal(t, kind, fault.Kind)
	return fault
}

func TestTransformScenarioRotatedLargeCapture(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a 4000x3000 frame")
	}
	t.Parallel()

	raw := writeRaw(t, t.TempDir(), 4000, 3000, 6)
	outDir := t.TempDir()

	final, err := newTestTransformer(t, outDir).Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)

	assert.Equal(t, outDir, filepath.Dir(final))
	assert.True(t, strings.HasPrefix(filepath.Base(final), "Final_"))
	w, h := decodeDims(t, final)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 1707, h)
	assert.Greater(t, h, w)

	// the transform never removes its input
	_, err = os.Stat(raw)
	assert.NoError(t, err)
}

func TestTransformOrientations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		orientation int
		w, h        int
	}{
		{0, 64, 32},
		{1, 64, 32},
		{3, 64, 32},
		{6, 32, 64},
		{8, 32, 64},
	}
	for _, tc := range cases {
		raw := writeRaw(t, t.TempDir(), 64, 32, tc.orientation)
		final, err := newTestTransformer(t, t.TempDir()).Transform(context.Background(), raw, testMeta)
		require.NoError(t, err)
		w, h := decodeDims(t, final)
		assert.Equal(t, tc.w, w, "orientation %d", tc.orientation)
		assert.Equal(t, tc.h, h, "orientation %d", tc.orientation)
	}
}

func TestTransformNeverUpscales(t *testing.T) {
	t.Parallel()

	raw := writeRaw(t, t.TempDir(), 300, 200, 0)
	tr := NewTransformer(Options{MaxWidth: 1280, OutputDir: t.TempDir()}, nil)
	final, err := tr.Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)
	w, h := decodeDims(t, final)
	assert.Equal(t, 300, w)
	assert.Equal(t, 200, h)
}

func TestTransformIsRepeatable(t *testing.T) {
	t.Parallel()

	raw := writeRaw(t, t.TempDir(), 200, 100, 6)
	tr := newTestTransformer(t, t.TempDir())

	first, err := tr.Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)
	require.NoError(t, os.Remove(first))

	second, err := tr.Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	st, err := os.Stat(second)
	require.NoError(t, err)
	assert.Positive(t, st.Size())
}

func TestTransformMissingRaw(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "gone.jpg")
	_, err := newTestTransformer(t, t.TempDir()).Transform(context.Background(), missing, testMeta)
	fault := requireFault(t, err, FaultNotFound)
	assert.Equal(t, missing, fault.Path)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "raw file not found: "+missing, err.Error())
	assert.Equal(t, common.CodeNotFound, fault.Code())

	_, err = newTestTransformer(t, t.TempDir()).Transform(context.Background(), t.TempDir(), testMeta)
	requireFault(t, err, FaultNotFound)
}

func TestTransformDecodeErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.jpg")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	corrupt := filepath.Join(dir, "corrupt.jpg")
	require.NoError(t, os.WriteFile(corrupt, []byte("\xff\xd8\xff\xe0garbage"), 0o644))
	unsupported := filepath.Join(dir, "notes.png")
	require.NoError(t, os.WriteFile(unsupported, []byte("plain text"), 0o644))

	outDir := t.TempDir()
	tr := newTestTransformer(t, outDir)
	for _, p := range []string{empty, corrupt, unsupported} {
		_, err := tr.Transform(context.Background(), p, testMeta)
		requireFault(t, err, FaultDecodeError)
		assert.ErrorIs(t, err, common.ErrDecode, p)
	}

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestTransformWriteFailure(t *testing.T) {
	t.Parallel()

	raw := writeRaw(t, t.TempDir(), 40, 20, 0)
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	_, err := newTestTransformer(t, blocker).Transform(context.Background(), raw, testMeta)
	requireFault(t, err, FaultIOError)
	assert.ErrorIs(t, err, common.ErrIO)
}

func TestTransformCanceled(t *testing.T) {
	t.Parallel()

	raw := writeRaw(t, t.TempDir(), 40, 20, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestTransformer(t, t.TempDir()).Transform(ctx, raw, testMeta)
	assert.ErrorIs(t, err, context.Canceled)
}

type pngRunner struct {
	calls []string
	fail  bool
}

func (r *pngRunner) Run(_ context.Context, name string, _ *slog.Logger, args ...string) ([]byte, []byte, error) {
	r.calls = append(r.calls, name)
	if r.fail {
		return nil, []byte("no decoder"), errors.New("exit status 1")
	}
	out := args[len(args)-1]
	f, err := os.Create(out)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return nil, nil, png.Encode(f, image.NewRGBA(image.Rect(0, 0, 30, 60)))
}

func TestTransformHEICViaConverter(t *testing.T) {
	t.Parallel()

	raw := filepath.Join(t.TempDir(), "IMG_0001.HEIC")
	require.NoError(t, os.WriteFile(raw, []byte("ftypheic"), 0o644))

	runner := &pngRunner{}
	tr := NewTransformer(Options{OutputDir: t.TempDir(), HeicConverter: "sips", Runner: runner}, nil)
	final, err := tr.Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)
	assert.Equal(t, []string{"sips"}, runner.calls)
	w, h := decodeDims(t, final)
	assert.Equal(t, 30, w)
	assert.Equal(t, 60, h)

	failing := NewTransformer(Options{OutputDir: t.TempDir(), Runner: &pngRunner{fail: true}}, nil)
	_, err = failing.Transform(context.Background(), raw, testMeta)
	requireFault(t, err, FaultDecodeError)

	unknown := NewTransformer(Options{OutputDir: t.TempDir(), HeicConverter: "paint", Runner: runner}, nil)
	_, err = unknown.Transform(context.Background(), raw, testMeta)
	requireFault(t, err, FaultDecodeError)
}

func TestRemovePartials(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".final-123.part"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Final_abc.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "raw.jpg"), []byte("x"), 0o644))

	assert.Equal(t, 1, RemovePartials(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Zero(t, RemovePartials(filepath.Join(dir, "missing")))
}

func TestSolidFinalKeepsColor(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	raw := filepath.Join(dir, "red.jpg")
	require.NoError(t, os.WriteFile(raw, encodeJPEG(t, solidImage(400, 300, color.RGBA{R: 220, A: 255})), 0o644))

	final, err := newTestTransformer(t, t.TempDir()).Transform(context.Background(), raw, testMeta)
	require.NoError(t, err)

	f, err := os.Open(final)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := img.At(390, 10).RGBA()
	assert.Greater(t, r>>8, uint32(180))
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}
