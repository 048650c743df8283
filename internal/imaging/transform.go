package imaging

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/fieldsurvey/constants"
)

const (
	DefaultMaxWidth    = 1280
	DefaultJPEGQuality = 80

	partialPrefix = ".final-"
	partialSuffix = ".part"
)

// Options configures a Transformer.
type Options struct {
	MaxWidth      int // <= 0 disables the bound
	JPEGQuality   int
	OutputDir     string
	Operator      string
	HeicConverter string
	Runner        Runner
}

// Transformer turns a raw capture into a finished, watermarked JPEG.
// It never deletes its input and never touches the job store.
type Transformer struct {
	opts   Options
	logger *slog.Logger
}

func NewTransformer(opts Options, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	if opts.HeicConverter == "" {
		opts.HeicConverter = "magick"
	}
	return &Transformer{opts: opts, logger: logger}
}

// Transform runs the full pipeline on rawPath and returns the path of the
// new final image. Failures are *TransformFault values, except context
// errors which are returned as is.
func (t *Transformer) Transform(ctx context.Context, rawPath string, meta Metadata) (string, error) {
	start := time.Now()
	logger := t.logger.With("raw_path", rawPath)

	// 1) existence
	st, err := os.Stat(rawPath)
	if err != nil {
		return "", notFound(rawPath, err)
	}
	if !st.Mode().IsRegular() {
		return "", notFound(rawPath, errors.New("not a regular file"))
	}

	// 2) orientation, from metadata only
	orient, err := t.orientation(rawPath)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// 3) + 4) decode and rotate; the decoded buffer does not outlive this call
	img, err := t.decodeUpright(ctx, rawPath, orient, logger)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// 5) resize
	img = Scale(img, t.opts.MaxWidth)

	// 6) watermark
	if err := drawWatermark(img, WatermarkLines(meta, t.opts.Operator)); err != nil {
		return "", ioFault(rawPath, err)
	}

	// 7) encode
	finalPath, err := writeJPEG(t.opts.OutputDir, img, t.opts.JPEGQuality)
	if err != nil {
		return "", err
	}

	logger.Debug("transform ok",
		"final_path", finalPath,
		"orientation", orient.String(),
		"width", img.Rect.Dx(),
		"height", img.Rect.Dy(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return finalPath, nil
}

func (t *Transformer) orientation(path string) (Orientation, error) {
	if isHEIC(path) {
		return OrientIdentity, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return OrientIdentity, notFound(path, err)
	}
	defer f.Close()
	return ReadOrientation(bufio.NewReader(f)), nil
}

func (t *Transformer) decodeUpright(ctx context.Context, rawPath string, o Orientation, logger *slog.Logger) (*image.RGBA, error) {
	src := rawPath
	if isHEIC(rawPath) {
		png, cleanup, err := convertHEICtoPNG(ctx, t.opts.Runner, logger, t.opts.HeicConverter, rawPath)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, decodeFault(rawPath, err)
		}
		src = png
	}

	decoded, err := decodeFile(src)
	if err != nil {
		return nil, decodeFault(rawPath, err)
	}
	return Rotate(decoded, o), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return nil, errors.New("empty file")
	}

	img, format, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%s image has zero dimension", format)
	}
	return img, nil
}

func isHEIC(path string) bool {
	return constants.HasExt(constants.HEICExtensions, filepath.Ext(path))
}

// writeJPEG encodes img under dir as Final_<uuid>.jpg. The bytes go to a
// partial file that is synced and then renamed, so the final path either
// does not exist or holds a complete image.
func writeJPEG(dir string, img image.Image, quality int) (string, error) {
	finalPath := filepath.Join(dir, constants.FinalFilePrefix+uuid.NewString()+".jpg")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioFault(finalPath, err)
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*"+partialSuffix)
	if err != nil {
		return "", ioFault(finalPath, err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", ioFault(finalPath, err)
	}
	if err := w.Flush(); err != nil {
		return "", ioFault(finalPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", ioFault(finalPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", ioFault(finalPath, err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		return "", ioFault(finalPath, err)
	}
	ok = true
	_ = SyncDir(dir)
	return finalPath, nil
}

// SyncDir flushes dir's entries so a completed rename survives power loss.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}

// RemovePartials deletes encoder temp files left in dir by an interrupted
// transform. It returns how many were removed.
func RemovePartials(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, partialPrefix) && strings.HasSuffix(name, partialSuffix) {
			if os.Remove(filepath.Join(dir, name)) == nil {
				n++
			}
		}
	}
	return n
}
