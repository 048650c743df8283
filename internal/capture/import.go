package capture

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/imaging"
)

// Import copies a scratch capture into permanent storage under a fresh
// <uuid><ext> name, then removes the scratch file best effort. It returns
// the permanent path.
func Import(scratchPath, permanentDir string) (string, error) {
	dst, err := copyToPermanent(scratchPath, permanentDir)
	if err != nil {
		return "", err
	}
	_ = os.Remove(scratchPath)
	return dst, nil
}

// copyToPermanent durably copies src into dir. The destination name appears
// only once its content is synced.
func copyToPermanent(src, dir string) (string, error) {
	ext := constants.NormalizeExt(filepath.Ext(src))
	if !constants.HasExt(constants.CaptureExtensions, ext) {
		return "", common.InvalidInputErrorf("unsupported capture type %q", filepath.Ext(src))
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", common.NewAppError(common.CodeNotFound, "capture not found: "+src, common.ErrNotFound)
		}
		return "", common.NewAppError(common.CodeIOError, "open capture", fmt.Errorf("%w: %w", common.ErrIO, err))
	}
	defer in.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioErr("create permanent dir", err)
	}
	dst := filepath.Join(dir, uuid.NewString()+"."+ext)

	tmp, err := os.CreateTemp(dir, ".import-*.part")
	if err != nil {
		return "", ioErr("create temp", err)
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, in); err != nil {
		return "", ioErr("copy capture", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", ioErr("sync capture", err)
	}
	if err := tmp.Close(); err != nil {
		return "", ioErr("close capture", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", ioErr("rename capture", err)
	}
	ok = true
	if err := syncDir(dir); err != nil {
		_ = os.Remove(dst)
		return "", ioErr("sync permanent dir", err)
	}
	return dst, nil
}

var syncDir = imaging.SyncDir

func ioErr(op string, err error) error {
	return common.NewAppError(common.CodeIOError, op, fmt.Errorf("%w: %w", common.ErrIO, err))
}
