package imaging

import (
	"fmt"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
)

// FaultKind classifies a transform failure.
type FaultKind string

const (
	FaultNotFound    FaultKind = "NotFound"
	FaultDecodeError FaultKind = "DecodeError"
	FaultIOError     FaultKind = "IOError"
)

// TransformFault is returned by every failed transform step.
type TransformFault struct {
	Kind FaultKind
	Path string
	Err  error
}

func (f *TransformFault) Error() string {
	switch f.Kind {
	case FaultNotFound:
		return fmt.Sprintf("raw file not found: %s", f.Path)
	case FaultDecodeError:
		return fmt.Sprintf("decode %s: %v", f.Path, f.Err)
	default:
		return fmt.Sprintf("write %s: %v", f.Path, f.Err)
	}
}

// Unwrap exposes both the kind's sentinel and the underlying cause.
func (f *TransformFault) Unwrap() []error {
	errs := []error{f.sentinel()}
	if f.Err != nil {
		errs = append(errs, f.Err)
	}
	return errs
}

// Code maps the kind onto the shared error codes.
func (f *TransformFault) Code() string {
	switch f.Kind {
	case FaultNotFound:
		return common.CodeNotFound
	case FaultDecodeError:
		return common.CodeDecodeError
	default:
		return common.CodeIOError
	}
}

func (f *TransformFault) sentinel() error {
	switch f.Kind {
	case FaultNotFound:
		return common.ErrNotFound
	case FaultDecodeError:
		return common.ErrDecode
	default:
		return common.ErrIO
	}
}

func notFound(path string, err error) error {
	return &TransformFault{Kind: FaultNotFound, Path: path, Err: err}
}

func decodeFault(path string, err error) error {
	return &TransformFault{Kind: FaultDecodeError, Path: path, Err: err}
}

func ioFault(path string, err error) error {
	return &TransformFault{Kind: FaultIOError, Path: path, Err: err}
}
