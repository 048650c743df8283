package geo

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/fieldsurvey/internal/common"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

// Accuracy is the precision requested from a Sensor for a fresh fix.
type Accuracy int

const (
	AccuracyDefault Accuracy = iota
	AccuracyBest
)

// DefaultFixTimeout bounds a fresh fix request.
const DefaultFixTimeout = 10 * time.Second

var (
	ErrUnavailable      = errors.New("location unavailable")
	ErrDisabled         = errors.New("location services disabled")
	ErrPermissionDenied = errors.New("location permission denied")
)

// Sensor is the platform location provider.
type Sensor interface {
	// LastKnown returns the cached fix without activating hardware.
	// A nil coordinate with a nil error means nothing is cached.
	LastKnown(ctx context.Context) (*entity.Coordinate, error)
	Current(ctx context.Context, accuracy Accuracy) (*entity.Coordinate, error)
}

// Source turns sensor access into a best-effort coordinate. It never fails:
// every fault degrades to "no fix".
type Source struct {
	sensor     Sensor
	fixTimeout time.Duration
	logger     *slog.Logger
}

func NewSource(sensor Sensor, fixTimeout time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if fixTimeout <= 0 {
		fixTimeout = DefaultFixTimeout
	}
	return &Source{sensor: sensor, fixTimeout: fixTimeout, logger: logger}
}

// Acquire returns the cached fix when one exists, otherwise a fresh
// best-accuracy fix bounded by the fix timeout. Returns nil on any fault.
func (s *Source) Acquire(ctx context.Context) *entity.Coordinate {
	if s == nil || s.sensor == nil {
		return nil
	}

	c, err := s.sensor.LastKnown(ctx)
	if err != nil {
		s.fault("last_known", err)
		return nil
	}
	if c != nil {
		return c
	}

	fctx, cancel := context.WithTimeout(ctx, s.fixTimeout)
	defer cancel()

	type result struct {
		c   *entity.Coordinate
		err error
	}
	// A sensor that ignores ctx must not hold the caller past the timeout.
	done := make(chan result, 1)
	go func() {
		c, err := s.sensor.Current(fctx, AccuracyBest)
		done <- result{c, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			s.fault("current", r.err)
			return nil
		}
		if r.c == nil {
			s.logger.Debug("sensor returned no fix")
		}
		return r.c
	case <-fctx.Done():
		s.fault("current", fctx.Err())
		return nil
	}
}

func (s *Source) fault(op string, err error) {
	s.logger.Warn("geo.acquire.failed", "code", common.CodeSensorFault, "op", op, "error", err)
}
