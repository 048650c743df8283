package entity

import (
	"errors"
	"fmt"
	"time"

	"github.com/joseph-ayodele/fieldsurvey/constants"
)

// Job is one captured photo moving through the processing pipeline.
type Job struct {
	ID          int64               `json:"id"`
	RawPath     string              `json:"raw_path"`
	FinalPath   string              `json:"final_path,omitempty"`
	Latitude    float64             `json:"latitude"`
	Longitude   float64             `json:"longitude"`
	Altitude    float64             `json:"altitude"`
	CapturedAt  time.Time           `json:"captured_at"`
	Caption     string              `json:"caption,omitempty"`
	Status      constants.JobStatus `json:"status"`
	ErrorDetail string              `json:"error_detail,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Coordinate returns the job's location.
func (j *Job) Coordinate() Coordinate {
	return Coordinate{Latitude: j.Latitude, Longitude: j.Longitude, Altitude: j.Altitude}
}

// HasLocation is false for the (0,0,0) unknown-location sentinel.
func (j *Job) HasLocation() bool {
	return !j.Coordinate().IsUnknown()
}

// Clone returns a copy that shares nothing with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	return &c
}

// Validate checks the record-level invariants that must hold before a write.
func (j *Job) Validate() error {
	var errs []error
	if j.RawPath == "" {
		errs = append(errs, errors.New("raw_path is required"))
	}
	if j.CapturedAt.IsZero() {
		errs = append(errs, errors.New("captured_at is required"))
	}
	if !j.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", j.Status))
	}
	switch j.Status {
	case constants.JobStatusCompleted:
		if j.FinalPath == "" {
			errs = append(errs, errors.New("completed job requires final_path"))
		}
	case constants.JobStatusFailed:
		if j.ErrorDetail == "" {
			errs = append(errs, errors.New("failed job requires error_detail"))
		}
	}
	if j.Status != constants.JobStatusFailed && j.ErrorDetail != "" {
		errs = append(errs, fmt.Errorf("error_detail set on %s job", j.Status))
	}
	return errors.Join(errs...)
}
