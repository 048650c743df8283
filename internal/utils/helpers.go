package utils

import (
	"time"

	"github.com/joseph-ayodele/fieldsurvey/constants"
	"github.com/joseph-ayodele/fieldsurvey/internal/entity"
)

func ParseYMD(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	// strip time to midnight UTC to match DATE semantics
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

// CountByStatus tallies jobs per status. Every known status is present in
// the result, zero or not.
func CountByStatus(jobs []*entity.Job) map[constants.JobStatus]int {
	counts := map[constants.JobStatus]int{
		constants.JobStatusPending:    0,
		constants.JobStatusProcessing: 0,
		constants.JobStatusCompleted:  0,
		constants.JobStatusFailed:     0,
	}
	for _, j := range jobs {
		counts[j.Status]++
	}
	return counts
}
