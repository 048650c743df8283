package constants

// JobStatus is the canonical status for rows in photo_jobs.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusPending    JobStatus = "PENDING"    // captured, raw in permanent storage, not yet processed
	JobStatusProcessing JobStatus = "PROCESSING" // transform started (or interrupted by a crash)
	JobStatusCompleted  JobStatus = "COMPLETED"  // final image written, raw removed
	JobStatusFailed     JobStatus = "FAILED"     // transform failed, raw kept for retry
)

// UnfinishedStatuses are the states the recovery sweep treats as "needs work".
var UnfinishedStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusFailed,
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a processing attempt has ended. A Failed job is
// terminal but can still be re-entered with Retry.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) String() string { return string(s) }
