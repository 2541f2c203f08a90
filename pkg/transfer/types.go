package transfer

import (
	"time"
)

type JobStatus string

const (
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
	StatusSkipped JobStatus = "skipped"
)

type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// Job is one requested movement of a local file to a path on a remote host.
type Job struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	DestHostID string `json:"dest_host_id"`
	DestPath   string `json:"dest_path"`

	// ExpectedSize is the known source size in bytes; zero means unknown and
	// the engine falls back to the local stat.
	ExpectedSize int64 `json:"expected_size,omitempty"`

	// ExpectedChecksum is an optional xxhash64 hex digest of the source
	// content, checked against the streamed bytes.
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// Result is the immutable outcome of one job.
type Result struct {
	JobID            string        `json:"job_id"`
	Status           JobStatus     `json:"status"`
	BytesTransferred int64         `json:"bytes_transferred"`
	Elapsed          time.Duration `json:"elapsed"`
	Attempts         int           `json:"attempts"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// RunReport aggregates one run's results in job submission order.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Results    []Result  `json:"results"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
}

// Counts tallies results by status.
func (r *RunReport) Counts() (succeeded, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return succeeded, failed, skipped
}

func overallStatus(results []Result) RunStatus {
	if len(results) == 0 {
		return RunSuccess
	}
	succeeded := 0
	for _, res := range results {
		if res.Status == StatusSuccess {
			succeeded++
		}
	}
	switch succeeded {
	case len(results):
		return RunSuccess
	case 0:
		return RunFailed
	default:
		return RunPartialFailure
	}
}
