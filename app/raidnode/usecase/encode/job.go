package encode

import (
	"time"

	"github.com/chanyoung/raidfs/pkg/compute"
)

// JobState represents the current state of an encoding job.
type JobState int

const (
	// Submitted : handed to the compute framework, not yet running.
	Submitted JobState = iota
	// Running : now on running.
	Running
	// Succeeded : finished, every file encoded.
	Succeeded
	// Failed : finished, at least one file not encoded. The files
	// stay eligible and are re-selected on a later pass.
	Failed
)

// String returns a human readable state name.
func (s JobState) String() string {
	switch s {
	case Submitted:
		return "submitted"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == Succeeded || s == Failed
}

// Job is an immutable batch of eligible files submitted together.
// The scheduler creates jobs; the monitor is the sole writer of their
// state afterwards.
type Job struct {
	ID          string
	Policy      string
	Items       []compute.WorkItem
	Handle      compute.Handle
	State       JobState
	SubmittedAt time.Time
}

// Files returns the source paths batched in the job.
func (j *Job) Files() []string {
	out := make([]string, 0, len(j.Items))
	for _, it := range j.Items {
		out = append(out, it.SourcePath)
	}
	return out
}
