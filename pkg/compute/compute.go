// Package compute defines the work-execution strategy the raid
// coordinator drives encoding jobs through. The coordinator only
// submits and polls; it never blocks on an individual job.
package compute

import "github.com/chanyoung/raidfs/pkg/stripe"

// Handle identifies one submitted job inside the framework.
type Handle string

// State is the lifecycle state of a submitted job.
type State int

const (
	// Pending : accepted, not yet running.
	Pending State = iota
	// Running : now on running.
	Running
	// Succeeded : every work item finished.
	Succeeded
	// Failed : at least one work item failed, or the job was canceled.
	Failed
)

// String returns a human readable state name.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
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
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed
}

// WorkItem is the encoding work for one file.
type WorkItem struct {
	SourcePath        string
	ParityPath        string
	Code              stripe.Kind
	StripeLength      int
	ParityLength      int
	TargetReplication int
	MetaReplication   int
}

// Framework executes batches of encoding work.
type Framework interface {
	// Submit hands a batch over for execution and returns without
	// waiting for completion.
	Submit(items []WorkItem) (Handle, error)
	// Poll reports the current state of a submitted job.
	Poll(h Handle) (State, error)
	// Cancel stops a job. Already finished work is not undone.
	Cancel(h Handle) error
}
