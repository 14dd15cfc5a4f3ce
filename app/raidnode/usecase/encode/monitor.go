package encode

import (
	"sync"
	"time"

	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/pkg/errors"
)

// Stats aggregates the encoding progress counters. They are the sole
// visible signal of encoding progress.
type Stats struct {
	JobsMonitored int64
	JobsSucceeded int64
	JobsFailed    int64
	RunningJobs   int64
}

// monitor tracks the lifecycle of submitted jobs. It is the only
// writer of job state; terminal jobs are discarded and live on only
// in the counters.
type monitor struct {
	framework    compute.Framework
	pollInterval time.Duration

	mu        sync.RWMutex
	jobs      map[string]*Job
	monitored int64
	succeeded int64
	failed    int64
}

func newMonitor(framework compute.Framework, pollInterval time.Duration) *monitor {
	return &monitor{
		framework:    framework,
		pollInterval: pollInterval,
		jobs:         make(map[string]*Job),
	}
}

// add registers a submitted job for monitoring.
func (m *monitor) add(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.State = Submitted
	job.SubmittedAt = time.Now()
	m.jobs[job.ID] = job
	m.monitored++
}

// addFailed records a job the framework rejected at submission.
func (m *monitor) addFailed(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.State = Failed
	m.monitored++
	m.failed++
}

// jobsMonitored returns the total number of jobs ever submitted.
func (m *monitor) jobsMonitored() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitored
}

// jobsSucceeded returns the number of jobs that finished successfully.
func (m *monitor) jobsSucceeded() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.succeeded
}

// jobsFailed returns the number of jobs that failed.
func (m *monitor) jobsFailed() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.failed
}

// runningJobsCount returns the number of jobs not yet terminal.
func (m *monitor) runningJobsCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.jobs))
}

func (m *monitor) stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Stats{
		JobsMonitored: m.monitored,
		JobsSucceeded: m.succeeded,
		JobsFailed:    m.failed,
		RunningJobs:   int64(len(m.jobs)),
	}
}

// inflightFiles returns the source paths inside non-terminal jobs.
// The scheduler consults it so a pass never re-batches such a file.
func (m *monitor) inflightFiles() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]bool)
	for _, j := range m.jobs {
		for _, f := range j.Files() {
			out[f] = true
		}
	}
	return out
}

// poll asks the framework for the state of every live job and applies
// the transitions. The framework is queried outside the lock so slow
// polls never block the counter readers. Completion order is
// independent of submission order; the counters reflect true
// completion state either way.
func (m *monitor) poll() {
	ctxLogger := mlog.GetMethodLogger(logger, "monitor.poll")

	m.mu.RLock()
	handles := make(map[string]compute.Handle, len(m.jobs))
	for id, j := range m.jobs {
		handles[id] = j.Handle
	}
	m.mu.RUnlock()

	states := make(map[string]compute.State, len(handles))
	for id, h := range handles {
		st, err := m.framework.Poll(h)
		if err != nil {
			ctxLogger.Warn(errors.Wrapf(err, "failed to poll job %s", id))
			continue
		}
		states[id] = st
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, st := range states {
		// A concurrent poll may have retired the job already.
		j, ok := m.jobs[id]
		if !ok {
			continue
		}

		switch st {
		case compute.Pending:
			j.State = Submitted
		case compute.Running:
			j.State = Running
		case compute.Succeeded:
			j.State = Succeeded
			m.succeeded++
			delete(m.jobs, id)
		case compute.Failed:
			j.State = Failed
			m.failed++
			delete(m.jobs, id)
		}
	}
}

// run polls until stopped. Outcomes of jobs still in flight at stop
// time are simply never observed.
func (m *monitor) run(stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.poll()
		case <-stopCh:
			return
		}
	}
}
