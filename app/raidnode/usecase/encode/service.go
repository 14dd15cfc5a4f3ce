package encode

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/chanyoung/raidfs/pkg/util/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

// For pass state transitioning. A traversal pass walks
// idle → scanning → batching → submitting → idle; the fsm returning
// nil puts the scheduler back to idle until the next rescan tick.
type fsm func() (next fsm)

type service struct {
	cfg       *config.RaidNode
	policies  policy.Service
	framework compute.Framework
	monitor   *monitor

	rescanInterval    time.Duration
	maxFilesPerJob    int
	maxJobsPerScan    int
	maxFilesPerScan   int
	maxConcurrentJobs int

	// cursor is the resumable traversal position: per policy, the
	// last batched path. A pass resumes strictly after it and resets
	// it once the policy's candidate set was fully covered.
	cursor map[string]string

	// Pass-scoped state, valid between scanning and submitting.
	passPolicies []*policy.Effective
	passInflight map[string]bool
	passJobs     []*Job
	passFiles    int
	passStalled  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService creates an encoding scheduler service with necessary
// dependencies.
func NewService(cfg *config.RaidNode, policies policy.Service, framework compute.Framework) (Service, error) {
	return newService(cfg, policies, framework)
}

func newService(cfg *config.RaidNode, policies policy.Service, framework compute.Framework) (*service, error) {
	if cfg == nil || policies == nil || framework == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	logger = mlog.GetPackageLogger("app/raidnode/usecase/encode")

	rescan, err := time.ParseDuration(cfg.RescanInterval)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert rescan interval")
	}
	poll, err := time.ParseDuration(cfg.JobPollInterval)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert job poll interval")
	}

	s := &service{
		cfg:            cfg,
		policies:       policies,
		framework:      framework,
		monitor:        newMonitor(framework, poll),
		rescanInterval: rescan,
		cursor:         make(map[string]string),
		stopCh:         make(chan struct{}),
	}

	for _, p := range []struct {
		name  string
		value string
		dst   *int
	}{
		{"max files per job", cfg.MaxFilesPerJob, &s.maxFilesPerJob},
		{"max jobs per scan", cfg.MaxJobsPerScan, &s.maxJobsPerScan},
		{"max files per scan", cfg.MaxFilesPerScan, &s.maxFilesPerScan},
		{"max concurrent jobs", cfg.MaxConcurrentJobs, &s.maxConcurrentJobs},
	} {
		v, err := strconv.Atoi(p.value)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to convert %s", p.name)
		}
		if v < 1 {
			return nil, fmt.Errorf("invalid %s: %d", p.name, v)
		}
		*p.dst = v
	}

	return s, nil
}

// Run starts the scan loop and the job monitor loop.
func (s *service) Run() {
	s.wg.Add(2)
	go s.scanLoop()
	go s.monitor.run(s.stopCh, &s.wg)
}

// Stop halts both loops and waits for them to exit.
func (s *service) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Stats returns the encoding progress counters.
func (s *service) Stats() Stats {
	return s.monitor.stats()
}

func (s *service) scanLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass()
		case <-s.stopCh:
			return
		}
	}
}

// runPass executes one bounded traversal pass and returns the number
// of jobs handed to the compute framework.
func (s *service) runPass() int {
	s.passPolicies = nil
	s.passInflight = nil
	s.passJobs = nil
	s.passFiles = 0
	s.passStalled = false

	for state := s.scanning; state != nil; {
		state = state()
	}

	submitted := len(s.passJobs)
	s.passJobs = nil
	return submitted
}

// scanning refreshes the policy set and the in-flight file view.
func (s *service) scanning() fsm {
	ctxLogger := mlog.GetMethodLogger(logger, "service.scanning")

	if err := s.policies.Reload(); err != nil {
		// Keep evaluating the previously resolved policies.
		ctxLogger.Error(errors.Wrap(err, "failed to reload policies"))
	}

	s.passPolicies = s.policies.AllPolicies()
	s.passInflight = s.monitor.inflightFiles()
	return s.batching
}

// batching groups eligible files into jobs, stopping early once the
// per-pass bounds are reached. The remainder is picked up on the next
// rescan through the advanced cursor.
func (s *service) batching() fsm {
	ctxLogger := mlog.GetMethodLogger(logger, "service.batching")

	for _, p := range s.passPolicies {
		if len(s.passJobs) >= s.maxJobsPerScan || s.passFiles >= s.maxFilesPerScan {
			return s.submitting
		}

		files, err := s.policies.SelectEligibleFiles(p)
		if err != nil {
			// Transient; the next pass retries this policy.
			ctxLogger.Error(errors.Wrapf(err, "failed to select files of policy %s", p.Name))
			continue
		}

		cursor := s.cursor[p.Name]
		covered := true
		var batch []dfs.FileInfo

		for _, f := range files {
			if cursor != "" && f.Path <= cursor {
				continue
			}
			if s.passInflight[f.Path] {
				continue
			}

			batch = append(batch, f)
			s.passFiles++
			s.cursor[p.Name] = f.Path

			if len(batch) == s.maxFilesPerJob {
				s.addJob(p, batch)
				batch = nil
			}
			if len(s.passJobs) >= s.maxJobsPerScan || s.passFiles >= s.maxFilesPerScan {
				covered = false
				break
			}
		}
		if len(batch) > 0 {
			s.addJob(p, batch)
		}
		if covered {
			// Fully covered: the next pass rescans from the start.
			s.cursor[p.Name] = ""
		}
	}
	return s.submitting
}

// submitting hands the batched jobs to the compute framework. It
// stalls, without failing, while the in-flight ceiling is reached.
func (s *service) submitting() fsm {
	ctxLogger := mlog.GetMethodLogger(logger, "service.submitting")

	for _, job := range s.passJobs {
		if !s.waitForSlot() {
			// Shutting down; unsubmitted files stay eligible.
			return nil
		}

		h, err := s.framework.Submit(job.Items)
		if err != nil {
			ctxLogger.Error(errors.Wrapf(err, "failed to submit job %s", job.ID))
			s.monitor.addFailed(job)
			continue
		}
		job.Handle = h
		s.monitor.add(job)
	}
	return nil
}

func (s *service) addJob(p *policy.Effective, files []dfs.FileInfo) {
	items := make([]compute.WorkItem, 0, len(files))
	for _, f := range files {
		items = append(items, compute.WorkItem{
			SourcePath:        f.Path,
			ParityPath:        p.ParityPath(f.Path),
			Code:              p.Code,
			StripeLength:      p.StripeLength,
			ParityLength:      p.ParityLength,
			TargetReplication: p.TargetReplication,
			MetaReplication:   p.MetaReplication,
		})
	}

	s.passJobs = append(s.passJobs, &Job{
		ID:     uuid.Gen(),
		Policy: p.Name,
		Items:  items,
	})
}

// waitForSlot blocks until the number of in-flight jobs drops below
// the ceiling. Returns false when the service is stopping.
func (s *service) waitForSlot() bool {
	for s.monitor.runningJobsCount() >= int64(s.maxConcurrentJobs) {
		s.passStalled = true
		s.monitor.poll()

		select {
		case <-s.stopCh:
			return false
		case <-time.After(s.monitor.pollInterval):
		}
	}
	return true
}

// Service is the interface that provides encode domain's service.
type Service interface {
	// Run starts the background scan and monitor loops.
	Run()
	// Stop halts the loops. In-flight compute jobs keep running in
	// the framework; their outcome is no longer observed.
	Stop()
	// Stats returns the encoding progress counters.
	Stats() Stats
}
