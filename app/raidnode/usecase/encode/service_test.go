package encode

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/dfs/memfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/pkg/errors"
)

const testPolicyFile = `{
	"policies": [
		{
			"name": "user-a",
			"srcPath": "/user/a",
			"erasureCode": "xor",
			"srcReplication": 2,
			"targetReplication": 1,
			"metaReplication": 1,
			"stripeLength": 4,
			"modTimePeriod": "1s"
		}
	]
}`

// stubFramework accepts every batch and reports a fixed state.
type stubFramework struct {
	mu         sync.Mutex
	submitted  [][]compute.WorkItem
	state      compute.State
	failSubmit bool
}

func (f *stubFramework) Submit(items []compute.WorkItem) (compute.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSubmit {
		return "", errors.New("stub: submit rejected")
	}
	f.submitted = append(f.submitted, items)
	return compute.Handle(fmt.Sprintf("job-%d", len(f.submitted))), nil
}

func (f *stubFramework) Poll(h compute.Handle) (compute.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *stubFramework) Cancel(h compute.Handle) error { return nil }

// blockingFramework parks every Poll until released.
type blockingFramework struct {
	stubFramework
	release chan struct{}
}

func (f *blockingFramework) Poll(h compute.Handle) (compute.State, error) {
	<-f.release
	return compute.Succeeded, nil
}

func newTestService(t *testing.T, fs *memfs.MemFS, fw compute.Framework, filesPerJob, jobsPerScan, filesPerScan string) *service {
	t.Helper()

	dir := t.TempDir()
	policyFile := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policyFile, []byte(testPolicyFile), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.RaidNode{
		PolicyFile:        policyFile,
		ParityLocation:    "/destraid",
		ParityLocationRS:  "/destraidrs",
		RSParityLength:    "3",
		RescanInterval:    "1h",
		JobPollInterval:   "10ms",
		MaxFilesPerJob:    filesPerJob,
		MaxJobsPerScan:    jobsPerScan,
		MaxFilesPerScan:   filesPerScan,
		MaxConcurrentJobs: "10",
	}

	policies, err := policy.NewService(cfg, fs)
	if err != nil {
		t.Fatal(err)
	}
	s, err := newService(cfg, policies, fw)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func writeSourceFiles(t *testing.T, fs *memfs.MemFS, n int) {
	t.Helper()

	for i := 1; i <= n; i++ {
		p := fmt.Sprintf("/user/a/dir%d/f%02d", (i-1)%4, i)
		if err := fs.WriteFile(p, make([]byte, 200), 2, 64); err != nil {
			t.Fatal(err)
		}
		if err := fs.SetModTime(p, time.Now().Add(-time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
}

// With 12 eligible files and every per-pass bound at 3, each pass must
// stop after one job of 3 files and resume from the cursor, so the
// whole set drains in exactly 4 passes.
func TestBoundedPassesDrainWithCursor(t *testing.T) {
	fs := memfs.New(4)
	fw := &stubFramework{state: compute.Succeeded}
	s := newTestService(t, fs, fw, "3", "3", "3")

	writeSourceFiles(t, fs, 12)

	for pass := 1; pass <= 4; pass++ {
		if n := s.runPass(); n != 1 {
			t.Fatalf("pass %d submitted %d jobs, expected 1", pass, n)
		}
	}
	// Everything is either batched or in flight now.
	if n := s.runPass(); n != 0 {
		t.Fatalf("drained pass submitted %d jobs, expected 0", n)
	}

	fw.mu.Lock()
	total := 0
	seen := make(map[string]bool)
	for _, items := range fw.submitted {
		total += len(items)
		for _, it := range items {
			if seen[it.SourcePath] {
				t.Errorf("%s was batched twice", it.SourcePath)
			}
			seen[it.SourcePath] = true
		}
	}
	fw.mu.Unlock()
	if total != 12 {
		t.Errorf("submitted %d files in total, expected 12", total)
	}

	s.monitor.poll()
	stats := s.Stats()
	if stats.JobsMonitored != 4 || stats.JobsSucceeded != 4 || stats.RunningJobs != 0 {
		t.Errorf("stats = %+v, expected 4 monitored, 4 succeeded, 0 running", stats)
	}
}

func TestBatchFlushAtMaxFilesPerJob(t *testing.T) {
	fs := memfs.New(4)
	fw := &stubFramework{state: compute.Succeeded}
	s := newTestService(t, fs, fw, "2", "10", "100")

	writeSourceFiles(t, fs, 5)

	if n := s.runPass(); n != 3 {
		t.Fatalf("submitted %d jobs, expected 3", n)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	sizes := []int{len(fw.submitted[0]), len(fw.submitted[1]), len(fw.submitted[2])}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("job sizes = %v, expected [2 2 1]", sizes)
	}
}

// A rejected submission counts as a failed job and its files become
// eligible again on the next pass.
func TestSubmitFailure(t *testing.T) {
	fs := memfs.New(4)
	fw := &stubFramework{state: compute.Succeeded, failSubmit: true}
	s := newTestService(t, fs, fw, "10", "10", "100")

	writeSourceFiles(t, fs, 3)

	if n := s.runPass(); n != 1 {
		t.Fatalf("submitted %d jobs, expected 1", n)
	}
	stats := s.Stats()
	if stats.JobsFailed != 1 || stats.RunningJobs != 0 {
		t.Errorf("stats = %+v, expected 1 failed, 0 running", stats)
	}

	// The cursor covered every file, so the retry pass starts over.
	fw.mu.Lock()
	fw.failSubmit = false
	fw.mu.Unlock()

	if n := s.runPass(); n != 1 {
		t.Fatalf("retry pass submitted %d jobs, expected 1", n)
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.submitted) != 1 || len(fw.submitted[0]) != 3 {
		t.Errorf("retry must resubmit all 3 files, got %v", fw.submitted)
	}
}

// The counters stay readable while the framework is slow to answer a
// poll; the monitor never holds its lock across framework calls.
func TestStatsNotBlockedBySlowPoll(t *testing.T) {
	fs := memfs.New(4)
	fw := &blockingFramework{release: make(chan struct{})}
	s := newTestService(t, fs, fw, "10", "10", "100")

	writeSourceFiles(t, fs, 3)
	if n := s.runPass(); n != 1 {
		t.Fatalf("submitted %d jobs, expected 1", n)
	}

	pollDone := make(chan struct{})
	go func() {
		s.monitor.poll()
		close(pollDone)
	}()

	statsDone := make(chan Stats, 1)
	go func() { statsDone <- s.Stats() }()
	select {
	case stats := <-statsDone:
		if stats.RunningJobs != 1 {
			t.Errorf("stats = %+v, expected 1 running job", stats)
		}
	case <-time.After(time.Second):
		t.Fatal("stats blocked behind an in-flight poll")
	}

	close(fw.release)
	<-pollDone
	stats := s.Stats()
	if stats.JobsSucceeded != 1 || stats.RunningJobs != 0 {
		t.Errorf("stats after poll = %+v, expected 1 succeeded, 0 running", stats)
	}
}

// Files inside live jobs are skipped by later passes.
func TestInflightFilesNotRebatched(t *testing.T) {
	fs := memfs.New(4)
	fw := &stubFramework{state: compute.Running}
	s := newTestService(t, fs, fw, "10", "10", "100")

	writeSourceFiles(t, fs, 3)

	if n := s.runPass(); n != 1 {
		t.Fatalf("submitted %d jobs, expected 1", n)
	}
	// The job is still running, nothing new to batch.
	if n := s.runPass(); n != 0 {
		t.Fatalf("second pass submitted %d jobs, expected 0", n)
	}
}
