// Package local implements the in-process work-execution strategy:
// encoding runs on a bounded pool of goroutines inside the raid node
// instead of a distributed compute cluster.
package local

import (
	"fmt"
	"sync"

	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/stripe"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/chanyoung/raidfs/pkg/util/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type job struct {
	state    compute.State
	canceled bool
}

// Executor runs encoding work on local goroutines, at most maxWorkers
// at a time.
type Executor struct {
	fs  dfs.FileSystem
	sem chan struct{}

	mu   sync.Mutex
	jobs map[compute.Handle]*job
}

// NewExecutor creates a local executor with necessary dependencies.
func NewExecutor(fs dfs.FileSystem, maxWorkers int) (*Executor, error) {
	if fs == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	if maxWorkers < 1 {
		return nil, fmt.Errorf("invalid number of workers")
	}
	logger = mlog.GetPackageLogger("pkg/compute/local")

	return &Executor{
		fs:   fs,
		sem:  make(chan struct{}, maxWorkers),
		jobs: make(map[compute.Handle]*job),
	}, nil
}

// Submit accepts a batch and schedules it on the worker pool.
func (e *Executor) Submit(items []compute.WorkItem) (compute.Handle, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("empty batch")
	}

	h := compute.Handle(uuid.Gen())

	e.mu.Lock()
	e.jobs[h] = &job{state: compute.Pending}
	e.mu.Unlock()

	go e.run(h, items)
	return h, nil
}

// Poll reports the current state of a submitted job.
func (e *Executor) Poll(h compute.Handle) (compute.State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[h]
	if !ok {
		return 0, fmt.Errorf("unknown job handle %q", h)
	}
	return j.state, nil
}

// Cancel stops a job between work items.
func (e *Executor) Cancel(h compute.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[h]
	if !ok {
		return fmt.Errorf("unknown job handle %q", h)
	}
	if !j.state.Terminal() {
		j.canceled = true
	}
	return nil
}

func (e *Executor) run(h compute.Handle, items []compute.WorkItem) {
	ctxLogger := mlog.GetMethodLogger(logger, "Executor.run")

	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	e.setState(h, compute.Running)

	final := compute.Succeeded
	for _, item := range items {
		if e.isCanceled(h) {
			final = compute.Failed
			break
		}
		if err := e.encodeFile(item); err != nil {
			ctxLogger.Error(errors.Wrapf(err, "failed to encode %s", item.SourcePath))
			final = compute.Failed
		}
	}
	e.setState(h, final)
}

// encodeFile derives the parity file of one source file, writes it at
// the meta replication and drops the source to the target replication.
func (e *Executor) encodeFile(item compute.WorkItem) error {
	fi, err := e.fs.Stat(item.SourcePath)
	if err != nil {
		return errors.Wrap(err, "stat source failed")
	}

	codec, err := stripe.NewCodec(item.Code, item.StripeLength, item.ParityLength)
	if err != nil {
		return err
	}

	geom := stripe.Geometry{
		BlockSize:    fi.BlockSize,
		FileSize:     fi.Size,
		StripeLength: item.StripeLength,
		ParityLength: codec.ParityLength(),
	}

	parity := make([]byte, 0, int64(geom.NumStripes()*codec.ParityLength())*fi.BlockSize)
	for s := 0; s < geom.NumStripes(); s++ {
		first, count := geom.SourceRange(s)

		source := make([][]byte, 0, count)
		for i := first; i < first+count; i++ {
			b, err := e.fs.ReadBlock(item.SourcePath, i)
			if err != nil {
				return errors.Wrapf(err, "read block %d failed", i)
			}
			// Pad to the block size so parity blocks stay
			// block-aligned in the parity file.
			source = append(source, padBlock(b, fi.BlockSize))
		}

		pblocks, err := codec.Encode(source)
		if err != nil {
			return errors.Wrapf(err, "encode stripe %d failed", s)
		}
		for _, p := range pblocks {
			parity = append(parity, p...)
		}
	}

	if err := e.fs.WriteFile(item.ParityPath, parity, item.MetaReplication, fi.BlockSize); err != nil {
		return errors.Wrap(err, "write parity file failed")
	}
	if fi.Replication != item.TargetReplication {
		if err := e.fs.SetReplication(item.SourcePath, item.TargetReplication); err != nil {
			return errors.Wrap(err, "set target replication failed")
		}
	}
	return nil
}

func (e *Executor) setState(h compute.Handle, s compute.State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if j, ok := e.jobs[h]; ok && !j.state.Terminal() {
		j.state = s
	}
}

func (e *Executor) isCanceled(h compute.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[h]
	return ok && j.canceled
}

func padBlock(b []byte, size int64) []byte {
	if int64(len(b)) == size {
		return b
	}
	p := make([]byte, size)
	copy(p, b)
	return p
}
