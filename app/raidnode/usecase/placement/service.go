package placement

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type service struct {
	cfg      *config.RaidNode
	fs       dfs.FileSystem
	policies policy.Service

	auditInterval time.Duration
	numMovers     int

	// queue is nil when block moving is disabled; violations are then
	// only counted.
	queue chan MoveTask

	mu           sync.RWMutex
	violations   int64
	movesQueued  int64
	movesDone    int64
	movesFailed  int64
	movesDropped int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewService creates a placement service with necessary dependencies.
func NewService(cfg *config.RaidNode, fs dfs.FileSystem, policies policy.Service) (Service, error) {
	if cfg == nil || fs == nil || policies == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	logger = mlog.GetPackageLogger("app/raidnode/usecase/placement")

	audit, err := time.ParseDuration(cfg.AuditInterval)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert audit interval")
	}
	movers, err := strconv.Atoi(cfg.NumMovingThreads)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert number of moving threads")
	}
	queueLen, err := strconv.Atoi(cfg.BlockMoveQueueLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert block move queue length")
	}

	s := &service{
		cfg:           cfg,
		fs:            fs,
		policies:      policies,
		auditInterval: audit,
		numMovers:     movers,
		stopCh:        make(chan struct{}),
	}
	if queueLen > 0 && movers > 0 {
		s.queue = make(chan MoveTask, queueLen)
	}
	return s, nil
}

// Run starts the audit loop and the block mover workers.
func (s *service) Run() {
	s.wg.Add(1)
	go s.auditLoop()

	if s.queue == nil {
		return
	}
	for i := 0; i < s.numMovers; i++ {
		s.wg.Add(1)
		go s.mover()
	}
}

// Stop halts the audit loop and the movers. Queued moves not yet taken
// by a worker are abandoned; the next audit re-detects the violations.
func (s *service) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Stats returns the placement audit counters.
func (s *service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Violations:   s.violations,
		MovesQueued:  s.movesQueued,
		MovesDone:    s.movesDone,
		MovesFailed:  s.movesFailed,
		MovesDropped: s.movesDropped,
	}
}

func (s *service) auditLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.auditInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Audit()
		case <-s.stopCh:
			return
		}
	}
}

// Audit scans every parity file and queues the moves needed so that no
// node keeps more parity blocks of one stripe than the policy allows.
// One full repair of a violation is queued per audit.
func (s *service) Audit() {
	ctxLogger := mlog.GetMethodLogger(logger, "service.Audit")

	for _, location := range []string{s.cfg.ParityLocation, s.cfg.ParityLocationRS} {
		paths, err := s.walk(location)
		if err != nil {
			if errors.Cause(err) != dfs.ErrNotFound {
				ctxLogger.Error(errors.Wrapf(err, "failed to walk %s", location))
			}
			continue
		}

		for _, parityPath := range paths {
			if err := s.auditFile(location, parityPath); err != nil {
				ctxLogger.Warn(errors.Wrapf(err, "failed to audit %s", parityPath))
			}
		}
	}
}

// auditFile checks the stripes of one parity file.
func (s *service) auditFile(location, parityPath string) error {
	srcPath := strings.TrimPrefix(parityPath, strings.TrimSuffix(location, "/"))
	pol, err := s.policies.FindPolicy(srcPath)
	if err != nil {
		// Orphan parity of a removed policy. Left alone.
		return nil
	}
	// A single parity block per stripe cannot concentrate.
	if pol.ParityLength == 1 || pol.MaxParityPerNode < 1 {
		return nil
	}

	locations, err := s.fs.BlockLocations(parityPath)
	if err != nil {
		return err
	}

	m := pol.ParityLength
	for first := 0; first < len(locations); first += m {
		end := first + m
		if end > len(locations) {
			end = len(locations)
		}
		s.auditStripe(parityPath, first, locations[first:end], pol.MaxParityPerNode)
	}
	return nil
}

// auditStripe repairs one stripe's parity group: every node hosting
// threshold or more of its blocks sheds enough replicas to get back
// under.
func (s *service) auditStripe(parityPath string, first int, group []dfs.BlockLocation, threshold int) {
	counts := CountBlocksOnEachNode(group)

	for node, count := range counts {
		if count < threshold {
			continue
		}

		s.mu.Lock()
		s.violations++
		s.mu.Unlock()

		excess := count - threshold + 1
		for i, loc := range group {
			if excess == 0 {
				break
			}
			if !hosts(loc, node) {
				continue
			}
			to, ok := s.pickTarget(loc, counts)
			if !ok {
				continue
			}
			if s.enqueue(MoveTask{
				Path:       parityPath,
				BlockIndex: first + i,
				From:       node,
				To:         to,
			}) {
				counts[to]++
				excess--
			}
		}
	}
}

// pickTarget selects the node with the fewest blocks of the stripe
// that does not already hold a replica of the block.
func (s *service) pickTarget(loc dfs.BlockLocation, counts map[dfs.NodeID]int) (dfs.NodeID, bool) {
	nodes, err := s.fs.Nodes()
	if err != nil {
		return "", false
	}
	sort.Slice(nodes, func(i, j int) bool {
		ci, cj := counts[nodes[i].ID], counts[nodes[j].ID]
		if ci != cj {
			return ci < cj
		}
		return nodes[i].ID < nodes[j].ID
	})

	for _, n := range nodes {
		if !hosts(loc, n.ID) {
			return n.ID, true
		}
	}
	return "", false
}

// enqueue hands a move to the workers without ever blocking the audit.
// A full or disabled queue drops the move; the next audit retries.
func (s *service) enqueue(t MoveTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue == nil {
		s.movesDropped++
		return false
	}
	select {
	case s.queue <- t:
		s.movesQueued++
		return true
	default:
		s.movesDropped++
		return false
	}
}

func (s *service) mover() {
	defer s.wg.Done()

	ctxLogger := mlog.GetMethodLogger(logger, "service.mover")
	for {
		select {
		case t := <-s.queue:
			err := s.fs.RelocateBlock(t.Path, t.BlockIndex, t.From, t.To)

			s.mu.Lock()
			if err != nil {
				s.movesFailed++
			} else {
				s.movesDone++
			}
			s.mu.Unlock()

			if err != nil {
				ctxLogger.Warn(errors.Wrapf(err, "failed to move block %d of %s", t.BlockIndex, t.Path))
			}
		case <-s.stopCh:
			return
		}
	}
}

// drain processes every queued move on the calling goroutine. Used in
// place of the workers when auditing synchronously.
func (s *service) drain() {
	for {
		select {
		case t := <-s.queue:
			err := s.fs.RelocateBlock(t.Path, t.BlockIndex, t.From, t.To)

			s.mu.Lock()
			if err != nil {
				s.movesFailed++
			} else {
				s.movesDone++
			}
			s.mu.Unlock()
		default:
			return
		}
	}
}

func (s *service) walk(root string) ([]string, error) {
	entries, err := s.fs.List(root)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, e := range entries {
		if e.IsDir {
			sub, err := s.walk(e.Path)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		out = append(out, e.Path)
	}
	return out, nil
}

func hosts(loc dfs.BlockLocation, node dfs.NodeID) bool {
	for _, n := range loc.Nodes {
		if n == node {
			return true
		}
	}
	return false
}

// Service is the interface that provides placement domain's service.
type Service interface {
	// Run starts the background audit loop and block movers.
	Run()
	// Stop halts the loop and the movers.
	Stop()
	// Audit runs one audit pass synchronously.
	Audit()
	// Stats returns the placement audit counters.
	Stats() Stats
}
