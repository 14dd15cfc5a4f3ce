package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

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
	defaults Defaults

	mu       sync.RWMutex
	resolved map[string]*Effective
}

// NewService creates a policy service with necessary dependencies.
func NewService(cfg *config.RaidNode, fs dfs.FileSystem) (Service, error) {
	if cfg == nil || fs == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	logger = mlog.GetPackageLogger("app/raidnode/usecase/policy")

	rsParity, err := strconv.Atoi(cfg.RSParityLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert rs parity length")
	}

	s := &service{
		cfg: cfg,
		fs:  fs,
		defaults: Defaults{
			RSParityLength:   rsParity,
			ParityLocation:   cfg.ParityLocation,
			ParityLocationRS: cfg.ParityLocationRS,
		},
		resolved: make(map[string]*Effective),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the policy file and resolves the inheritance hierarchy
// into flattened records. A policy failing resolution is dropped and
// logged; the remaining policies stay in effect.
func (s *service) Reload() error {
	ctxLogger := mlog.GetMethodLogger(logger, "service.Reload")

	raw, err := os.ReadFile(s.cfg.PolicyFile)
	if err != nil {
		return errors.Wrap(err, "failed to read policy file")
	}

	var doc struct {
		Policies []Info `json:"policies"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "failed to parse policy file")
	}

	resolved, err := Resolve(doc.Policies, s.defaults)
	if err != nil {
		ctxLogger.Error(errors.Wrap(err, "some policies failed to resolve"))
	}
	if len(resolved) == 0 && err != nil {
		return err
	}

	s.mu.Lock()
	s.resolved = resolved
	s.mu.Unlock()
	return nil
}

// AllPolicies returns every resolved policy, sorted by name.
func (s *service) AllPolicies() []*Effective {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Effective, 0, len(s.resolved))
	for _, p := range s.resolved {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindPolicy returns the policy governing the given path: the policy
// with the longest matching source prefix, or a file list policy
// enumerating the path.
func (s *service) FindPolicy(path string) (*Effective, error) {
	var best *Effective
	for _, p := range s.AllPolicies() {
		if p.SrcPrefix != "" && underPrefix(path, p.SrcPrefix) {
			if best == nil || len(p.SrcPrefix) > len(best.SrcPrefix) {
				best = p
			}
			continue
		}
		if p.FileListPath != "" && best == nil {
			files, err := s.listedFiles(p)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f == path {
					best = p
					break
				}
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no policy governs %s", path)
	}
	return best, nil
}

// SelectEligibleFiles returns the files currently eligible for
// encoding under the given policy, ordered by path. A transient file
// system failure on one file is logged and the file is skipped; the
// next pass retries it.
func (s *service) SelectEligibleFiles(p *Effective) ([]dfs.FileInfo, error) {
	ctxLogger := mlog.GetMethodLogger(logger, "service.SelectEligibleFiles")

	var paths []string
	if p.FileListPath != "" {
		listed, err := s.listedFiles(p)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read policy file list")
		}
		paths = listed
	} else {
		walked, err := s.walk(p.SrcPrefix)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to walk %s", p.SrcPrefix)
		}
		paths = walked
	}

	now := time.Now()
	var out []dfs.FileInfo
	for _, path := range paths {
		if s.underParityLocation(path) {
			continue
		}
		fi, err := s.fs.Stat(path)
		if err != nil {
			ctxLogger.Warn(errors.Wrapf(err, "skip %s this pass", path))
			continue
		}
		ok, err := s.isEligible(p, fi, now)
		if err != nil {
			ctxLogger.Warn(errors.Wrapf(err, "skip %s this pass", path))
			continue
		}
		if ok {
			out = append(out, fi)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// isEligible applies the policy predicates to one file. Idempotent:
// re-running without intervening writes yields the same answer, and a
// rewritten file becomes eligible again because its modification time
// passes the parity file's.
func (s *service) isEligible(p *Effective, fi dfs.FileInfo, now time.Time) (bool, error) {
	if fi.IsDir {
		return false, nil
	}
	if strings.HasSuffix(fi.Path, ".tmp") {
		return false, nil
	}
	if fi.Replication < p.SrcReplication {
		return false, nil
	}
	// Quiescence: recently modified files are left alone.
	if now.Sub(fi.ModTime) < p.ModTimePeriod {
		return false, nil
	}

	pstat, err := s.fs.Stat(p.ParityPath(fi.Path))
	if err != nil {
		if errors.Cause(err) == dfs.ErrNotFound {
			return true, nil
		}
		return false, err
	}
	// Already encoded for the current content: the parity is not
	// older than the source and the source replication has been
	// lowered to the target.
	if !pstat.ModTime.Before(fi.ModTime) && fi.Replication == p.TargetReplication {
		return false, nil
	}
	return true, nil
}

// walk collects every file path under root, depth first.
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

// listedFiles reads the file enumeration of a file list policy, one
// path per line.
func (s *service) listedFiles(p *Effective) ([]string, error) {
	raw, err := dfs.ReadFile(s.fs, p.FileListPath)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func (s *service) underParityLocation(path string) bool {
	return underPrefix(path, s.cfg.ParityLocation) || underPrefix(path, s.cfg.ParityLocationRS)
}

func underPrefix(path, prefix string) bool {
	if prefix == "" {
		return false
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Service is the interface that provides policy domain's service.
type Service interface {
	// Reload re-reads and re-resolves the policy file.
	Reload() error
	// AllPolicies returns every resolved policy, sorted by name.
	AllPolicies() []*Effective
	// FindPolicy returns the policy governing the given path.
	FindPolicy(path string) (*Effective, error)
	// SelectEligibleFiles returns the files eligible under a policy.
	SelectEligibleFiles(p *Effective) ([]dfs.FileInfo, error)
}
