package placement

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/dfs/memfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
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
		},
		{
			"name": "user-b",
			"srcPath": "/user/b",
			"erasureCode": "rs",
			"srcReplication": 2,
			"targetReplication": 1,
			"metaReplication": 1,
			"stripeLength": 4,
			"parityLength": 2,
			"modTimePeriod": "1s"
		}
	]
}`

func newTestService(t *testing.T, fs *memfs.MemFS, queueLen string) *service {
	t.Helper()

	dir := t.TempDir()
	policyFile := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policyFile, []byte(testPolicyFile), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.RaidNode{
		PolicyFile:           policyFile,
		ParityLocation:       "/destraid",
		ParityLocationRS:     "/destraidrs",
		RSParityLength:       "3",
		AuditInterval:        "1h",
		NumMovingThreads:     "1",
		BlockMoveQueueLength: queueLen,
	}

	policies, err := policy.NewService(cfg, fs)
	if err != nil {
		t.Fatal(err)
	}
	svc, err := NewService(cfg, fs, policies)
	if err != nil {
		t.Fatal(err)
	}
	return svc.(*service)
}

func TestAuditRepairsConcentratedParity(t *testing.T) {
	fs := memfs.New(5)
	s := newTestService(t, fs, "8")

	// One rs stripe, both parity blocks on the same node.
	if err := fs.WriteFile("/user/b/f1", make([]byte, 64), 1, 64); err != nil {
		t.Fatal(err)
	}
	parity := "/destraidrs/user/b/f1"
	if err := fs.WriteFile(parity, make([]byte, 128), 1, 64); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := fs.PlaceBlock(parity, i, []dfs.NodeID{"node0"}); err != nil {
			t.Fatal(err)
		}
	}

	s.Audit()
	s.drain()

	stats := s.Stats()
	if stats.Violations != 1 {
		t.Errorf("violations = %d, expected 1", stats.Violations)
	}
	if stats.MovesQueued != 1 || stats.MovesDone != 1 || stats.MovesFailed != 0 {
		t.Errorf("stats = %+v, expected 1 queued and done", stats)
	}

	locs, err := fs.BlockLocations(parity)
	if err != nil {
		t.Fatal(err)
	}
	for node, count := range CountBlocksOnEachNode(locs) {
		if count >= 2 {
			t.Errorf("node %s still hosts %d parity blocks of the stripe", node, count)
		}
	}

	// The repaired layout passes the next audit clean.
	s.Audit()
	s.drain()
	if again := s.Stats(); again.Violations != 1 {
		t.Errorf("violations after repair = %d, expected still 1", again.Violations)
	}
}

// Single-parity policies cannot concentrate and are never audited.
func TestAuditSkipsSingleParityPolicies(t *testing.T) {
	fs := memfs.New(5)
	s := newTestService(t, fs, "8")

	if err := fs.WriteFile("/user/a/f1", make([]byte, 128), 1, 64); err != nil {
		t.Fatal(err)
	}
	parity := "/destraid/user/a/f1"
	if err := fs.WriteFile(parity, make([]byte, 128), 1, 64); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := fs.PlaceBlock(parity, i, []dfs.NodeID{"node0"}); err != nil {
			t.Fatal(err)
		}
	}

	s.Audit()
	s.drain()

	stats := s.Stats()
	if stats.Violations != 0 || stats.MovesQueued != 0 {
		t.Errorf("stats = %+v, xor parity must not be audited", stats)
	}
}

// With the move queue disabled, violations are counted but nothing
// moves.
func TestAuditWithQueueDisabled(t *testing.T) {
	fs := memfs.New(5)
	s := newTestService(t, fs, "0")

	if err := fs.WriteFile("/user/b/f1", make([]byte, 64), 1, 64); err != nil {
		t.Fatal(err)
	}
	parity := "/destraidrs/user/b/f1"
	if err := fs.WriteFile(parity, make([]byte, 128), 1, 64); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := fs.PlaceBlock(parity, i, []dfs.NodeID{"node0"}); err != nil {
			t.Fatal(err)
		}
	}

	s.Audit()

	stats := s.Stats()
	if stats.Violations != 1 {
		t.Errorf("violations = %d, expected 1", stats.Violations)
	}
	if stats.MovesQueued != 0 || stats.MovesDone != 0 || stats.MovesDropped != 1 {
		t.Errorf("stats = %+v, expected the move dropped", stats)
	}
}

func TestCountBlocksOnEachNode(t *testing.T) {
	locs := []dfs.BlockLocation{
		{Nodes: []dfs.NodeID{"n1", "n2"}},
		{Nodes: []dfs.NodeID{"n1"}},
		{Nodes: []dfs.NodeID{"n3"}},
	}

	counts := CountBlocksOnEachNode(locs)
	if counts["n1"] != 2 || counts["n2"] != 1 || counts["n3"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
