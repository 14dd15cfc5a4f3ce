package recovery

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/compute/local"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/dfs/memfs"
	"github.com/chanyoung/raidfs/pkg/stripe"
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

type fixture struct {
	fs       *memfs.MemFS
	policies policy.Service
	recov    Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	policyFile := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policyFile, []byte(testPolicyFile), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.RaidNode{
		PolicyFile:       policyFile,
		ParityLocation:   "/destraid",
		ParityLocationRS: "/destraidrs",
		RSParityLength:   "3",
	}

	fs := memfs.New(6)
	policies, err := policy.NewService(cfg, fs)
	if err != nil {
		t.Fatal(err)
	}
	recov, err := NewService(fs, policies)
	if err != nil {
		t.Fatal(err)
	}

	return &fixture{fs: fs, policies: policies, recov: recov}
}

// writeAndEncode stores a random file and runs its encoding job to
// completion.
func (f *fixture) writeAndEncode(t *testing.T, path string, size int) []byte {
	t.Helper()

	rnd := rand.New(rand.NewSource(7))
	data := make([]byte, size)
	rnd.Read(data)
	if err := f.fs.WriteFile(path, data, 2, 64); err != nil {
		t.Fatal(err)
	}

	pol, err := f.policies.FindPolicy(path)
	if err != nil {
		t.Fatal(err)
	}

	exec, err := local.NewExecutor(f.fs, 1)
	if err != nil {
		t.Fatal(err)
	}
	h, err := exec.Submit([]compute.WorkItem{{
		SourcePath:        path,
		ParityPath:        pol.ParityPath(path),
		Code:              pol.Code,
		StripeLength:      pol.StripeLength,
		ParityLength:      pol.ParityLength,
		TargetReplication: pol.TargetReplication,
		MetaReplication:   pol.MetaReplication,
	}})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		st, err := exec.Poll(h)
		if err != nil {
			t.Fatal(err)
		}
		if st == compute.Succeeded {
			return data
		}
		if st == compute.Failed {
			t.Fatal("encoding job failed")
		}
		if time.Now().After(deadline) {
			t.Fatal("encoding job did not finish")
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) readAll(t *testing.T, path string) []byte {
	t.Helper()

	data, err := dfs.ReadFile(f.fs, path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestRecoverCorruptSourceBlock(t *testing.T) {
	f := newFixture(t)

	// 4 whole blocks plus a truncated one.
	data := f.writeAndEncode(t, "/user/a/f1", 64*4+30)

	if err := f.fs.CorruptBlock("/user/a/f1", 1); err != nil {
		t.Fatal(err)
	}

	out, reconstructed, err := f.recov.Recover("/user/a/f1", 64+5)
	if err != nil {
		t.Fatal(err)
	}
	if !reconstructed {
		t.Error("a corrupt block must be reported as reconstructed")
	}
	if !bytes.Equal(f.readAll(t, out), data) {
		t.Error("recovered content differs from the original")
	}
}

func TestRecoverTruncatedFinalBlock(t *testing.T) {
	f := newFixture(t)

	data := f.writeAndEncode(t, "/user/a/f1", 64*4+30)

	// The short final block sits alone in the second stripe.
	if err := f.fs.CorruptBlock("/user/a/f1", 4); err != nil {
		t.Fatal(err)
	}

	out, reconstructed, err := f.recov.Recover("/user/a/f1", 64*4+10)
	if err != nil {
		t.Fatal(err)
	}
	if !reconstructed {
		t.Error("expected a reconstruction")
	}
	recovered := f.readAll(t, out)
	if len(recovered) != len(data) {
		t.Fatalf("recovered %d bytes, expected %d", len(recovered), len(data))
	}
	if !bytes.Equal(recovered, data) {
		t.Error("recovered content differs from the original")
	}
}

func TestRecoverDoubleLossWithReedSolomon(t *testing.T) {
	f := newFixture(t)

	data := f.writeAndEncode(t, "/user/b/f1", 64*4)

	if err := f.fs.CorruptBlock("/user/b/f1", 0); err != nil {
		t.Fatal(err)
	}
	if err := f.fs.CorruptBlock("/user/b/f1", 2); err != nil {
		t.Fatal(err)
	}

	out, reconstructed, err := f.recov.Recover("/user/b/f1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reconstructed {
		t.Error("expected a reconstruction")
	}
	if !bytes.Equal(f.readAll(t, out), data) {
		t.Error("recovered content differs from the original")
	}
}

func TestRecoverBeyondCodeTolerance(t *testing.T) {
	f := newFixture(t)

	f.writeAndEncode(t, "/user/a/f1", 64*4)

	// Two losses in one stripe exceed what xor tolerates.
	if err := f.fs.CorruptBlock("/user/a/f1", 0); err != nil {
		t.Fatal(err)
	}
	if err := f.fs.CorruptBlock("/user/a/f1", 1); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.recov.Recover("/user/a/f1", 0)
	if errors.Cause(err) != stripe.ErrUnrecoverableStripe {
		t.Errorf("got %v, expected ErrUnrecoverableStripe", err)
	}
}

// A stripe away from the requested offset that cannot be rebuilt must
// fail the whole recovery; a partially rebuilt file is never handed
// back as a success.
func TestRecoverFailsOnUnrecoverableRemoteStripe(t *testing.T) {
	f := newFixture(t)

	f.writeAndEncode(t, "/user/a/f1", 64*8)

	// The first stripe loses more than xor tolerates; the second
	// stripe is repairable and holds the requested offset.
	for _, idx := range []int{0, 1, 4} {
		if err := f.fs.CorruptBlock("/user/a/f1", idx); err != nil {
			t.Fatal(err)
		}
	}

	out, _, err := f.recov.Recover("/user/a/f1", 64*4+1)
	if errors.Cause(err) != stripe.ErrUnrecoverableStripe {
		t.Errorf("got %v, expected ErrUnrecoverableStripe", err)
	}
	if out != "" {
		t.Errorf("failed recovery returned path %q", out)
	}
}

// An intact file recovers to an identical copy without reconstruction.
func TestRecoverIntactFile(t *testing.T) {
	f := newFixture(t)

	data := f.writeAndEncode(t, "/user/a/f1", 64*3)

	out, reconstructed, err := f.recov.Recover("/user/a/f1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if reconstructed {
		t.Error("nothing was missing, reconstructed must be false")
	}
	if !bytes.Equal(f.readAll(t, out), data) {
		t.Error("recovered content differs from the original")
	}
}
