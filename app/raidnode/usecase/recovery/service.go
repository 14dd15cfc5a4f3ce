package recovery

import (
	"fmt"

	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/stripe"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/chanyoung/raidfs/pkg/util/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type service struct {
	fs       dfs.FileSystem
	policies policy.Service
}

// NewService creates a recovery service with necessary dependencies.
func NewService(fs dfs.FileSystem, policies policy.Service) (Service, error) {
	if fs == nil || policies == nil {
		return nil, fmt.Errorf("invalid arguments")
	}
	logger = mlog.GetPackageLogger("app/raidnode/usecase/recovery")

	return &service{
		fs:       fs,
		policies: policies,
	}, nil
}

// Recover rebuilds the file containing the given corrupt offset from
// its parity and writes the result to a fresh recovery path. Every
// stripe must be fully readable or rebuildable; one stripe beyond the
// code's tolerance fails the whole recovery and nothing is written.
// The reconstructed flag reports whether any block actually had to be
// rebuilt. Content recovery only; the damaged original is left in
// place.
func (s *service) Recover(path string, offset int64) (string, bool, error) {
	fi, err := s.fs.Stat(path)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to stat %s", path)
	}
	if offset < 0 || offset >= fi.Size {
		return "", false, fmt.Errorf("offset %d out of range of %s", offset, path)
	}
	pol, err := s.policies.FindPolicy(path)
	if err != nil {
		return "", false, errors.Wrapf(err, "failed to find policy of %s", path)
	}
	codec, err := stripe.NewCodec(pol.Code, pol.StripeLength, pol.ParityLength)
	if err != nil {
		return "", false, err
	}

	geo := stripe.Geometry{
		BlockSize:    fi.BlockSize,
		FileSize:     fi.Size,
		StripeLength: pol.StripeLength,
		ParityLength: pol.ParityLength,
	}
	parityPath := pol.ParityPath(path)

	content := make([][]byte, geo.NumBlocks())
	rebuilt := false
	for st := 0; st < geo.NumStripes(); st++ {
		blocks, recon, err := s.recoverStripe(codec, &geo, path, parityPath, st)
		if err != nil {
			return "", false, err
		}
		rebuilt = rebuilt || recon

		first, count := geo.SourceRange(st)
		for i := 0; i < count; i++ {
			content[first+i] = blocks[i]
		}
	}

	var data []byte
	for _, b := range content {
		data = append(data, b...)
	}

	out := fmt.Sprintf("%s.recovered-%s", path, uuid.Gen())
	if err := s.fs.WriteFile(out, data, pol.TargetReplication, fi.BlockSize); err != nil {
		return "", false, errors.Wrapf(err, "failed to write %s", out)
	}
	return out, rebuilt, nil
}

// recoverStripe returns the stripe's source blocks, trimmed to their
// true length, rebuilding unreadable ones from the surviving blocks
// and the parity.
func (s *service) recoverStripe(codec stripe.Codec, geo *stripe.Geometry, path, parityPath string, st int) ([][]byte, bool, error) {
	first, count := geo.SourceRange(st)
	pfirst, pcount := geo.ParityRange(st)

	shards := make([][]byte, count+pcount)
	var missing []int

	for i := 0; i < count; i++ {
		b, err := s.fs.ReadBlock(path, first+i)
		if err != nil {
			missing = append(missing, i)
			continue
		}
		shards[i] = pad(b, geo.BlockSize)
	}
	for i := 0; i < pcount; i++ {
		b, err := s.fs.ReadBlock(parityPath, pfirst+i)
		if err != nil {
			missing = append(missing, count+i)
			continue
		}
		shards[count+i] = b
	}

	if len(missing) > 0 {
		if err := codec.Decode(shards, missing); err != nil {
			return nil, false, errors.Wrapf(err, "stripe %d of %s", st, path)
		}
	}

	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = shards[i][:geo.BlockLength(first+i)]
	}
	return out, len(missing) > 0, nil
}

func pad(b []byte, size int64) []byte {
	if int64(len(b)) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// Service is the interface that provides recovery domain's service.
type Service interface {
	// Recover rebuilds the file containing the corrupt offset and
	// returns the path the recovered content was written to.
	Recover(path string, offset int64) (recoveredPath string, reconstructed bool, err error)
}
