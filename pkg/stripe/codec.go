// Package stripe implements the erasure codecs and the stripe layout
// arithmetic shared by the encoder, the placement monitor and the
// recovery engine.
package stripe

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnrecoverableStripe is returned when a stripe misses more blocks
// than its code tolerates.
var ErrUnrecoverableStripe = errors.New("stripe: more blocks missing than the code tolerates")

// Kind is the erasure code type of a policy.
type Kind int

const (
	// XOR : single parity block per stripe.
	XOR Kind = iota
	// ReedSolomon : configurable number of parity blocks per stripe.
	ReedSolomon
)

// String returns the policy file representation of the kind.
func (k Kind) String() string {
	switch k {
	case XOR:
		return "xor"
	case ReedSolomon:
		return "rs"
	default:
		return "unknown"
	}
}

// ParseKind parses the policy file representation of a code kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "xor":
		return XOR, nil
	case "rs":
		return ReedSolomon, nil
	default:
		return 0, fmt.Errorf("stripe: unknown erasure code kind %q", s)
	}
}

// Codec encodes one stripe of source blocks into parity blocks and
// reconstructs missing blocks from survivors.
//
// Shards passed to Decode are ordered source blocks first, parity
// blocks last. Blocks inside a stripe may have unequal lengths; the
// codec pads to the longest shard and reconstructed blocks come back
// at the padded length, to be trimmed by the caller.
type Codec interface {
	Kind() Kind
	StripeLength() int
	ParityLength() int
	// Encode derives the parity blocks of one stripe. A stripe
	// shorter than StripeLength is treated as if the absent blocks
	// were all zero.
	Encode(source [][]byte) ([][]byte, error)
	// Decode reconstructs the shards listed in missing in place.
	// Entries of shards listed in missing must be nil. Fails with
	// ErrUnrecoverableStripe when len(missing) > ParityLength.
	Decode(shards [][]byte, missing []int) error
}

// NewCodec creates the codec for the given kind. The parityLength
// argument is ignored for XOR.
func NewCodec(kind Kind, stripeLength, parityLength int) (Codec, error) {
	switch kind {
	case XOR:
		return NewXOR(stripeLength)
	case ReedSolomon:
		return NewReedSolomon(stripeLength, parityLength)
	default:
		return nil, fmt.Errorf("stripe: unknown erasure code kind %d", kind)
	}
}

// shardSize returns the padded shard size of a stripe, which is the
// length of its longest shard.
func shardSize(shards [][]byte) int {
	max := 0
	for _, s := range shards {
		if len(s) > max {
			max = len(s)
		}
	}
	return max
}

// pad returns b zero-extended to size. The input is not modified.
func pad(b []byte, size int) []byte {
	if len(b) == size {
		return b
	}
	p := make([]byte, size)
	copy(p, b)
	return p
}
