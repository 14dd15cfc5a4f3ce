package stripe

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

type rsCodec struct {
	stripeLength int
	parityLength int
	enc          reedsolomon.Encoder
}

// NewReedSolomon creates a systematic reed-solomon codec. The encoding
// matrix depends only on (stripeLength, parityLength), so stripes
// encoded earlier stay decodable after new stripes are configured.
func NewReedSolomon(stripeLength, parityLength int) (Codec, error) {
	if stripeLength < 1 {
		return nil, fmt.Errorf("stripe: invalid stripe length %d", stripeLength)
	}
	if parityLength < 2 {
		return nil, fmt.Errorf("stripe: invalid rs parity length %d", parityLength)
	}

	enc, err := reedsolomon.New(stripeLength, parityLength)
	if err != nil {
		return nil, errors.Wrap(err, "create reed-solomon encoder failed")
	}

	return &rsCodec{
		stripeLength: stripeLength,
		parityLength: parityLength,
		enc:          enc,
	}, nil
}

func (c *rsCodec) Kind() Kind        { return ReedSolomon }
func (c *rsCodec) StripeLength() int { return c.stripeLength }
func (c *rsCodec) ParityLength() int { return c.parityLength }

func (c *rsCodec) Encode(source [][]byte) ([][]byte, error) {
	if len(source) < 1 || len(source) > c.stripeLength {
		return nil, fmt.Errorf("stripe: invalid source block count %d", len(source))
	}

	size := shardSize(source)
	shards := make([][]byte, c.stripeLength+c.parityLength)
	for i := range shards {
		if i < len(source) {
			shards[i] = pad(source[i], size)
		} else {
			// Absent stripe blocks and parity outputs are zero.
			shards[i] = make([]byte, size)
		}
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, errors.Wrap(err, "encode stripe failed")
	}
	return shards[c.stripeLength:], nil
}

func (c *rsCodec) Decode(shards [][]byte, missing []int) error {
	sourceCount := len(shards) - c.parityLength
	if sourceCount < 1 || sourceCount > c.stripeLength {
		return fmt.Errorf("stripe: invalid shard count %d", len(shards))
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) > c.parityLength {
		return ErrUnrecoverableStripe
	}

	size := shardSize(shards)

	// Spread the caller's shards over the full code width. Stripe
	// positions beyond the actual source count were zero at encode
	// time and stay zero here.
	full := make([][]byte, c.stripeLength+c.parityLength)
	for i, b := range shards {
		if b == nil {
			continue
		}
		full[c.fullIndex(i, sourceCount)] = pad(b, size)
	}
	for i := sourceCount; i < c.stripeLength; i++ {
		full[i] = make([]byte, size)
	}
	for _, idx := range missing {
		if idx < 0 || idx >= len(shards) {
			return fmt.Errorf("stripe: missing index %d out of range", idx)
		}
		if shards[idx] != nil {
			return fmt.Errorf("stripe: shard %d marked missing but present", idx)
		}
		full[c.fullIndex(idx, sourceCount)] = nil
	}

	if err := c.enc.Reconstruct(full); err != nil {
		if err == reedsolomon.ErrTooFewShards {
			return ErrUnrecoverableStripe
		}
		return errors.Wrap(err, "reconstruct stripe failed")
	}

	for _, idx := range missing {
		shards[idx] = full[c.fullIndex(idx, sourceCount)]
	}
	return nil
}

// fullIndex maps a caller shard index, where parity follows directly
// after sourceCount source blocks, to the full code width where parity
// starts at stripeLength.
func (c *rsCodec) fullIndex(i, sourceCount int) int {
	if i < sourceCount {
		return i
	}
	return c.stripeLength + (i - sourceCount)
}
