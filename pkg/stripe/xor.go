package stripe

import "fmt"

type xorCodec struct {
	stripeLength int
}

// NewXOR creates the single-parity xor codec.
func NewXOR(stripeLength int) (Codec, error) {
	if stripeLength < 1 {
		return nil, fmt.Errorf("stripe: invalid stripe length %d", stripeLength)
	}
	return &xorCodec{stripeLength: stripeLength}, nil
}

func (c *xorCodec) Kind() Kind        { return XOR }
func (c *xorCodec) StripeLength() int { return c.stripeLength }
func (c *xorCodec) ParityLength() int { return 1 }

func (c *xorCodec) Encode(source [][]byte) ([][]byte, error) {
	if len(source) < 1 || len(source) > c.stripeLength {
		return nil, fmt.Errorf("stripe: invalid source block count %d", len(source))
	}

	parity := make([]byte, shardSize(source))
	for _, b := range source {
		for i, v := range b {
			parity[i] ^= v
		}
	}
	return [][]byte{parity}, nil
}

func (c *xorCodec) Decode(shards [][]byte, missing []int) error {
	if len(shards) < 2 || len(shards) > c.stripeLength+1 {
		return fmt.Errorf("stripe: invalid shard count %d", len(shards))
	}
	if len(missing) == 0 {
		return nil
	}
	if len(missing) > 1 {
		return ErrUnrecoverableStripe
	}

	target := missing[0]
	if target < 0 || target >= len(shards) {
		return fmt.Errorf("stripe: missing index %d out of range", target)
	}
	if shards[target] != nil {
		return fmt.Errorf("stripe: shard %d marked missing but present", target)
	}

	// The missing shard, source or parity, is the xor of all others.
	recon := make([]byte, shardSize(shards))
	for i, b := range shards {
		if i == target {
			continue
		}
		if b == nil {
			return ErrUnrecoverableStripe
		}
		for j, v := range b {
			recon[j] ^= v
		}
	}

	shards[target] = recon
	return nil
}
