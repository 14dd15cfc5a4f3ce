package stripe

import (
	"bytes"
	"math/rand"
	"testing"
)

func testStripe(t *testing.T, codec Codec, source [][]byte) {
	parity, err := codec.Encode(source)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if len(parity) != codec.ParityLength() {
		t.Fatalf("got %d parity blocks, expected %d", len(parity), codec.ParityLength())
	}

	size := shardSize(source)
	intact := make([][]byte, 0, len(source)+len(parity))
	for _, b := range source {
		intact = append(intact, pad(b, size))
	}
	intact = append(intact, parity...)

	// Remove every combination of exactly ParityLength shards and
	// reconstruct them.
	for _, missing := range combinations(len(intact), codec.ParityLength()) {
		shards := make([][]byte, len(intact))
		for i, b := range intact {
			shards[i] = b
		}
		for _, idx := range missing {
			shards[idx] = nil
		}

		if err := codec.Decode(shards, missing); err != nil {
			t.Fatalf("decode with missing %v failed: %v", missing, err)
		}
		for i, b := range shards {
			if !bytes.Equal(b, intact[i]) {
				t.Errorf("shard %d mismatch after reconstructing %v", i, missing)
			}
		}
	}

	// One more loss than the code tolerates is unrecoverable.
	if len(intact) > codec.ParityLength()+1 {
		missing := make([]int, codec.ParityLength()+1)
		shards := make([][]byte, len(intact))
		for i, b := range intact {
			shards[i] = b
		}
		for i := range missing {
			missing[i] = i
			shards[i] = nil
		}
		if err := codec.Decode(shards, missing); err != ErrUnrecoverableStripe {
			t.Errorf("decode with missing %v: got %v, expected ErrUnrecoverableStripe", missing, err)
		}
	}
}

func TestXORCodec(t *testing.T) {
	codec, err := NewXOR(4)
	if err != nil {
		t.Fatal(err)
	}

	testCases := [][]int{
		{64, 64, 64, 64},
		{64, 64, 64, 17},
		{64},
		{1, 64},
	}
	for _, lengths := range testCases {
		testStripe(t, codec, randomBlocks(lengths))
	}
}

func TestReedSolomonCodec(t *testing.T) {
	codec, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}

	testCases := [][]int{
		{64, 64, 64, 64},
		{64, 64, 64, 17},
		{64, 64},
		{29},
	}
	for _, lengths := range testCases {
		testStripe(t, codec, randomBlocks(lengths))
	}
}

// The rs encoding matrix must not depend on the actual number of
// source blocks in a stripe, or short final stripes written earlier
// would become undecodable.
func TestReedSolomonShortStripeCompatible(t *testing.T) {
	codec, err := NewReedSolomon(4, 2)
	if err != nil {
		t.Fatal(err)
	}

	blocks := randomBlocks([]int{64, 64})
	padded := append(randomCopy(blocks), make([]byte, 64), make([]byte, 64))

	short, err := codec.Encode(blocks)
	if err != nil {
		t.Fatal(err)
	}
	full, err := codec.Encode(padded)
	if err != nil {
		t.Fatal(err)
	}

	for i := range short {
		if !bytes.Equal(short[i], full[i]) {
			t.Errorf("parity %d differs between short and zero-padded stripe", i)
		}
	}
}

func TestDecodeRejectsPresentShardMarkedMissing(t *testing.T) {
	codec, err := NewXOR(2)
	if err != nil {
		t.Fatal(err)
	}

	source := randomBlocks([]int{16, 16})
	parity, err := codec.Encode(source)
	if err != nil {
		t.Fatal(err)
	}

	shards := [][]byte{source[0], source[1], parity[0]}
	if err := codec.Decode(shards, []int{1}); err == nil {
		t.Error("decode accepted a present shard marked missing")
	}
}

func TestParseKind(t *testing.T) {
	testCases := []struct {
		in   string
		kind Kind
		fail bool
	}{
		{"xor", XOR, false},
		{"XOR", XOR, false},
		{"rs", ReedSolomon, false},
		{"reed-solomon", 0, true},
		{"", 0, true},
	}
	for _, c := range testCases {
		kind, err := ParseKind(c.in)
		if c.fail {
			if err == nil {
				t.Errorf("ParseKind(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKind(%q): %v", c.in, err)
			continue
		}
		if kind != c.kind {
			t.Errorf("ParseKind(%q) = %v, expected %v", c.in, kind, c.kind)
		}
	}
}

func randomBlocks(lengths []int) [][]byte {
	rnd := rand.New(rand.NewSource(42))

	out := make([][]byte, 0, len(lengths))
	for _, n := range lengths {
		b := make([]byte, n)
		rnd.Read(b)
		out = append(out, b)
	}
	return out
}

func randomCopy(blocks [][]byte) [][]byte {
	out := make([][]byte, 0, len(blocks))
	for _, b := range blocks {
		c := make([]byte, len(b))
		copy(c, b)
		out = append(out, c)
	}
	return out
}

// combinations returns every k-subset of [0, n).
func combinations(n, k int) [][]int {
	var out [][]int
	var walk func(start int, cur []int)
	walk = func(start int, cur []int) {
		if len(cur) == k {
			c := make([]int, k)
			copy(c, cur)
			out = append(out, c)
			return
		}
		for i := start; i < n; i++ {
			walk(i+1, append(cur, i))
		}
	}
	walk(0, nil)
	return out
}
