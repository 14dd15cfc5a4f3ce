package stripe

import "path"

// Geometry describes the stripe layout of one encoded file.
//
// A stripe groups up to StripeLength consecutive source blocks of one
// file; the parity file carries ParityLength parity blocks per stripe,
// block-aligned at the same block size as the source.
type Geometry struct {
	BlockSize    int64
	FileSize     int64
	StripeLength int
	ParityLength int
}

// NumBlocks returns the number of source blocks of the file.
func (g Geometry) NumBlocks() int {
	if g.BlockSize <= 0 {
		return 0
	}
	return int((g.FileSize + g.BlockSize - 1) / g.BlockSize)
}

// NumStripes returns the number of stripes of the file. The last
// stripe may be shorter than StripeLength.
func (g Geometry) NumStripes() int {
	n := g.NumBlocks()
	return (n + g.StripeLength - 1) / g.StripeLength
}

// StripeOfOffset returns the stripe index covering the given byte
// offset.
func (g Geometry) StripeOfOffset(offset int64) int {
	return int(offset / (int64(g.StripeLength) * g.BlockSize))
}

// SourceRange returns the first source block index of the stripe and
// the number of source blocks in it.
func (g Geometry) SourceRange(stripe int) (first, count int) {
	first = stripe * g.StripeLength
	count = g.NumBlocks() - first
	if count > g.StripeLength {
		count = g.StripeLength
	}
	if count < 0 {
		count = 0
	}
	return first, count
}

// ParityRange returns the first parity block index of the stripe
// within the parity file and the number of parity blocks in it.
func (g Geometry) ParityRange(stripe int) (first, count int) {
	return stripe * g.ParityLength, g.ParityLength
}

// BlockLength returns the true byte length of the given source block.
func (g Geometry) BlockLength(index int) int64 {
	begin := int64(index) * g.BlockSize
	if begin >= g.FileSize {
		return 0
	}
	if remain := g.FileSize - begin; remain < g.BlockSize {
		return remain
	}
	return g.BlockSize
}

// ParityPath derives the parity file path of a source file under the
// given parity location root.
func ParityPath(location, srcPath string) string {
	return path.Join(location, srcPath)
}
