// Package dfs defines the narrow interface through which the raid
// coordinator consumes the underlying distributed file system.
package dfs

import (
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when the given path does not exist.
	ErrNotFound = errors.New("dfs: no such file or directory")
	// ErrCorruptBlock is returned when a block replica set is unreadable.
	ErrCorruptBlock = errors.New("dfs: block is corrupt or unreadable")
)

// NodeID is an unique identifier of a storage node.
type NodeID string

// Node describes one storage node and the rack it belongs to.
type Node struct {
	ID   NodeID
	Rack string
}

// FileInfo describes one file or directory.
type FileInfo struct {
	Path        string
	Size        int64
	BlockSize   int64
	Replication int
	ModTime     time.Time
	IsDir       bool
}

// NumBlocks returns the number of blocks the file occupies.
func (fi FileInfo) NumBlocks() int {
	if fi.BlockSize <= 0 {
		return 0
	}
	return int((fi.Size + fi.BlockSize - 1) / fi.BlockSize)
}

// BlockLength returns the true byte length of the given block.
func (fi FileInfo) BlockLength(index int) int64 {
	begin := int64(index) * fi.BlockSize
	if begin >= fi.Size {
		return 0
	}
	if remain := fi.Size - begin; remain < fi.BlockSize {
		return remain
	}
	return fi.BlockSize
}

// BlockLocation lists the nodes hosting the replicas of one block.
type BlockLocation struct {
	Nodes []NodeID
}

// FileSystem is the file system surface the raid coordinator depends on.
// Everything behind it belongs to the external storage cluster.
type FileSystem interface {
	// Stat returns the information of the given path.
	Stat(path string) (FileInfo, error)
	// List returns the direct children of the given directory.
	List(dir string) ([]FileInfo, error)
	// ReadBlock reads one whole block of the given file.
	// Corrupt or unreadable blocks fail with ErrCorruptBlock.
	ReadBlock(path string, index int) ([]byte, error)
	// WriteFile atomically creates or replaces a file.
	WriteFile(path string, data []byte, replication int, blockSize int64) error
	// Delete removes a file, or a directory and everything below it.
	Delete(path string) error
	// SetReplication changes the replication factor of a file.
	SetReplication(path string, replication int) error
	// BlockLocations returns, per block, the nodes hosting its replicas.
	BlockLocations(path string) ([]BlockLocation, error)
	// RelocateBlock moves one replica of a block to a different node.
	RelocateBlock(path string, index int, from, to NodeID) error
	// Checksum computes the CRC-32 of the given byte range.
	Checksum(path string, offset, length int64) (uint32, error)
	// Nodes returns all storage nodes of the cluster.
	Nodes() ([]Node, error)
}

// ReadFile reads a whole file block by block.
func ReadFile(fs FileSystem, path string) ([]byte, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, fi.Size)
	for i := 0; i < fi.NumBlocks(); i++ {
		b, err := fs.ReadBlock(path, i)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	return buf, nil
}
