// Package memfs provides an in-memory dfs.FileSystem.
//
// It backs the local execution mode and the package tests. Placement
// is deterministic round-robin, and tests can inject block corruption
// or backdate modification times.
package memfs

import (
	"fmt"
	"hash/crc32"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chanyoung/raidfs/pkg/dfs"
)

type file struct {
	info    dfs.FileInfo
	blocks  [][]byte
	corrupt map[int]bool
	locs    [][]dfs.NodeID
}

// MemFS is an in-memory file system with simulated block placement.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*file
	nodes []dfs.Node
	next  int
}

// New creates a MemFS backed by the given number of storage nodes,
// one node per rack.
func New(numNodes int) *MemFS {
	nodes := make([]dfs.Node, 0, numNodes)
	for i := 0; i < numNodes; i++ {
		nodes = append(nodes, dfs.Node{
			ID:   dfs.NodeID(fmt.Sprintf("node%d", i)),
			Rack: fmt.Sprintf("/rack%d", i),
		})
	}

	return &MemFS{
		files: make(map[string]*file),
		nodes: nodes,
	}
}

// Stat returns the information of the given path.
// Directories are synthesized from the files below them.
func (m *MemFS) Stat(p string) (dfs.FileInfo, error) {
	p = clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if f, ok := m.files[p]; ok {
		return f.info, nil
	}
	if m.isDir(p) {
		return dfs.FileInfo{Path: p, IsDir: true}, nil
	}
	return dfs.FileInfo{}, dfs.ErrNotFound
}

// List returns the direct children of the given directory.
func (m *MemFS) List(dir string) ([]dfs.FileInfo, error) {
	dir = clean(dir)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.isDir(dir) {
		return nil, dfs.ErrNotFound
	}

	var out []dfs.FileInfo
	subdirs := make(map[string]bool)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	for p, f := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			subdirs[prefix+rest[:i]] = true
			continue
		}
		out = append(out, f.info)
	}
	for d := range subdirs {
		out = append(out, dfs.FileInfo{Path: d, IsDir: true})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ReadBlock reads one whole block of the given file.
func (m *MemFS) ReadBlock(p string, index int) ([]byte, error) {
	p = clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[p]
	if !ok {
		return nil, dfs.ErrNotFound
	}
	if index < 0 || index >= len(f.blocks) {
		return nil, fmt.Errorf("memfs: block index %d out of range for %s", index, p)
	}
	if f.corrupt[index] {
		return nil, dfs.ErrCorruptBlock
	}

	b := make([]byte, len(f.blocks[index]))
	copy(b, f.blocks[index])
	return b, nil
}

// WriteFile atomically creates or replaces a file. Each block replica
// is placed round-robin over the cluster nodes.
func (m *MemFS) WriteFile(p string, data []byte, replication int, blockSize int64) error {
	p = clean(p)
	if replication < 1 {
		return fmt.Errorf("memfs: invalid replication %d", replication)
	}
	if blockSize < 1 {
		return fmt.Errorf("memfs: invalid block size %d", blockSize)
	}
	if replication > len(m.nodes) {
		return fmt.Errorf("memfs: replication %d exceeds cluster size %d", replication, len(m.nodes))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f := &file{
		info: dfs.FileInfo{
			Path:        p,
			Size:        int64(len(data)),
			BlockSize:   blockSize,
			Replication: replication,
			ModTime:     time.Now(),
		},
		corrupt: make(map[int]bool),
	}

	for off := int64(0); off < int64(len(data)); off += blockSize {
		end := off + blockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		b := make([]byte, end-off)
		copy(b, data[off:end])
		f.blocks = append(f.blocks, b)
		f.locs = append(f.locs, m.pickNodes(replication))
	}

	m.files[p] = f
	return nil
}

// Delete removes a file, or a directory and everything below it.
func (m *MemFS) Delete(p string) error {
	p = clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if !m.isDir(p) {
		return dfs.ErrNotFound
	}
	prefix := p + "/"
	for q := range m.files {
		if strings.HasPrefix(q, prefix) {
			delete(m.files, q)
		}
	}
	return nil
}

// SetReplication changes the replication factor of a file. Replica
// sets are grown or shrunk to match.
func (m *MemFS) SetReplication(p string, replication int) error {
	p = clean(p)
	if replication < 1 || replication > len(m.nodes) {
		return fmt.Errorf("memfs: invalid replication %d", replication)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[p]
	if !ok {
		return dfs.ErrNotFound
	}

	for i, replicas := range f.locs {
		for len(replicas) > replication {
			replicas = replicas[:len(replicas)-1]
		}
		for len(replicas) < replication {
			replicas = append(replicas, m.pickNodeExcluding(replicas))
		}
		f.locs[i] = replicas
	}
	f.info.Replication = replication
	return nil
}

// BlockLocations returns, per block, the nodes hosting its replicas.
func (m *MemFS) BlockLocations(p string) ([]dfs.BlockLocation, error) {
	p = clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[p]
	if !ok {
		return nil, dfs.ErrNotFound
	}

	out := make([]dfs.BlockLocation, len(f.locs))
	for i, replicas := range f.locs {
		nodes := make([]dfs.NodeID, len(replicas))
		copy(nodes, replicas)
		out[i] = dfs.BlockLocation{Nodes: nodes}
	}
	return out, nil
}

// RelocateBlock moves one replica of a block from a node to another.
func (m *MemFS) RelocateBlock(p string, index int, from, to dfs.NodeID) error {
	p = clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[p]
	if !ok {
		return dfs.ErrNotFound
	}
	if index < 0 || index >= len(f.locs) {
		return fmt.Errorf("memfs: block index %d out of range for %s", index, p)
	}
	if !m.hasNode(to) {
		return fmt.Errorf("memfs: unknown target node %s", to)
	}

	replicas := f.locs[index]
	for _, n := range replicas {
		if n == to {
			return fmt.Errorf("memfs: node %s already hosts block %d of %s", to, index, p)
		}
	}
	for i, n := range replicas {
		if n == from {
			replicas[i] = to
			return nil
		}
	}
	return fmt.Errorf("memfs: node %s does not host block %d of %s", from, index, p)
}

// Checksum computes the CRC-32 of the given byte range. A negative
// length means until the end of file.
func (m *MemFS) Checksum(p string, offset, length int64) (uint32, error) {
	p = clean(p)

	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[p]
	if !ok {
		return 0, dfs.ErrNotFound
	}
	if offset < 0 || offset > f.info.Size {
		return 0, fmt.Errorf("memfs: offset %d out of range for %s", offset, p)
	}
	end := f.info.Size
	if length >= 0 && offset+length < end {
		end = offset + length
	}

	crc := crc32.NewIEEE()
	for i := 0; i < len(f.blocks); i++ {
		begin := int64(i) * f.info.BlockSize
		stop := begin + int64(len(f.blocks[i]))
		if stop <= offset || begin >= end {
			continue
		}
		if f.corrupt[i] {
			return 0, dfs.ErrCorruptBlock
		}
		lo, hi := int64(0), int64(len(f.blocks[i]))
		if offset > begin {
			lo = offset - begin
		}
		if end < stop {
			hi = end - begin
		}
		crc.Write(f.blocks[i][lo:hi])
	}
	return crc.Sum32(), nil
}

// Nodes returns all storage nodes of the cluster.
func (m *MemFS) Nodes() ([]dfs.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]dfs.Node, len(m.nodes))
	copy(nodes, m.nodes)
	return nodes, nil
}

// CorruptBlock marks one block unreadable. Test hook.
func (m *MemFS) CorruptBlock(p string, index int) error {
	p = clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[p]
	if !ok {
		return dfs.ErrNotFound
	}
	if index < 0 || index >= len(f.blocks) {
		return fmt.Errorf("memfs: block index %d out of range for %s", index, p)
	}
	f.corrupt[index] = true
	return nil
}

// SetModTime overrides the modification time of a file. Test hook.
func (m *MemFS) SetModTime(p string, t time.Time) error {
	p = clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[p]
	if !ok {
		return dfs.ErrNotFound
	}
	f.info.ModTime = t
	return nil
}

// PlaceBlock overrides the replica set of one block. Test hook.
func (m *MemFS) PlaceBlock(p string, index int, replicas []dfs.NodeID) error {
	p = clean(p)

	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[p]
	if !ok {
		return dfs.ErrNotFound
	}
	if index < 0 || index >= len(f.locs) {
		return fmt.Errorf("memfs: block index %d out of range for %s", index, p)
	}
	nodes := make([]dfs.NodeID, len(replicas))
	copy(nodes, replicas)
	f.locs[index] = nodes
	f.info.Replication = len(nodes)
	return nil
}

func (m *MemFS) pickNodes(n int) []dfs.NodeID {
	replicas := make([]dfs.NodeID, 0, n)
	for len(replicas) < n {
		replicas = append(replicas, m.nodes[m.next%len(m.nodes)].ID)
		m.next++
	}
	return replicas
}

func (m *MemFS) pickNodeExcluding(used []dfs.NodeID) dfs.NodeID {
	for {
		candidate := m.nodes[m.next%len(m.nodes)].ID
		m.next++

		taken := false
		for _, u := range used {
			if u == candidate {
				taken = true
				break
			}
		}
		if !taken {
			return candidate
		}
	}
}

func (m *MemFS) hasNode(id dfs.NodeID) bool {
	for _, n := range m.nodes {
		if n.ID == id {
			return true
		}
	}
	return false
}

// isDir reports whether any file lives below the given path.
// Callers must hold the lock.
func (m *MemFS) isDir(p string) bool {
	if p == "/" {
		return true
	}
	prefix := p + "/"
	for q := range m.files {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
