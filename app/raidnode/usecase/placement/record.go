package placement

import (
	"github.com/chanyoung/raidfs/pkg/dfs"
)

// MoveTask asks the block mover to relocate one block replica.
type MoveTask struct {
	Path       string
	BlockIndex int
	From       dfs.NodeID
	To         dfs.NodeID
}

// Stats aggregates the placement audit counters.
type Stats struct {
	Violations   int64
	MovesQueued  int64
	MovesDone    int64
	MovesFailed  int64
	MovesDropped int64
}

// CountBlocksOnEachNode tallies how many of the given blocks each node
// hosts a replica of.
func CountBlocksOnEachNode(locations []dfs.BlockLocation) map[dfs.NodeID]int {
	counts := make(map[dfs.NodeID]int)
	for _, loc := range locations {
		for _, n := range loc.Nodes {
			counts[n]++
		}
	}
	return counts
}
