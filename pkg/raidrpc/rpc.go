package raidrpc

import (
	"net"
	"time"
)

// RaidNodePrefix is the prefix for calling raid node rpc methods.
const RaidNodePrefix = "RaidNode"

// MethodName indicates what procedure will be called.
type MethodName int

const (
	// Recover rebuilds a corrupt file from its parity.
	Recover MethodName = iota
	// ListPolicies returns the resolved policies.
	ListPolicies
	// JobStats returns the encoding progress counters.
	JobStats
	// PlacementStats returns the placement audit counters.
	PlacementStats
)

func (m MethodName) String() string {
	switch m {
	case Recover:
		return RaidNodePrefix + "." + "Recover"
	case ListPolicies:
		return RaidNodePrefix + "." + "ListPolicies"
	case JobStats:
		return RaidNodePrefix + "." + "JobStats"
	case PlacementStats:
		return RaidNodePrefix + "." + "PlacementStats"
	default:
		return "unknown"
	}
}

// RecoverRequest asks to rebuild the file containing a corrupt offset.
type RecoverRequest struct {
	Path   string
	Offset int64
}

// RecoverResponse carries the path the recovered content was written
// to and whether any block had to be rebuilt from parity.
type RecoverResponse struct {
	RecoveredPath string
	Reconstructed bool
}

// Policy is the wire form of one resolved policy.
type Policy struct {
	Name              string
	SrcPrefix         string
	FileListPath      string
	Code              string
	SrcReplication    int
	TargetReplication int
	MetaReplication   int
	StripeLength      int
	ParityLength      int
	ModTimePeriod     string
	MaxParityPerNode  int
	ParityLocation    string
}

// ListPoliciesRequest requests every resolved policy.
type ListPoliciesRequest struct{}

// ListPoliciesResponse contains the resolved policies, sorted by name.
type ListPoliciesResponse struct {
	Policies []Policy
}

// JobStatsRequest requests the encoding progress counters.
type JobStatsRequest struct{}

// JobStatsResponse contains the encoding progress counters.
type JobStatsResponse struct {
	JobsMonitored int64
	JobsSucceeded int64
	JobsFailed    int64
	RunningJobs   int64
}

// PlacementStatsRequest requests the placement audit counters.
type PlacementStatsRequest struct{}

// PlacementStatsResponse contains the placement audit counters.
type PlacementStatsResponse struct {
	Violations   int64
	MovesQueued  int64
	MovesDone    int64
	MovesFailed  int64
	MovesDropped int64
}

// Dial connects to a raid node admin rpc address.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	return dialer.Dial("tcp", addr)
}
