package raidnode

import (
	"github.com/chanyoung/raidfs/app/raidnode/delivery"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/encode"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/placement"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/recovery"
	"github.com/chanyoung/raidfs/pkg/raidrpc"
)

// handlers adapts the usecase services to the admin rpc surface.
type handlers struct {
	policies  policy.Service
	encoder   encode.Service
	placer    placement.Service
	recoverer recovery.Service
}

func newHandlers(policies policy.Service, encoder encode.Service, placer placement.Service, recoverer recovery.Service) delivery.RaidNodeHandlers {
	return &handlers{
		policies:  policies,
		encoder:   encoder,
		placer:    placer,
		recoverer: recoverer,
	}
}

func (h *handlers) Recover(req *raidrpc.RecoverRequest, res *raidrpc.RecoverResponse) error {
	path, rebuilt, err := h.recoverer.Recover(req.Path, req.Offset)
	if err != nil {
		return err
	}
	res.RecoveredPath = path
	res.Reconstructed = rebuilt
	return nil
}

func (h *handlers) ListPolicies(req *raidrpc.ListPoliciesRequest, res *raidrpc.ListPoliciesResponse) error {
	for _, p := range h.policies.AllPolicies() {
		res.Policies = append(res.Policies, raidrpc.Policy{
			Name:              p.Name,
			SrcPrefix:         p.SrcPrefix,
			FileListPath:      p.FileListPath,
			Code:              p.Code.String(),
			SrcReplication:    p.SrcReplication,
			TargetReplication: p.TargetReplication,
			MetaReplication:   p.MetaReplication,
			StripeLength:      p.StripeLength,
			ParityLength:      p.ParityLength,
			ModTimePeriod:     p.ModTimePeriod.String(),
			MaxParityPerNode:  p.MaxParityPerNode,
			ParityLocation:    p.ParityLocation,
		})
	}
	return nil
}

func (h *handlers) JobStats(req *raidrpc.JobStatsRequest, res *raidrpc.JobStatsResponse) error {
	stats := h.encoder.Stats()
	res.JobsMonitored = stats.JobsMonitored
	res.JobsSucceeded = stats.JobsSucceeded
	res.JobsFailed = stats.JobsFailed
	res.RunningJobs = stats.RunningJobs
	return nil
}

func (h *handlers) PlacementStats(req *raidrpc.PlacementStatsRequest, res *raidrpc.PlacementStatsResponse) error {
	stats := h.placer.Stats()
	res.Violations = stats.Violations
	res.MovesQueued = stats.MovesQueued
	res.MovesDone = stats.MovesDone
	res.MovesFailed = stats.MovesFailed
	res.MovesDropped = stats.MovesDropped
	return nil
}
