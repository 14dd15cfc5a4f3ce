package raidnode

import (
	"fmt"
	"sync"

	"github.com/chanyoung/raidfs/app/raidnode/delivery"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/encode"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/placement"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/policy"
	"github.com/chanyoung/raidfs/app/raidnode/usecase/recovery"
	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/pkg/errors"
)

// RaidNode is the daemon that keeps the file system's files redundant
// per policy: it schedules encoding jobs, audits parity placement and
// serves recovery requests.
type RaidNode struct {
	cfg *config.RaidNode

	fs        dfs.FileSystem
	framework compute.Framework

	policies  policy.Service
	encoder   encode.Service
	placer    placement.Service
	recoverer recovery.Service

	delivery *delivery.Service

	done chan struct{}
	once sync.Once
}

// New wires up a raid node from its file system and compute framework.
func New(cfg *config.RaidNode, fs dfs.FileSystem, framework compute.Framework) (*RaidNode, error) {
	if cfg == nil || fs == nil || framework == nil {
		return nil, fmt.Errorf("invalid arguments")
	}

	policies, err := policy.NewService(cfg, fs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup policy service")
	}
	encoder, err := encode.NewService(cfg, policies, framework)
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup encode service")
	}
	placer, err := placement.NewService(cfg, fs, policies)
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup placement service")
	}
	recoverer, err := recovery.NewService(fs, policies)
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup recovery service")
	}

	ds, err := delivery.NewDeliveryService(cfg, newHandlers(policies, encoder, placer, recoverer))
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup delivery service")
	}

	return &RaidNode{
		cfg: cfg,

		fs:        fs,
		framework: framework,

		policies:  policies,
		encoder:   encoder,
		placer:    placer,
		recoverer: recoverer,

		delivery: ds,

		done: make(chan struct{}),
	}, nil
}

// Start brings up the background loops and the admin endpoints.
func (n *RaidNode) Start() error {
	if err := n.delivery.Run(); err != nil {
		return errors.Wrap(err, "failed to run delivery service")
	}
	n.encoder.Run()
	n.placer.Run()
	return nil
}

// Stop tears the node down in the reverse order of Start.
func (n *RaidNode) Stop() error {
	n.placer.Stop()
	n.encoder.Stop()
	err := n.delivery.Stop()
	n.once.Do(func() { close(n.done) })
	return err
}

// AwaitShutdown blocks until Stop has torn the node down.
func (n *RaidNode) AwaitShutdown() {
	<-n.done
}
