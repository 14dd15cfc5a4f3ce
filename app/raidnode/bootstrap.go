package raidnode

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/chanyoung/raidfs/pkg/compute"
	"github.com/chanyoung/raidfs/pkg/compute/local"
	"github.com/chanyoung/raidfs/pkg/dfs"
	"github.com/chanyoung/raidfs/pkg/dfs/memfs"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/chanyoung/raidfs/pkg/util/mlog"
	"github.com/chanyoung/raidfs/pkg/util/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

// Number of simulated data nodes when running against the in-memory
// file system.
const localNodes = 6

// Bootstrap build up the raid node service.
func Bootstrap(cfg config.RaidNode) error {
	// Setup logger.
	if err := mlog.Init(cfg.LogLocation); err != nil {
		return errors.Wrap(err, "init log failed")
	}
	logger = mlog.GetPackageLogger("app/raidnode")

	ctxLogger := mlog.GetFunctionLogger(logger, "Bootstrap")
	ctxLogger.Info("start bootstrap raid node ...")

	// Generates raid node ID.
	cfg.ID = uuid.Gen()

	// Setup the file system and the compute framework.
	var (
		fs        dfs.FileSystem
		framework compute.Framework
	)
	if cfg.ExecutionMode == "local" {
		workers, err := strconv.Atoi(cfg.MaxConcurrentJobs)
		if err != nil {
			return errors.Wrap(err, "failed to convert max concurrent jobs")
		}
		fs = memfs.New(localNodes)
		framework, err = local.NewExecutor(fs, workers)
		if err != nil {
			return errors.Wrap(err, "failed to setup local executor")
		}
	} else {
		return fmt.Errorf("not supported execution mode: %s", cfg.ExecutionMode)
	}

	node, err := New(&cfg, fs, framework)
	if err != nil {
		return errors.Wrap(err, "failed to setup raid node")
	}
	if err := node.Start(); err != nil {
		return errors.Wrap(err, "failed to start raid node")
	}

	ctxLogger.Info("bootstrap raid node succeeded")

	// Make channel for Ctrl-C or other terminate signal is received.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt, os.Kill)

	go func() {
		<-sigc
		ctxLogger.Info("received stop signal from OS")
		node.Stop()
	}()

	node.AwaitShutdown()
	return nil
}
