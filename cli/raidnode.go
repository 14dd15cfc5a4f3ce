package cli

import (
	"log"
	"os"

	"github.com/chanyoung/raidfs/app/raidnode"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/spf13/cobra"
)

var raidNodeCfg config.RaidNode

var raidNodeCmd = &cobra.Command{
	Use:   "raidnode",
	Short: "raid node control commands",
	Long:  "raid node control commands",
	Run:   raidNodeRun,
}

func raidNodeRun(cmd *cobra.Command, args []string) {
	if err := os.Chdir(raidNodeCfg.WorkDir); err != nil {
		log.Fatal(err)
	}

	if err := raidnode.Bootstrap(raidNodeCfg); err != nil {
		log.Fatal(err)
	}
}

func init() {
	raidNodeCmd.AddCommand(raidNodeRecoverCmd)
	raidNodeCmd.AddCommand(raidNodePolicyCmd)
	raidNodeCmd.AddCommand(raidNodeStatsCmd)

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.ServerAddr, "bind", "b", config.Get("raidnode.addr"), "address to which the raid node will bind")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.ServerPort, "port", "p", config.Get("raidnode.port"), "port on which the raid node will listen")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.AdminPort, "admin-port", "", config.Get("raidnode.admin_port"), "port on which the admin http api will listen")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.WorkDir, "work-dir", "", config.Get("raidnode.work_dir"), "working directory")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.PolicyFile, "policy-file", "", config.Get("raidnode.policy_file"), "path of the policy configuration file")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.ExecutionMode, "execution-mode", "", config.Get("raidnode.execution_mode"), "execution mode of the compute framework")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.ParityLocation, "parity-location", "", config.Get("raidnode.parity_location"), "parity root path of xor policies")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.ParityLocationRS, "parity-location-rs", "", config.Get("raidnode.parity_location_rs"), "parity root path of rs policies")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.RSParityLength, "rs-parity-length", "", config.Get("raidnode.rs_parity_length"), "default parity length of rs policies")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.RescanInterval, "rescan-interval", "", config.Get("raidnode.rescan_interval"), "period between traversal passes")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.JobPollInterval, "job-poll-interval", "", config.Get("raidnode.job_poll_interval"), "period between job state polls")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.AuditInterval, "audit-interval", "", config.Get("raidnode.audit_interval"), "period between placement audits")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.MaxFilesPerJob, "max-files-per-job", "", config.Get("raidnode.max_files_per_job"), "maximum files batched into one job")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.MaxJobsPerScan, "max-jobs-per-scan", "", config.Get("raidnode.max_jobs_per_scan"), "maximum jobs created per traversal pass")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.MaxFilesPerScan, "max-files-per-scan", "", config.Get("raidnode.max_files_per_scan"), "maximum files batched per traversal pass")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.MaxConcurrentJobs, "max-concurrent-jobs", "", config.Get("raidnode.max_concurrent_jobs"), "maximum jobs in flight at once")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.NumMovingThreads, "num-moving-threads", "", config.Get("raidnode.num_moving_threads"), "number of block mover workers")
	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.BlockMoveQueueLength, "block-move-queue-length", "", config.Get("raidnode.block_move_queue_length"), "capacity of the block move queue")

	raidNodeCmd.Flags().StringVarP(&raidNodeCfg.LogLocation, "log", "l", config.Get("raidnode.log_location"), "log location of the raid node will print out")
}
