package cli

import (
	"fmt"
	"log"
	"net/rpc"
	"time"

	"github.com/chanyoung/raidfs/pkg/raidrpc"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/spf13/cobra"
)

var raidNodeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "show encoding and placement counters",
	Long:  "show encoding and placement counters",
	Run:   raidNodeStatsRun,
}

func raidNodeStatsRun(cmd *cobra.Command, args []string) {
	conn, err := raidrpc.Dial(raidNodeCfg.ServerAddr+":"+raidNodeCfg.ServerPort, time.Duration(2*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	cli := rpc.NewClient(conn)

	jres := &raidrpc.JobStatsResponse{}
	if err := cli.Call(raidrpc.JobStats.String(), &raidrpc.JobStatsRequest{}, jres); err != nil {
		log.Fatal(err)
	}
	pres := &raidrpc.PlacementStatsResponse{}
	if err := cli.Call(raidrpc.PlacementStats.String(), &raidrpc.PlacementStatsRequest{}, pres); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("jobs: monitored %d, succeeded %d, failed %d, running %d\n",
		jres.JobsMonitored, jres.JobsSucceeded, jres.JobsFailed, jres.RunningJobs)
	fmt.Printf("placement: violations %d, queued %d, done %d, failed %d, dropped %d\n",
		pres.Violations, pres.MovesQueued, pres.MovesDone, pres.MovesFailed, pres.MovesDropped)
}

func init() {
	raidNodeStatsCmd.Flags().StringVarP(&raidNodeCfg.ServerAddr, "bind", "b", config.Get("raidnode.addr"), "will ask the raid node of this address")
	raidNodeStatsCmd.Flags().StringVarP(&raidNodeCfg.ServerPort, "port", "p", config.Get("raidnode.port"), "will ask the raid node of this port")
}
