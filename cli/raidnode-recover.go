package cli

import (
	"fmt"
	"log"
	"net/rpc"
	"strconv"
	"time"

	"github.com/chanyoung/raidfs/pkg/raidrpc"
	"github.com/chanyoung/raidfs/pkg/util/config"
	"github.com/spf13/cobra"
)

var raidNodeRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "recover [file path] [corrupt offset]",
	Long:  "recover [file path] [corrupt offset]",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 2 {
			return fmt.Errorf("requires a file path and a corrupt offset")
		}
		if _, err := strconv.ParseInt(args[1], 10, 64); err != nil {
			return fmt.Errorf("offset must be an integer: %v", err)
		}
		return nil
	},
	Run: raidNodeRecoverRun,
}

func raidNodeRecoverRun(cmd *cobra.Command, args []string) {
	path := args[0]
	offset, _ := strconv.ParseInt(args[1], 10, 64)

	conn, err := raidrpc.Dial(raidNodeCfg.ServerAddr+":"+raidNodeCfg.ServerPort, time.Duration(2*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	req := &raidrpc.RecoverRequest{Path: path, Offset: offset}
	res := &raidrpc.RecoverResponse{}

	cli := rpc.NewClient(conn)
	if err := cli.Call(raidrpc.Recover.String(), req, res); err != nil {
		log.Fatal(err)
	}

	fmt.Println(res.RecoveredPath)
}

func init() {
	raidNodeRecoverCmd.Flags().StringVarP(&raidNodeCfg.ServerAddr, "bind", "b", config.Get("raidnode.addr"), "will ask the raid node of this address")
	raidNodeRecoverCmd.Flags().StringVarP(&raidNodeCfg.ServerPort, "port", "p", config.Get("raidnode.port"), "will ask the raid node of this port")
}
