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

var raidNodePolicyCmd = &cobra.Command{
	Use:   "policy",
	Short: "list the resolved policies",
	Long:  "list the resolved policies",
	Run:   raidNodePolicyRun,
}

func raidNodePolicyRun(cmd *cobra.Command, args []string) {
	conn, err := raidrpc.Dial(raidNodeCfg.ServerAddr+":"+raidNodeCfg.ServerPort, time.Duration(2*time.Second))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	req := &raidrpc.ListPoliciesRequest{}
	res := &raidrpc.ListPoliciesResponse{}

	cli := rpc.NewClient(conn)
	if err := cli.Call(raidrpc.ListPolicies.String(), req, res); err != nil {
		log.Fatal(err)
	}

	for _, p := range res.Policies {
		selector := p.SrcPrefix
		if selector == "" {
			selector = "list:" + p.FileListPath
		}
		fmt.Printf("%s\t%s\t%s\t(%d,%d)\n", p.Name, p.Code, selector, p.StripeLength, p.ParityLength)
	}
}

func init() {
	raidNodePolicyCmd.Flags().StringVarP(&raidNodeCfg.ServerAddr, "bind", "b", config.Get("raidnode.addr"), "will ask the raid node of this address")
	raidNodePolicyCmd.Flags().StringVarP(&raidNodeCfg.ServerPort, "port", "p", config.Get("raidnode.port"), "will ask the raid node of this port")
}
