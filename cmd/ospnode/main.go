// Command ospnode is a thin wiring CLI around the node package: load
// config, read the private key from disk, construct a node, and drive
// one of its lifecycle operations. No protocol logic lives here
// (SPEC_FULL.md §5.5).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ospnode",
		Short: "Run and interact with an OSP syndication node",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "ospnode.yaml", "path to node config file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newBroadcastCmd())
	root.AddCommand(newSubscribeCmd())

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("ospnode failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
