package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jython234/osp/osp"
)

func newSubscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <osp-url>",
		Short: "Subscribe to a peer's broadcasts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := loadNode()
			if err != nil {
				return err
			}

			target, err := osp.ParseURL(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return n.SubscribeTo(ctx, target)
		},
	}
	return cmd
}
