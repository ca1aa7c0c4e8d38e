package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/jython234/osp/node"
)

func newBroadcastCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Push a blob to every current subscriber",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := loadNode()
			if err != nil {
				return err
			}
			if err := node.RegisterRawBlob(n.Registry()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return n.Broadcast(ctx, node.RawBlob{Data: []byte(message)})
		},
	}
	cmd.Flags().StringVar(&message, "message", "", "payload to broadcast")
	return cmd
}
