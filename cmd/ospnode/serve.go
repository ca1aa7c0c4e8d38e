package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jython234/osp/node"
	"github.com/jython234/osp/registry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Accept inbound connections and log received objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := loadNode()
			if err != nil {
				return err
			}
			if err := node.RegisterRawBlob(n.Registry()); err != nil {
				return err
			}
			err = registry.InstallObserver(n.Registry(), func(b node.RawBlob) {
				logrus.WithField("bytes", len(b.Data)).Info("received blob")
			})
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logrus.Info("ospnode: listening")
			return n.Listen(ctx)
		},
	}
}
