package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brainfit/brainfit/internal/api"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/logger"
)

var autostart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the training API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

//nolint:gochecknoinit
func init() {
	serveCmd.Flags().BoolVar(&autostart, "autostart", false, "start training as soon as the server is up")
}

func runServe(ctx context.Context) error {
	c, err := initializeConfig()
	if err != nil {
		return err
	}
	logs := logger.NewLogBuffer(c.API.LogBufferSize)
	log.AddHook(logs)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	if autostart {
		if err := a.manager.Train(trainer.RunBackground); err != nil {
			return err
		}
	}
	return api.New(a.manager, logs, a.storage, a.registry).Run(ctx, c.API.Listen)
}
