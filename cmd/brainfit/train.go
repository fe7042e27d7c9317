package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brainfit/brainfit/internal/trainer"
)

type trainArgs struct {
	exportCSV string
}

var trainFlags trainArgs

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train every configured dataset and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrain(cmd.Context(), trainFlags)
	},
}

//nolint:gochecknoinit
func init() {
	trainCmd.Flags().StringVar(&trainFlags.exportCSV, "export-csv", "",
		"write the pooled test outputs of every finished plan to <dir>/<plan>.csv")
}

func runTrain(ctx context.Context, args trainArgs) error {
	c, err := initializeConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	go func() {
		<-ctx.Done()
		log.Info("interrupt received, stopping after the current batch")
		a.manager.StopTraining()
	}()
	if err := a.manager.Train(trainer.RunInline); err != nil {
		return err
	}

	t := a.manager.Trainer()
	fmt.Println(t.GetProgressText())
	if t.Status() == trainer.StatusError {
		return t.Err()
	}

	if args.exportCSV != "" {
		for _, h := range a.manager.Plans() {
			if h.FinishedCount() == 0 {
				continue
			}
			path := filepath.Join(args.exportCSV, h.Name()+".csv")
			if err := a.manager.ExportOutputCSV(path, h.Name(), -1); err != nil {
				return err
			}
			log.WithField("plan", h.Name()).Infof("wrote %s", path)
		}
	}
	return nil
}
