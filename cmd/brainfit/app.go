package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/config"
	"github.com/brainfit/brainfit/internal/db"
	"github.com/brainfit/brainfit/internal/manager"
	"github.com/brainfit/brainfit/internal/prom"
	"github.com/brainfit/brainfit/pkg/checkpoints"
)

// app is a TrainingManager wired to the configured storage, run history and metrics.
type app struct {
	config   *config.Config
	manager  *manager.TrainingManager
	storage  checkpoints.Storage
	db       *db.PgDB
	registry *prometheus.Registry
}

func newApp(ctx context.Context, c *config.Config) (*app, error) {
	factory, err := c.ModelFactory()
	if err != nil {
		return nil, err
	}
	option, err := c.TrainingOption()
	if err != nil {
		return nil, err
	}
	storage, err := checkpoints.New(c.CheckpointStorage)
	if err != nil {
		return nil, errors.Wrap(err, "configuring checkpoint storage")
	}

	a := &app{
		config:   c,
		manager:  manager.New(),
		storage:  storage,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.manager.SetModelFactory(factory)
	a.manager.SetTrainingOption(option)
	a.manager.SetSaliencyParams(c.Saliency)
	a.manager.SetStorage(storage)
	a.manager.SetObserver(prom.NewTrainingObserver(a.registry))
	if storage != nil {
		log.Infof("uploading checkpoints to %s", storage)
	}

	if c.DB.Enabled() {
		pg, err := db.Setup(ctx, c.DB)
		if err != nil {
			return nil, err
		}
		a.db = pg
		a.manager.SetSink(pg)
	}

	datasets, err := c.BuildDatasets()
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.manager.GeneratePlan(datasets, false, false); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops training and releases the database.
func (a *app) Close() {
	if err := a.manager.CleanTrainer(true); err != nil {
		log.WithError(err).Warn("stopping the trainer")
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.WithError(err).Warn("closing the run history database")
		}
	}
}
