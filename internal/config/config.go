// Package config holds the configuration of the brainfit binary.
package config

import (
	"encoding/json"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/internal/datasets/synthetic"
	"github.com/brainfit/brainfit/internal/db"
	"github.com/brainfit/brainfit/internal/models"
	"github.com/brainfit/brainfit/internal/models/softmax"
	"github.com/brainfit/brainfit/pkg/check"
	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/logger"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/optim"
)

const hiddenValue = "********"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: *logger.DefaultConfig(),
		DB:  *db.DefaultConfig(),
		API: APIConfig{
			Listen:        ":8080",
			LogBufferSize: 5000,
		},
		Training: TrainingConfig{
			OutputDir:        "output",
			Optimizer:        optim.AdamName,
			Epoch:            10,
			BatchSize:        32,
			LearningRate:     0.001,
			RepeatNum:        1,
			EvaluationOption: model.EvalLastEpoch,
		},
		Model: ModelConfig{
			Name: softmax.Name,
		},
		Saliency: model.DefaultSaliencyParams(),
	}
}

// Config is the configuration of the brainfit binary.
type Config struct {
	ConfigFile        string               `json:"config_file"`
	Log               logger.Config        `json:"log"`
	DB                db.Config            `json:"db"`
	CheckpointStorage checkpoints.Config   `json:"checkpoint_storage"`
	API               APIConfig            `json:"api"`
	Training          TrainingConfig       `json:"training"`
	Model             ModelConfig          `json:"model"`
	Datasets          []synthetic.Config   `json:"datasets"`
	Saliency          model.SaliencyParams `json:"saliency"`
}

// APIConfig configures the HTTP server of the serve command.
type APIConfig struct {
	Listen        string `json:"listen"`
	LogBufferSize int    `json:"log_buffer_size"`
}

// Validate implements the check.Validatable interface.
func (c APIConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.Listen, "api listen address must be set"),
		check.GreaterThan(c.LogBufferSize, 0, "api log_buffer_size must be positive"),
	}
}

// TrainingConfig is the serializable part of model.TrainingOption.
type TrainingConfig struct {
	OutputDir        string                 `json:"output_dir"`
	Optimizer        string                 `json:"optimizer"`
	OptimizerParams  map[string]float64     `json:"optimizer_params"`
	Device           string                 `json:"device"`
	Epoch            int                    `json:"epoch"`
	BatchSize        int                    `json:"batch_size"`
	LearningRate     float64                `json:"learning_rate"`
	CheckpointEpoch  int                    `json:"checkpoint_epoch"`
	RepeatNum        int                    `json:"repeat_num"`
	EvaluationOption model.EvaluationOption `json:"evaluation_option"`
	Seed             uint32                 `json:"seed"`
	PretrainedPath   string                 `json:"pretrained_path"`
}

// Validate implements the check.Validatable interface.
func (c TrainingConfig) Validate() []error {
	_, err := optim.ByName(c.Optimizer)
	return []error{
		err,
		check.NotEmpty(c.OutputDir, "training output_dir must be set"),
		check.GreaterThan(c.Epoch, 0, "training epoch must be positive"),
		check.GreaterThan(c.BatchSize, 0, "training batch_size must be positive"),
		check.GreaterThan(c.RepeatNum, 0, "training repeat_num must be positive"),
		check.GreaterThanOrEqualTo(c.CheckpointEpoch, 0, "training checkpoint_epoch must not be negative"),
		check.PositiveFloat(c.LearningRate, "training learning_rate must be positive"),
	}
}

// ModelConfig selects the architecture and its hyperparameters.
type ModelConfig struct {
	Name            string                `json:"name"`
	Hyperparameters model.Hyperparameters `json:"hyperparameters"`
}

// Validate implements the check.Validatable interface.
func (c ModelConfig) Validate() []error {
	_, err := models.ByName(c.Name)
	return []error{err}
}

// Resolve fills in values that depend on other values.
func (c *Config) Resolve() error {
	if len(c.Datasets) == 0 {
		c.Datasets = []synthetic.Config{synthetic.DefaultConfig()}
	}
	out, err := filepath.Abs(c.Training.OutputDir)
	if err != nil {
		return errors.Wrapf(err, "resolving output_dir %s", c.Training.OutputDir)
	}
	c.Training.OutputDir = out
	if c.CheckpointStorage.Type == checkpoints.SharedFS && c.CheckpointStorage.HostPath != "" {
		hostPath, err := filepath.Abs(c.CheckpointStorage.HostPath)
		if err != nil {
			return errors.Wrapf(err, "resolving host_path %s", c.CheckpointStorage.HostPath)
		}
		c.CheckpointStorage.HostPath = hostPath
	}
	return nil
}

// Printable returns the configuration as JSON with secrets masked.
func (c Config) Printable() ([]byte, error) {
	c.DB = c.DB.Printable()
	bs, err := json.Marshal(c)
	return bs, errors.Wrap(err, "unable to convert config to JSON")
}

// TrainingOption builds the option shared by every plan.
func (c Config) TrainingOption() (model.TrainingOption, error) {
	newOptimizer, err := optim.ByName(c.Training.Optimizer)
	if err != nil {
		return model.TrainingOption{}, model.NewConfigurationError(err)
	}
	t := c.Training
	return model.TrainingOption{
		OutputDir:        t.OutputDir,
		Optimizer:        t.Optimizer,
		OptimizerParams:  t.OptimizerParams,
		Device:           t.Device,
		Epoch:            t.Epoch,
		BatchSize:        t.BatchSize,
		LearningRate:     t.LearningRate,
		CheckpointEpoch:  t.CheckpointEpoch,
		RepeatNum:        t.RepeatNum,
		EvaluationOption: t.EvaluationOption,
		Seed:             t.Seed,
		PretrainedPath:   t.PretrainedPath,
		Hyperparameters:  c.Model.Hyperparameters,
		NewOptimizer:     newOptimizer,
		Loss:             optim.CrossEntropy{},
	}, nil
}

// ModelFactory returns the factory of the configured architecture.
func (c Config) ModelFactory() (model.ModelFactory, error) {
	return models.ByName(c.Model.Name)
}

// BuildDatasets generates every configured dataset.
func (c Config) BuildDatasets() ([]model.Dataset, error) {
	out := make([]model.Dataset, 0, len(c.Datasets))
	for _, dc := range c.Datasets {
		d, err := synthetic.New(dc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
