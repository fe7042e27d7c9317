package model

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/check"
)

// EvaluationOption selects which model state produces the final EvalRecord of a repeat.
type EvaluationOption string

const (
	// EvalLastEpoch evaluates the model as it is after the final epoch.
	EvalLastEpoch EvaluationOption = "last_epoch"
	// EvalValLoss evaluates the snapshot with the lowest validation loss.
	EvalValLoss EvaluationOption = "val_loss"
	// EvalValAcc evaluates the snapshot with the highest validation accuracy.
	EvalValAcc EvaluationOption = "val_acc"
	// EvalValAUC evaluates the snapshot with the highest validation AUC.
	EvalValAUC EvaluationOption = "val_auc"
	// EvalTestLoss evaluates the snapshot with the lowest test loss.
	EvalTestLoss EvaluationOption = "test_loss"
	// EvalTestAcc evaluates the snapshot with the highest test accuracy.
	EvalTestAcc EvaluationOption = "test_acc"
	// EvalTestAUC evaluates the snapshot with the highest test AUC.
	EvalTestAUC EvaluationOption = "test_auc"
)

var evaluationTargets = map[EvaluationOption]struct {
	split  Split
	metric MetricKey
}{
	EvalValLoss:  {ValSplit, LossKey},
	EvalValAcc:   {ValSplit, AccKey},
	EvalValAUC:   {ValSplit, AUCKey},
	EvalTestLoss: {TestSplit, LossKey},
	EvalTestAcc:  {TestSplit, AccKey},
	EvalTestAUC:  {TestSplit, AUCKey},
}

// Best returns the best-model cell this option refers to. ok is false for EvalLastEpoch.
func (o EvaluationOption) Best() (split Split, metric MetricKey, ok bool) {
	t, ok := evaluationTargets[o]
	return t.split, t.metric, ok
}

// Validate implements the check.Validatable interface.
func (o EvaluationOption) Validate() []error {
	if _, ok := evaluationTargets[o]; ok || o == EvalLastEpoch || o == "" {
		return nil
	}
	return []error{errors.Errorf("unknown evaluation option %q", string(o))}
}

// TrainingOption is the configuration shared by every repeat of a plan.
type TrainingOption struct {
	OutputDir        string             `json:"output_dir"`
	Optimizer        string             `json:"optimizer"`
	OptimizerParams  map[string]float64 `json:"optimizer_params"`
	Device           string             `json:"device"`
	Epoch            int                `json:"epoch"`
	BatchSize        int                `json:"batch_size"`
	LearningRate     float64            `json:"learning_rate"`
	CheckpointEpoch  int                `json:"checkpoint_epoch"`
	RepeatNum        int                `json:"repeat_num"`
	EvaluationOption EvaluationOption   `json:"evaluation_option"`
	Seed             uint32             `json:"seed"`
	PretrainedPath   string             `json:"pretrained_path"`
	Hyperparameters  Hyperparameters    `json:"hyperparameters"`

	NewOptimizer OptimizerFactory `json:"-"`
	Loss         LossFunc         `json:"-"`
}

// Validate implements the check.Validatable interface.
func (o TrainingOption) Validate() []error {
	return []error{
		check.NotEmpty(o.OutputDir, "output_dir must be set"),
		check.GreaterThan(o.Epoch, 0, "epoch must be positive"),
		check.GreaterThan(o.BatchSize, 0, "batch_size must be positive"),
		check.GreaterThan(o.RepeatNum, 0, "repeat_num must be positive"),
		check.GreaterThanOrEqualTo(o.CheckpointEpoch, 0, "checkpoint_epoch must not be negative"),
		check.PositiveFloat(o.LearningRate, "learning_rate must be positive"),
		check.True(o.NewOptimizer != nil, "an optimizer factory must be provided"),
		check.True(o.Loss != nil, "a loss function must be provided"),
	}
}

// String summarizes the option for logs.
func (o TrainingOption) String() string {
	return fmt.Sprintf("optimizer=%s lr=%g epoch=%d batch_size=%d repeat=%d checkpoint=%d eval=%s",
		o.Optimizer, o.LearningRate, o.Epoch, o.BatchSize, o.RepeatNum, o.CheckpointEpoch,
		o.EvaluationOption)
}

// NoiseTunnelParams configure one noise-based saliency method.
type NoiseTunnelParams struct {
	NTSamples int     `json:"nt_samples"`
	Stdevs    float64 `json:"stdevs"`
}

// Validate implements the check.Validatable interface.
func (p NoiseTunnelParams) Validate() []error {
	return []error{
		check.GreaterThan(p.NTSamples, 0, "nt_samples must be positive"),
		check.True(p.Stdevs >= 0, "stdevs must not be negative"),
	}
}

// SaliencyParams configure the noise-based saliency methods.
type SaliencyParams struct {
	SmoothGrad   NoiseTunnelParams `json:"smoothgrad"`
	SmoothGradSq NoiseTunnelParams `json:"smoothgrad_sq"`
	VarGrad      NoiseTunnelParams `json:"vargrad"`
}

// DefaultSaliencyParams returns the parameters used when none are configured.
func DefaultSaliencyParams() SaliencyParams {
	p := NoiseTunnelParams{NTSamples: 5, Stdevs: 0.25}
	return SaliencyParams{SmoothGrad: p, SmoothGradSq: p, VarGrad: p}
}
