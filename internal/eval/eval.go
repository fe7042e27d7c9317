// Package eval scores models on dataset splits and builds the final EvalRecord of a repeat.
package eval

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/metrics"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// ComputeAUC returns the ROC AUC of outputs against labels: the class-1 score for two columns,
// the macro one-vs-rest average for more. Rows that are not already probability distributions are
// softmaxed first. Inputs for which the AUC is undefined yield 0.
func ComputeAUC(labels []int, outputs [][]float64) float64 {
	auc, err := metrics.AUC(labels, outputs)
	if err != nil {
		log.WithError(err).Debug("auc undefined, reporting 0")
		return 0
	}
	return auc
}

// Accuracy returns the percentage of rows whose argmax equals the label.
func Accuracy(labels []int, outputs [][]float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	var correct int
	for i, row := range outputs {
		if i < len(labels) && metrics.Argmax(row) == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)) * 100
}

// Evaluate runs inference over batches and returns the mean per-sample loss, the accuracy in
// percent and the AUC. An empty split yields zeroed metrics.
func Evaluate(m model.Model, batches []model.Batch, lossFn model.LossFunc) (model.Metrics, error) {
	var (
		labels  []int
		outputs [][]float64
		loss    float64
	)
	for _, b := range batches {
		if b.Len() == 0 {
			continue
		}
		out, err := m.Infer(b.Inputs)
		if err != nil {
			return model.Metrics{}, errors.Wrap(err, "running inference")
		}
		loss += lossFn.Loss(out, b.Labels) * float64(b.Len())
		labels = append(labels, b.Labels...)
		outputs = append(outputs, out...)
	}
	if len(labels) == 0 {
		return model.Metrics{}, nil
	}
	return model.Metrics{
		Loss: loss / float64(len(labels)),
		Acc:  Accuracy(labels, outputs),
		AUC:  ComputeAUC(labels, outputs),
	}, nil
}

// ComputeSaliency evaluates m on batches and attributes every prediction back to its input with
// each saliency method. Models that do not implement model.GradientModel get empty saliency maps.
// Noise for the smoothing methods is drawn from rng. ctx is checked between batches.
func ComputeSaliency(
	ctx context.Context,
	m model.Model,
	batches []model.Batch,
	params model.SaliencyParams,
	rng *nprand.State,
) (*record.EvalRecord, error) {
	if rng == nil {
		rng = nprand.New(0)
	}
	gm, hasGradients := m.(model.GradientModel)
	if !hasGradients {
		log.Debugf("model %T has no input gradients, skipping saliency", m)
	}

	var (
		labels  []int
		outputs [][]float64
	)
	saliency := make(map[record.SaliencyMethod]record.SaliencyMap, len(record.SaliencyMethods))
	for _, method := range record.SaliencyMethods {
		saliency[method] = record.SaliencyMap{}
	}

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if b.Len() == 0 {
			continue
		}
		out, err := m.Infer(b.Inputs)
		if err != nil {
			return nil, errors.Wrap(err, "running inference")
		}
		labels = append(labels, b.Labels...)
		outputs = append(outputs, out...)
		if !hasGradients {
			continue
		}

		attributions, err := attribute(gm, b, params, rng)
		if err != nil {
			return nil, err
		}
		for method, rows := range attributions {
			for i, row := range rows {
				class := b.Labels[i]
				saliency[method][class] = append(saliency[method][class], row)
			}
		}
	}
	return record.NewEvalRecord(labels, outputs, saliency)
}

func attribute(
	gm model.GradientModel, b model.Batch, params model.SaliencyParams, rng *nprand.State,
) (map[record.SaliencyMethod][][]float64, error) {
	grads, err := gm.InputGradients(b.Inputs, b.Labels)
	if err != nil {
		return nil, errors.Wrap(err, "computing input gradients")
	}
	gradInput := make([][]float64, len(grads))
	for i, g := range grads {
		gradInput[i] = make([]float64, len(g))
		for j := range g {
			gradInput[i][j] = g[j] * b.Inputs[i][j]
		}
	}

	smooth, _, err := noiseTunnel(gm, b, params.SmoothGrad, rng)
	if err != nil {
		return nil, err
	}
	_, smoothSq, err := noiseTunnel(gm, b, params.SmoothGradSq, rng)
	if err != nil {
		return nil, err
	}
	mean, sq, err := noiseTunnel(gm, b, params.VarGrad, rng)
	if err != nil {
		return nil, err
	}
	variance := make([][]float64, len(mean))
	for i := range mean {
		variance[i] = make([]float64, len(mean[i]))
		for j := range mean[i] {
			variance[i][j] = sq[i][j] - mean[i][j]*mean[i][j]
		}
	}

	return map[record.SaliencyMethod][][]float64{
		record.Gradient:      grads,
		record.GradientInput: gradInput,
		record.SmoothGrad:    smooth,
		record.SmoothGradSq:  smoothSq,
		record.VarGrad:       variance,
	}, nil
}

// noiseTunnel returns the mean and the mean square of the input gradients over p.NTSamples copies
// of the batch perturbed with Gaussian noise of standard deviation p.Stdevs.
func noiseTunnel(
	gm model.GradientModel, b model.Batch, p model.NoiseTunnelParams, rng *nprand.State,
) ([][]float64, [][]float64, error) {
	samples := p.NTSamples
	if samples <= 0 {
		samples = 1
	}
	mean := make([][]float64, len(b.Inputs))
	sq := make([][]float64, len(b.Inputs))
	for i, row := range b.Inputs {
		mean[i] = make([]float64, len(row))
		sq[i] = make([]float64, len(row))
	}

	noisy := make([][]float64, len(b.Inputs))
	for s := 0; s < samples; s++ {
		for i, row := range b.Inputs {
			noisy[i] = make([]float64, len(row))
			for j, x := range row {
				noisy[i][j] = x
				if p.Stdevs > 0 {
					noisy[i][j] += rng.Normal(0, p.Stdevs)
				}
			}
		}
		grads, err := gm.InputGradients(noisy, b.Labels)
		if err != nil {
			return nil, nil, errors.Wrap(err, "computing noisy input gradients")
		}
		for i, g := range grads {
			for j, v := range g {
				mean[i][j] += v / float64(samples)
				sq[i][j] += v * v / float64(samples)
			}
		}
	}
	return mean, sq, nil
}
