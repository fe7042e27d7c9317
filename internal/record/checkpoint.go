package record

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

const recordFileName = "record"

func epochSnapshotFile(epoch int) string {
	return fmt.Sprintf("Epoch-%d-model", epoch)
}

// persistedValue is a metric as stored in the record file. JSON has no non-finite numbers, so NaN
// is written as null and infinities as the strings "Infinity" and "-Infinity".
type persistedValue float64

const (
	posInfText = "Infinity"
	negInfText = "-Infinity"
)

func (v persistedValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte("null"), nil
	case math.IsInf(f, 1):
		return json.Marshal(posInfText)
	case math.IsInf(f, -1):
		return json.Marshal(negInfText)
	default:
		return json.Marshal(f)
	}
}

func (v *persistedValue) UnmarshalJSON(bs []byte) error {
	if string(bs) == "null" {
		*v = persistedValue(math.NaN())
		return nil
	}
	var text string
	if err := json.Unmarshal(bs, &text); err == nil {
		switch text {
		case posInfText:
			*v = persistedValue(math.Inf(1))
		case negInfText:
			*v = persistedValue(math.Inf(-1))
		default:
			return errors.Errorf("unknown metric value %q", text)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(bs, &f); err != nil {
		return err
	}
	*v = persistedValue(f)
	return nil
}

type persistedHistory map[model.MetricKey][]persistedValue

func encodeHistory(h History) persistedHistory {
	out := make(persistedHistory, len(h))
	for k, vs := range h {
		enc := make([]persistedValue, len(vs))
		for i, v := range vs {
			enc[i] = persistedValue(v)
		}
		out[k] = enc
	}
	return out
}

func decodeHistory(p persistedHistory, keys []model.MetricKey) History {
	h := newHistory(keys)
	for k, vs := range p {
		dec := make([]float64, len(vs))
		for i, v := range vs {
			dec[i] = float64(v)
		}
		h[k] = dec
	}
	return h
}

type recordFile struct {
	Train      persistedHistory   `json:"train"`
	Val        persistedHistory   `json:"val"`
	Test       persistedHistory   `json:"test"`
	BestRecord map[string]float64 `json:"best_record"`
	Seed       nprand.State       `json:"seed"`
}

// ExportCheckpoint captures the generator state and writes the record into its target path: the
// current model state, every best snapshot, the histories and, if attached, the EvalRecord.
func (r *TrainRecord) ExportCheckpoint() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.targetPath, 0o750); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory %s", r.targetPath)
	}
	r.seed = *r.rng.Clone()

	var result *multierror.Error
	state, err := r.model.State()
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "reading model state"))
	} else {
		result = multierror.Append(result,
			writeFileAtomic(filepath.Join(r.targetPath, epochSnapshotFile(r.epoch)), state))
	}
	var written int64
	written += int64(len(state))
	for _, split := range bestSplits {
		for _, key := range bestMetrics {
			c := r.best.cell(split, key)
			if !c.set || c.snapshot == nil {
				continue
			}
			written += int64(len(c.snapshot))
			result = multierror.Append(result,
				writeFileAtomic(filepath.Join(r.targetPath, bestSnapshotFile(split, key)), c.snapshot))
		}
	}

	bs, err := json.Marshal(recordFile{
		Train:      encodeHistory(r.train),
		Val:        encodeHistory(r.val),
		Test:       encodeHistory(r.test),
		BestRecord: r.best.flatten(),
		Seed:       r.seed,
	})
	if err != nil {
		result = multierror.Append(result, errors.Wrap(err, "serializing record"))
	} else {
		written += int64(len(bs))
		result = multierror.Append(result, writeFileAtomic(filepath.Join(r.targetPath, recordFileName), bs))
	}
	if r.evalRecord != nil {
		result = multierror.Append(result, r.evalRecord.Export(r.targetPath))
	}

	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, "exporting checkpoint to %s", r.targetPath)
	}
	log.WithFields(log.Fields{
		"repeat": r.repeat,
		"epoch":  r.epoch,
		"path":   r.targetPath,
	}).Debugf("exported checkpoint (%s)", units.HumanSize(float64(written)))
	return nil
}

// Load restores the record from its target path. The epoch counter is rebuilt from the length
// of the training loss history and the model is restored from the matching epoch snapshot.
func (r *TrainRecord) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := filepath.Join(r.targetPath, recordFileName)
	bs, err := os.ReadFile(p) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "reading %s", p)
	}
	var f recordFile
	if err := json.Unmarshal(bs, &f); err != nil {
		return errors.Wrapf(err, "parsing %s", p)
	}

	r.train = decodeHistory(f.Train, model.TrainMetricKeys)
	r.val = decodeHistory(f.Val, model.EvalMetricKeys)
	r.test = decodeHistory(f.Test, model.EvalMetricKeys)
	r.epoch = len(r.train[model.LossKey])

	r.best = bestTable{}
	r.best.restore(f.BestRecord)
	for _, split := range bestSplits {
		for _, key := range bestMetrics {
			c := r.best.cell(split, key)
			if !c.set {
				continue
			}
			snap, err := os.ReadFile(filepath.Join(r.targetPath, bestSnapshotFile(split, key))) // #nosec G304
			if err != nil {
				log.WithError(err).Warnf("missing snapshot for %s", bestKey(split, key))
				continue
			}
			c.snapshot = snap
		}
	}

	if r.epoch > 0 {
		sp := filepath.Join(r.targetPath, epochSnapshotFile(r.epoch))
		state, err := os.ReadFile(sp) // #nosec G304
		if err != nil {
			return errors.Wrapf(err, "reading %s", sp)
		}
		if err := r.model.LoadState(state); err != nil {
			return errors.Wrapf(err, "restoring model from %s", sp)
		}
	}

	r.evalRecord = LoadEvalRecord(r.targetPath)
	r.seed = f.Seed
	r.rng.Restore(f.Seed)
	return nil
}

// StorageKey is the location of the record relative to a storage root.
func (r *TrainRecord) StorageKey() string {
	return path.Join(filepath.Base(filepath.Dir(r.targetPath)), r.Name())
}

// Upload copies the exported checkpoint directory into s.
func (r *TrainRecord) Upload(ctx context.Context, s checkpoints.Storage) error {
	if s == nil {
		return nil
	}
	return errors.Wrapf(s.Upload(ctx, r.targetPath, r.StorageKey()),
		"uploading %s to %s", r.Name(), s)
}
