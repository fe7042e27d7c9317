package record

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// counterModel's state is the number of times it has been stepped.
type counterModel struct{ steps int }

func (m *counterModel) Infer(inputs [][]float64) ([][]float64, error) {
	return make([][]float64, len(inputs)), nil
}

func (m *counterModel) TrainStep(
	batch model.Batch, lossFn model.LossFunc, opt model.Optimizer,
) (float64, [][]float64, error) {
	m.steps++
	return 0, nil, nil
}

func (m *counterModel) State() ([]byte, error) { return []byte(strconv.Itoa(m.steps)), nil }

func (m *counterModel) LoadState(bs []byte) error {
	n, err := strconv.Atoi(string(bs))
	m.steps = n
	return err
}

func newTestRecord(t *testing.T, epochs int, m model.Model) *TrainRecord {
	option := model.TrainingOption{Epoch: epochs, Seed: 11}
	return NewTrainRecord(0, nil, m, option, nil, nprand.New(11),
		filepath.Join(t.TempDir(), "blobs-abcd1234", "Repeat-0"))
}

func trainMetrics(loss float64) TrainMetrics {
	return TrainMetrics{Metrics: model.Metrics{Loss: loss, Acc: 50, AUC: 0.5}, LR: 0.01, Time: 1}
}

func TestAppendEpochKeepsBestAndSnapshot(t *testing.T) {
	m := &counterModel{}
	rec := newTestRecord(t, 10, m)

	vals := []model.Metrics{
		{Loss: 3, Acc: 50, AUC: 0.6},
		{Loss: 1, Acc: 70, AUC: math.NaN()},
		{Loss: 2, Acc: 70, AUC: 0.9},
		{Loss: 1, Acc: 60, AUC: 0.8},
	}
	for i, v := range vals {
		m.steps = 100 + i
		v := v
		require.NoError(t, rec.AppendEpoch(trainMetrics(float64(i)), &v, nil))
	}

	require.Equal(t, 4, rec.Epoch())
	require.Len(t, rec.History(model.TrainSplit)[model.LossKey], 4)
	require.Len(t, rec.History(model.ValSplit)[model.AccKey], 4)
	require.Empty(t, rec.History(model.TestSplit)[model.LossKey])
	_, hasLR := rec.History(model.ValSplit)[model.LRKey]
	require.False(t, hasLR)

	best, ok := rec.Best(model.ValSplit, model.LossKey)
	require.True(t, ok)
	require.Equal(t, BestEntry{Value: 1, Epoch: 1}, best)
	require.Equal(t, "101", string(rec.BestSnapshot(model.ValSplit, model.LossKey)))

	best, _ = rec.Best(model.ValSplit, model.AccKey)
	require.Equal(t, BestEntry{Value: 70, Epoch: 1}, best)

	best, _ = rec.Best(model.ValSplit, model.AUCKey)
	require.Equal(t, BestEntry{Value: 0.9, Epoch: 2}, best)
	require.Equal(t, "102", string(rec.BestSnapshot(model.ValSplit, model.AUCKey)))

	_, ok = rec.Best(model.TestSplit, model.LossKey)
	require.False(t, ok)

	flat := rec.BestRecord()
	require.Equal(t, 1.0, flat["best_val_loss"])
	require.Equal(t, 1.0, flat["best_val_loss_epoch"])
	_, ok = flat["best_test_loss"]
	require.False(t, ok)
}

func TestBestMatchesHistoryExtremes(t *testing.T) {
	rng := nprand.New(3)
	rec := newTestRecord(t, 50, &counterModel{})
	for i := 0; i < 30; i++ {
		v := model.Metrics{Loss: rng.UnitInterval(), Acc: rng.Uniform(0, 100), AUC: rng.UnitInterval()}
		tm := v
		require.NoError(t, rec.AppendEpoch(trainMetrics(1), &v, &tm))
	}
	for _, split := range []model.Split{model.ValSplit, model.TestSplit} {
		h := rec.History(split)
		for _, key := range model.EvalMetricKeys {
			want, wantEpoch := h[key][0], 0
			for i, v := range h[key] {
				if (key.LowerIsBetter() && v < want) || (!key.LowerIsBetter() && v > want) {
					want, wantEpoch = v, i
				}
			}
			got, ok := rec.Best(split, key)
			require.True(t, ok)
			require.Equal(t, want, got.Value, "%s %s", split, key)
			require.Equal(t, wantEpoch, got.Epoch, "%s %s", split, key)
		}
	}
}

func TestExportThenLoadRestoresRecord(t *testing.T) {
	m := &counterModel{}
	rec := newTestRecord(t, 5, m)
	rec.Resume()
	for i := 0; i < 3; i++ {
		m.steps++
		rec.RNG().Perm(10)
		v := model.Metrics{Loss: 2 - float64(i), Acc: 40 + float64(i), AUC: math.NaN()}
		require.NoError(t, rec.AppendEpoch(trainMetrics(float64(i)), &v, nil))
	}
	require.NoError(t, rec.ExportCheckpoint())
	for _, name := range []string{"record", "Epoch-3-model", "best_val_loss_model", "best_val_acc_model"} {
		_, err := os.Stat(filepath.Join(rec.TargetPath(), name))
		require.NoError(t, err, name)
	}
	_, err := os.Stat(filepath.Join(rec.TargetPath(), "best_val_auc_model"))
	require.True(t, os.IsNotExist(err))

	fresh := &counterModel{}
	loaded := NewTrainRecord(0, nil, fresh, rec.Option(), nil, nprand.New(999), rec.TargetPath())
	require.NoError(t, loaded.Load())

	require.Equal(t, rec.Epoch(), loaded.Epoch())
	require.True(t, rec.Seed().Key == loaded.Seed().Key && rec.Seed().Pos == loaded.Seed().Pos)
	require.True(t, rec.RNG().Equal(loaded.RNG()))
	require.Equal(t, rec.History(model.TrainSplit), loaded.History(model.TrainSplit))
	require.Equal(t, rec.BestRecord(), loaded.BestRecord())
	require.Equal(t, 3, fresh.steps)
	require.Equal(t, rec.BestSnapshot(model.ValSplit, model.AccKey),
		loaded.BestSnapshot(model.ValSplit, model.AccKey))

	valAUC := loaded.History(model.ValSplit)[model.AUCKey]
	require.Len(t, valAUC, 3)
	require.True(t, math.IsNaN(valAUC[0]))
	if diff := cmp.Diff(rec.History(model.ValSplit), loaded.History(model.ValSplit),
		cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("val history changed on reload (-want +got):\n%s", diff)
	}
	require.Nil(t, loaded.EvalRecord())
	require.Equal(t, "blobs-abcd1234/Repeat-0", loaded.StorageKey())
}

func TestHistoryKeepsNonFiniteValues(t *testing.T) {
	losses := []float64{0.5, math.Inf(1), math.Inf(-1), math.NaN()}
	bs, err := json.Marshal(encodeHistory(History{model.LossKey: losses}))
	require.NoError(t, err)
	require.Contains(t, string(bs), `[0.5,"Infinity","-Infinity",null]`)

	var p persistedHistory
	require.NoError(t, json.Unmarshal(bs, &p))
	got := decodeHistory(p, model.TrainMetricKeys)[model.LossKey]
	if diff := cmp.Diff(losses, got, cmpopts.EquateNaNs()); diff != "" {
		t.Fatalf("history changed across encoding (-want +got):\n%s", diff)
	}

	require.Error(t, json.Unmarshal([]byte(`{"loss":["huge"]}`), &p))
}

func TestLoadMissingCheckpoint(t *testing.T) {
	rec := newTestRecord(t, 1, &counterModel{})
	assert.ErrorContains(t, rec.Load(), "reading")
}

func TestIsFinishedNeedsEvalRecord(t *testing.T) {
	rec := newTestRecord(t, 1, &counterModel{})
	require.False(t, rec.EpochsDone())
	require.NoError(t, rec.AppendEpoch(trainMetrics(1), nil, nil))
	require.True(t, rec.EpochsDone())
	require.False(t, rec.IsFinished())

	er, err := NewEvalRecord([]int{0, 1}, [][]float64{{0.9, 0.1}, {0.2, 0.8}}, nil)
	require.NoError(t, err)
	rec.SetEvalRecord(er)
	require.True(t, rec.IsFinished())
	require.Equal(t, "Repeat-0: finished", rec.TrainingStatus())

	require.NoError(t, rec.ExportCheckpoint())
	loaded := NewTrainRecord(0, nil, &counterModel{}, rec.Option(), nil, nil, rec.TargetPath())
	require.NoError(t, loaded.Load())
	require.True(t, loaded.IsFinished())
	require.Equal(t, []int{0, 1}, loaded.EvalRecord().Labels())
}

func TestPauseResumeReplaysStream(t *testing.T) {
	rec := newTestRecord(t, 1, &counterModel{})
	rec.Pause()
	first := rec.RNG().Perm(16)
	rec.Resume()
	require.Equal(t, first, rec.RNG().Perm(16))
}

func TestEvalRecordMetrics(t *testing.T) {
	er, err := NewEvalRecord(
		[]int{0, 0, 1, 1},
		[][]float64{{0.9, 0.1}, {0.4, 0.6}, {0.3, 0.7}, {0.2, 0.8}},
		map[SaliencyMethod]SaliencyMap{Gradient: {0: {{1, 2}}, 1: {{3, 4}}}},
	)
	require.NoError(t, err)
	require.Equal(t, 75.0, er.Acc())
	require.Equal(t, 1.0, er.AUC())
	require.InDelta(t, 0.5, er.Kappa(), 1e-9)
	require.Equal(t, []int{0, 1, 1, 1}, er.Predictions())
	require.Len(t, er.ClassificationReport().Classes, 2)
	require.Empty(t, er.Saliency(VarGrad))

	single, err := NewEvalRecord([]int{0, 0}, [][]float64{{1, 0}, {1, 0}}, nil)
	require.NoError(t, err)
	require.Equal(t, 0.0, single.AUC())

	_, err = NewEvalRecord([]int{0}, nil, nil)
	require.Error(t, err)
}

func TestEvalRecordExportAndCorruptLoad(t *testing.T) {
	dir := t.TempDir()
	require.Nil(t, LoadEvalRecord(dir))

	er, err := NewEvalRecord([]int{1}, [][]float64{{0.1, 0.9}},
		map[SaliencyMethod]SaliencyMap{SmoothGrad: {1: {{0.5}}}})
	require.NoError(t, err)
	require.NoError(t, er.Export(dir))
	loaded := LoadEvalRecord(dir)
	require.NotNil(t, loaded)
	require.Equal(t, er.Outputs(), loaded.Outputs())
	require.Equal(t, SaliencyMap{1: {{0.5}}}, loaded.Saliency(SmoothGrad))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "eval"), []byte("{not json"), 0o600))
	require.Nil(t, LoadEvalRecord(dir))
}

func TestAggregateEvalRecords(t *testing.T) {
	a, err := NewEvalRecord([]int{0}, [][]float64{{1, 0}},
		map[SaliencyMethod]SaliencyMap{Gradient: {0: {{1}}}})
	require.NoError(t, err)
	b, err := NewEvalRecord([]int{1, 0}, [][]float64{{0, 1}, {1, 0}},
		map[SaliencyMethod]SaliencyMap{Gradient: {0: {{2}}, 1: {{3}}}})
	require.NoError(t, err)

	agg := AggregateEvalRecords(a, nil, b)
	require.Equal(t, []int{0, 1, 0}, agg.Labels())
	require.Equal(t, SaliencyMap{0: {{1}, {2}}, 1: {{3}}}, agg.Saliency(Gradient))
	require.Equal(t, 100.0, agg.Acc())

	require.Nil(t, AggregateEvalRecords(nil, nil))
}
