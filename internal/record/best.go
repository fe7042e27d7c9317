package record

import (
	"fmt"
	"math"

	"github.com/brainfit/brainfit/pkg/model"
)

// bestSplits and bestMetrics index the best-model table.
var (
	bestSplits  = []model.Split{model.ValSplit, model.TestSplit}
	bestMetrics = []model.MetricKey{model.LossKey, model.AccKey, model.AUCKey}
)

// BestEntry is the best value seen for one split and metric and the epoch index it occurred at.
type BestEntry struct {
	Value float64 `json:"value"`
	Epoch int     `json:"epoch"`
}

type bestCell struct {
	BestEntry
	set      bool
	snapshot []byte
}

func (c *bestCell) improvedBy(key model.MetricKey, value float64) bool {
	if math.IsNaN(value) {
		return false
	}
	if !c.set {
		return true
	}
	if key.LowerIsBetter() {
		return value < c.Value
	}
	return value > c.Value
}

// bestTable is the fixed {val,test} x {loss,acc,auc} grid of best values and the model
// snapshots taken at those epochs.
type bestTable [2][3]bestCell

func bestIndex(split model.Split, key model.MetricKey) (int, int, bool) {
	si, ki := -1, -1
	for i, s := range bestSplits {
		if s == split {
			si = i
		}
	}
	for i, k := range bestMetrics {
		if k == key {
			ki = i
		}
	}
	return si, ki, si >= 0 && ki >= 0
}

func (t *bestTable) cell(split model.Split, key model.MetricKey) *bestCell {
	si, ki, ok := bestIndex(split, key)
	if !ok {
		return nil
	}
	return &t[si][ki]
}

// bestKey is the flat name used in persisted best records and snapshot file names.
func bestKey(split model.Split, key model.MetricKey) string {
	return fmt.Sprintf("best_%s_%s", split, key)
}

func bestSnapshotFile(split model.Split, key model.MetricKey) string {
	return bestKey(split, key) + "_model"
}

// flatten renders the set cells as best_<split>_<metric> and best_<split>_<metric>_epoch keys.
func (t *bestTable) flatten() map[string]float64 {
	out := map[string]float64{}
	for _, split := range bestSplits {
		for _, key := range bestMetrics {
			c := t.cell(split, key)
			if !c.set {
				continue
			}
			out[bestKey(split, key)] = c.Value
			out[bestKey(split, key)+"_epoch"] = float64(c.Epoch)
		}
	}
	return out
}

func (t *bestTable) restore(flat map[string]float64) {
	for _, split := range bestSplits {
		for _, key := range bestMetrics {
			v, ok := flat[bestKey(split, key)]
			epoch, eok := flat[bestKey(split, key)+"_epoch"]
			if !ok || !eok {
				continue
			}
			c := t.cell(split, key)
			c.set = true
			c.Value = v
			c.Epoch = int(epoch)
		}
	}
}
