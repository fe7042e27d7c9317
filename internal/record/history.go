package record

import "github.com/brainfit/brainfit/pkg/model"

// History maps a metric key to its per-epoch values.
type History map[model.MetricKey][]float64

func newHistory(keys []model.MetricKey) History {
	h := make(History, len(keys))
	for _, k := range keys {
		h[k] = []float64{}
	}
	return h
}

func (h History) clone() History {
	c := make(History, len(h))
	for k, v := range h {
		c[k] = append([]float64(nil), v...)
	}
	return c
}

// Last returns the most recent value for key and whether there is one.
func (h History) Last(key model.MetricKey) (float64, bool) {
	vs := h[key]
	if len(vs) == 0 {
		return 0, false
	}
	return vs[len(vs)-1], true
}

// TrainMetrics are the metrics of one training pass.
type TrainMetrics struct {
	model.Metrics
	LR   float64 `json:"lr"`
	Time float64 `json:"time"`
}

func (m TrainMetrics) get(key model.MetricKey) float64 {
	switch key {
	case model.LRKey:
		return m.LR
	case model.TimeKey:
		return m.Time
	default:
		return m.Metrics.Get(key)
	}
}
