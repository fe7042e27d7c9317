package manager

import (
	"github.com/brainfit/brainfit/internal/trainer"
)

// RecordSummary is the progress of one repeat.
type RecordSummary struct {
	Repeat   int                `json:"repeat"`
	Epoch    int                `json:"epoch"`
	Epochs   int                `json:"epochs"`
	Finished bool               `json:"finished"`
	Best     map[string]float64 `json:"best"`
	Acc      *float64           `json:"acc,omitempty"`
	AUC      *float64           `json:"auc,omitempty"`
	Kappa    *float64           `json:"kappa,omitempty"`
}

// PlanSummary is the progress of one plan.
type PlanSummary struct {
	Name     string          `json:"name"`
	Dataset  string          `json:"dataset"`
	Repeats  int             `json:"repeats"`
	Finished bool            `json:"finished"`
	Records  []RecordSummary `json:"records"`
}

// Summary is a point-in-time snapshot of the trainer and its plans.
type Summary struct {
	Status       trainer.Status `json:"status"`
	Running      bool           `json:"running"`
	CurrentIndex int            `json:"current_index"`
	Error        string         `json:"error,omitempty"`
	Plans        []PlanSummary  `json:"plans"`
}

// Summary snapshots the trainer.
func (m *TrainingManager) Summary() Summary {
	t := m.Trainer()
	if t == nil {
		return Summary{Status: trainer.StatusPending, Plans: []PlanSummary{}}
	}
	s := Summary{
		Status:       t.Status(),
		Running:      t.IsRunning(),
		CurrentIndex: t.CurrentIndex(),
		Plans:        []PlanSummary{},
	}
	if err := t.Err(); err != nil {
		s.Error = err.Error()
	}
	for _, h := range t.GetTrainingPlanHolders() {
		ps := PlanSummary{
			Name:     h.Name(),
			Dataset:  h.Dataset().Name(),
			Repeats:  h.Option().RepeatNum,
			Finished: h.IsFinished(),
			Records:  []RecordSummary{},
		}
		for _, rec := range h.GetPlans() {
			epoch, epochs := rec.Progress()
			rs := RecordSummary{
				Repeat:   rec.Repeat(),
				Epoch:    epoch,
				Epochs:   epochs,
				Finished: rec.IsFinished(),
				Best:     rec.BestRecord(),
			}
			if er := rec.EvalRecord(); er != nil {
				acc, auc, kappa := er.Acc(), er.AUC(), er.Kappa()
				rs.Acc, rs.AUC, rs.Kappa = &acc, &auc, &kappa
			}
			ps.Records = append(ps.Records, rs)
		}
		s.Plans = append(s.Plans, ps)
	}
	return s
}
