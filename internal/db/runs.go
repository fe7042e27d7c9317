package db

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"time"

	back "github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"github.com/brainfit/brainfit/internal/plan"
	"github.com/brainfit/brainfit/internal/record"
)

const (
	sinkAttempts = 2
	sinkInterval = 500 * time.Millisecond
	sinkMax      = 5 * time.Second
)

func sinkBackoff() back.BackOff {
	bf := back.NewExponentialBackOff()
	bf.InitialInterval = sinkInterval
	bf.MaxInterval = sinkMax
	return back.WithMaxRetries(bf, sinkAttempts)
}

// BestValues is the flattened best-model table of a repeat, stored as jsonb.
type BestValues map[string]float64

// Value implements driver.Valuer.
func (b BestValues) Value() (driver.Value, error) {
	if b == nil {
		return nil, nil
	}
	return json.Marshal(b)
}

// Scan implements sql.Scanner.
func (b *BestValues) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = nil
		return nil
	case []byte:
		return b.decode(v)
	case string:
		return b.decode([]byte(v))
	default:
		return errors.Errorf("cannot scan %T into BestValues", src)
	}
}

// decode replaces the contents of b; json.Unmarshal alone would merge into a reused map.
func (b *BestValues) decode(bs []byte) error {
	var fresh BestValues
	if err := json.Unmarshal(bs, &fresh); err != nil {
		return errors.Wrap(err, "decoding best values")
	}
	*b = fresh
	return nil
}

// Run is one finished repeat.
type Run struct {
	bun.BaseModel `bun:"table:training_runs"`

	ID         uuid.UUID  `bun:"id,pk,type:uuid" db:"id"`
	PlanID     uuid.UUID  `bun:"plan_id,type:uuid,notnull" db:"plan_id"`
	Plan       string     `bun:"plan,notnull" db:"plan"`
	Dataset    string     `bun:"dataset,notnull" db:"dataset"`
	Repeat     int        `bun:"repeat,notnull" db:"repeat"`
	Epochs     int        `bun:"epochs,notnull" db:"epochs"`
	Seed       int64      `bun:"seed,notnull" db:"seed"`
	Acc        *float64   `bun:"acc" db:"acc"`
	AUC        *float64   `bun:"auc" db:"auc"`
	Kappa      *float64   `bun:"kappa" db:"kappa"`
	Best       BestValues `bun:"best,type:jsonb" db:"best"`
	Checkpoint string     `bun:"checkpoint,notnull" db:"checkpoint"`
	FinishedAt time.Time  `bun:"finished_at,notnull" db:"finished_at"`
}

// NewRun captures a finished repeat of p.
func NewRun(p *plan.TrainingPlanHolder, rec *record.TrainRecord) *Run {
	r := &Run{
		ID:         rec.ID,
		PlanID:     p.ID,
		Plan:       p.Name(),
		Dataset:    p.Dataset().Name(),
		Repeat:     rec.Repeat(),
		Epochs:     rec.Epoch(),
		Seed:       int64(rec.Option().Seed) + int64(rec.Repeat()),
		Best:       rec.BestRecord(),
		Checkpoint: rec.TargetPath(),
		FinishedAt: time.Now().UTC(),
	}
	if er := rec.EvalRecord(); er != nil {
		acc, auc, kappa := er.Acc(), er.AUC(), er.Kappa()
		r.Acc, r.AUC, r.Kappa = &acc, &auc, &kappa
	}
	return r
}

// AddRun inserts a run, replacing an earlier row of the same repeat.
func (db *PgDB) AddRun(ctx context.Context, r *Run) error {
	_, err := db.bun.NewInsert().Model(r).
		On("CONFLICT (id) DO UPDATE").
		Set("epochs = EXCLUDED.epochs").
		Set("acc = EXCLUDED.acc").
		Set("auc = EXCLUDED.auc").
		Set("kappa = EXCLUDED.kappa").
		Set("best = EXCLUDED.best").
		Set("finished_at = EXCLUDED.finished_at").
		Exec(ctx)
	return errors.Wrapf(err, "inserting run %s of %s", r.ID, r.Plan)
}

// RunsForPlan returns the runs of a plan ordered by repeat.
func (db *PgDB) RunsForPlan(ctx context.Context, planName string) ([]Run, error) {
	var runs []Run
	err := db.sql.SelectContext(ctx, &runs, `
SELECT id, plan_id, plan, dataset, repeat, epochs, seed, acc, auc, kappa, best, checkpoint, finished_at
FROM training_runs
WHERE plan = $1
ORDER BY repeat`, planName)
	return runs, errors.Wrapf(err, "querying runs of %s", planName)
}

var _ plan.Sink = (*PgDB)(nil)

// RecordFinished implements plan.Sink.
func (db *PgDB) RecordFinished(ctx context.Context, p *plan.TrainingPlanHolder, rec *record.TrainRecord) error {
	r := NewRun(p, rec)
	err := back.Retry(func() error { return db.AddRun(ctx, r) }, back.WithContext(sinkBackoff(), ctx))
	if err != nil {
		return err
	}
	log.WithField("plan", r.Plan).Debugf("stored %s in the run history", rec.Name())
	return nil
}
