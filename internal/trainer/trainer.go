// Package trainer runs a queue of training plans, one at a time, on a single worker.
package trainer

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/plan"
	"github.com/brainfit/brainfit/pkg/syncx/errgroupx"
)

// ErrTrainerRunning is returned by operations that are illegal while a worker is running.
var ErrTrainerRunning = errors.New("trainer is running")

// RunMode selects where the plan queue is executed.
type RunMode int

const (
	// RunBackground trains on a new goroutine and returns immediately.
	RunBackground RunMode = iota
	// RunInline trains on the calling goroutine and returns when training stops.
	RunInline
)

// Trainer executes its plans in queue order. Plans finished by an earlier run are not trained
// again; an interrupted plan resumes where it stopped.
type Trainer struct {
	mu         sync.Mutex
	plans      []*plan.TrainingPlanHolder
	currentIdx int
	interrupt  bool
	status     Status
	err        error

	worker   *errgroupx.Group
	inline   bool
	cancel   context.CancelFunc
	finished chan struct{}
}

// New returns a Trainer for plans.
func New(plans ...*plan.TrainingPlanHolder) *Trainer {
	return &Trainer{plans: plans, status: StatusPending}
}

func (t *Trainer) transitionLocked(to Status) {
	if t.status == to {
		return
	}
	if !CanTransition(t.status, to) {
		log.Warnf("ignoring illegal trainer transition %s -> %s", t.status, to)
		return
	}
	log.Debugf("trainer %s -> %s", t.status, to)
	t.status = to
}

// isRunningLocked stays true until finish has recorded the worker's outcome, so a new worker never
// starts while the previous one is still being torn down.
func (t *Trainer) isRunningLocked() bool {
	return t.inline || t.worker != nil
}

// IsRunning reports whether a worker exists and has not exited.
func (t *Trainer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isRunningLocked()
}

// Run starts training the queue. It is a no-op while a worker is already running. The interrupt
// flag is cleared first.
func (t *Trainer) Run(mode RunMode) {
	t.mu.Lock()
	if t.isRunningLocked() {
		t.mu.Unlock()
		log.Debug("trainer already running")
		return
	}
	t.interrupt = false
	t.err = nil
	t.transitionLocked(StatusRunning)
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	finished := make(chan struct{})
	t.finished = finished

	if mode == RunInline {
		t.inline = true
		t.mu.Unlock()
		err := t.recoverJob(ctx)
		t.finish(err, finished)
		return
	}

	g := errgroupx.WithContext(ctx).WithRecover()
	t.worker = g
	g.Go(t.job)
	t.mu.Unlock()
	go func() {
		t.finish(g.Wait(), finished)
	}()
}

func (t *Trainer) recoverJob(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s\n%s", rec, debug.Stack())
		}
	}()
	return t.job(ctx)
}

// job trains plans from currentIdx on until the queue is exhausted, an interrupt is observed, or
// a plan fails.
func (t *Trainer) job(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.interrupt || ctx.Err() != nil || t.currentIdx >= len(t.plans) {
			t.mu.Unlock()
			return nil
		}
		p := t.plans[t.currentIdx]
		t.mu.Unlock()

		log.WithField("plan", p.Name()).Info("training plan")
		if err := p.Train(ctx); err != nil {
			return err
		}
		if !p.IsFinished() {
			return nil
		}

		t.mu.Lock()
		t.currentIdx++
		t.mu.Unlock()
	}
}

func (t *Trainer) finish(err error, finished chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		log.WithError(err).Error("training stopped on error")
		t.err = err
		t.transitionLocked(StatusError)
	} else {
		t.transitionLocked(StatusPending)
	}
	t.worker = nil
	t.inline = false
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	close(finished)
}

// Wait blocks until the current worker, if any, has exited and its outcome is recorded.
func (t *Trainer) Wait() {
	t.mu.Lock()
	finished := t.finished
	t.mu.Unlock()
	if finished != nil {
		<-finished
	}
}

// SetInterrupt asks the worker to stop at the next batch or plan boundary.
func (t *Trainer) SetInterrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupt = true
	if t.cancel != nil {
		t.cancel()
	}
	if t.isRunningLocked() {
		t.transitionLocked(StatusInterrupting)
	}
}

// ClearInterrupt clears the interrupt flag.
func (t *Trainer) ClearInterrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interrupt = false
}

// Interrupted reports whether an interrupt is pending.
func (t *Trainer) Interrupted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interrupt
}

// AddPlan appends plans to the queue. It is legal while running.
func (t *Trainer) AddPlan(plans ...*plan.TrainingPlanHolder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plans = append(t.plans, plans...)
}

// ClearHistory empties the queue. It fails with ErrTrainerRunning while a worker is running.
func (t *Trainer) ClearHistory() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isRunningLocked() {
		return ErrTrainerRunning
	}
	t.plans = nil
	t.currentIdx = 0
	t.err = nil
	t.transitionLocked(StatusPending)
	return nil
}

// Clean stops and clears the trainer. A running trainer is interrupted and waited for if force
// is set; otherwise Clean fails with ErrTrainerRunning.
func (t *Trainer) Clean(force bool) error {
	if t.IsRunning() {
		if !force {
			return ErrTrainerRunning
		}
		t.SetInterrupt()
		t.Wait()
	}
	return t.ClearHistory()
}

// Status returns the run state.
func (t *Trainer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the error the last worker stopped on, if any.
func (t *Trainer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// CurrentIndex returns the index of the plan being (or next to be) trained.
func (t *Trainer) CurrentIndex() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentIdx
}

// GetTrainingPlanHolders returns the queue.
func (t *Trainer) GetTrainingPlanHolders() []*plan.TrainingPlanHolder {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*plan.TrainingPlanHolder(nil), t.plans...)
}

// GetProgressText describes the queue for progress displays, one line per plan.
func (t *Trainer) GetProgressText() string {
	t.mu.Lock()
	status, current, err := t.status, t.currentIdx, t.err
	plans := append([]*plan.TrainingPlanHolder(nil), t.plans...)
	t.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s (%d/%d plans done)\n", status, current, len(plans))
	for i, p := range plans {
		marker := "  "
		if i == current {
			marker = "> "
		}
		b.WriteString(marker + p.TrainingStatus() + "\n")
	}
	if err != nil {
		fmt.Fprintf(&b, "Error: %s\n", err)
	}
	return b.String()
}
