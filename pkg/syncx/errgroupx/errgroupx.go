// Package errgroupx wraps golang.org/x/sync/errgroup so a group owns its context, can recover
// panics from its members, and exposes when every member has exited.
package errgroupx

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Group ties an errgroup.Group to a context that is canceled when the group is closed, so member
// goroutines never outlive it.
type Group struct {
	eg      *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
	recover bool

	members sync.WaitGroup
	started sync.Once
	done    chan struct{}
}

// WithContext creates a Group as a child of the given context.
func WithContext(parent context.Context) *Group {
	ctx, cancel := context.WithCancel(parent)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// WithRecover makes the group turn member panics into errors returned from Wait.
func (g *Group) WithRecover() *Group {
	g.recover = true
	return g
}

// Go runs f as a member of the group. A non-nil error from f cancels the group's context.
func (g *Group) Go(f func(ctx context.Context) error) {
	g.members.Add(1)
	g.eg.Go(func() error {
		defer g.members.Done()
		return g.call(f)
	})
	g.started.Do(func() {
		go func() {
			g.members.Wait()
			close(g.done)
		}()
	})
}

func (g *Group) call(f func(ctx context.Context) error) (err error) {
	if g.recover {
		defer func() {
			if p := recover(); p != nil {
				err = errors.Errorf("recovered panic: %v\n%s", p, debug.Stack())
			}
		}()
	}
	return f(g.ctx)
}

// Done is closed once every function started with Go has returned. It never closes for a group
// that never started anything, and it assumes all members are started before the first returns.
func (g *Group) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until every member returns and reports the first error.
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Cancel cancels the group's context without waiting.
func (g *Group) Cancel() {
	g.cancel()
}

// Close cancels the group and waits for it.
func (g *Group) Close() error {
	g.Cancel()
	return g.Wait()
}
