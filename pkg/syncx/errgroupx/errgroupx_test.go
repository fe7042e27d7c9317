package errgroupx

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFailingMemberCancelsSiblings(t *testing.T) {
	parent := context.Background()
	g := WithContext(parent)

	sawCancel := make(chan struct{})
	g.Go(func(context.Context) error {
		return errors.New("boom")
	})
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		close(sawCancel)
		return nil
	})

	require.EqualError(t, g.Wait(), "boom")
	<-sawCancel
	require.NoError(t, parent.Err(), "parent context must not be canceled")
}

func TestPanicBecomesError(t *testing.T) {
	g := WithContext(context.Background()).WithRecover()
	g.Go(func(context.Context) error {
		panic("oh no")
	})
	err := g.Wait()
	require.ErrorContains(t, err, "recovered panic: oh no")
}

func TestDoneClosesAfterLastMember(t *testing.T) {
	g := WithContext(context.Background())
	release := make(chan struct{})
	g.Go(func(context.Context) error {
		<-release
		return nil
	})

	select {
	case <-g.Done():
		require.FailNow(t, "done closed while a member is still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-g.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "done never closed")
	}
	require.NoError(t, g.Wait())
}

func TestCloseCancelsMembers(t *testing.T) {
	g := WithContext(context.Background())
	g.Go(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, g.Close())
}
