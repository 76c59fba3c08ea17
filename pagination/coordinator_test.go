package pagination

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/itiky/list-mirror/model"
)

func Test_Coordinator_EndReached(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, err := NewCoordinator(context.Background(), "test", func(ctx context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	defer c.Close(model.ErrSessionDisposed)

	sub := c.Subscribe()
	require.Equal(t, model.IdleStatus(true), <-sub.Changes())

	require.NoError(t, c.RequestMore(context.Background()))
	require.Equal(t, model.IdleStatus(false), c.Status())

	require.Equal(t, model.LoadingStatus(), <-sub.Changes())
	require.Equal(t, model.IdleStatus(false), <-sub.Changes())
}

// Test issues two concurrent requests and checks only one underlying call was made.
func Test_Coordinator_SingleFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	errLoad := errors.New("network is down")

	c, err := NewCoordinator(context.Background(), "test", func(ctx context.Context) (bool, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return false, errLoad
	})
	require.NoError(t, err)
	defer c.Close(model.ErrSessionDisposed)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = c.RequestMore(context.Background())
		}(i)

		if i == 0 {
			<-started
			require.True(t, c.Status().IsLoading())
		}
	}

	// give the second caller time to join the in-flight load
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	for _, res := range results {
		require.ErrorIs(t, res, model.ErrPaginationFailure)
		require.ErrorIs(t, res, errLoad)
	}
	require.Equal(t, results[0], results[1])

	// a failure doesn't change hasMore and a retry is possible
	require.Equal(t, model.IdleStatus(true), c.Status())
}

func Test_Coordinator_FailureKeepsHasMore(t *testing.T) {
	defer goleak.VerifyNone(t)

	fail := true
	c, err := NewCoordinator(context.Background(), "test", func(ctx context.Context) (bool, error) {
		if fail {
			return true, errors.New("failed")
		}
		return true, nil
	})
	require.NoError(t, err)
	defer c.Close(model.ErrSessionDisposed)

	c.Update(model.IdleStatus(false))
	require.Error(t, c.RequestMore(context.Background()))
	require.Equal(t, model.IdleStatus(false), c.Status())

	c.Update(model.IdleStatus(true))
	require.Error(t, c.RequestMore(context.Background()))
	require.Equal(t, model.IdleStatus(true), c.Status())

	fail = false
	require.NoError(t, c.RequestMore(context.Background()))
	require.Equal(t, model.IdleStatus(false), c.Status())
}

func Test_Coordinator_CallerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	release := make(chan struct{})
	c, err := NewCoordinator(context.Background(), "test", func(ctx context.Context) (bool, error) {
		<-release
		return false, nil
	})
	require.NoError(t, err)
	defer c.Close(model.ErrSessionDisposed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.RequestMore(ctx), context.Canceled)

	// the in-flight load is still shared with the next caller
	close(release)
	require.NoError(t, c.RequestMore(context.Background()))
	require.Equal(t, model.IdleStatus(true), c.Status())
}

func Test_NewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(context.Background(), "test", nil)
	require.Error(t, err)
}
