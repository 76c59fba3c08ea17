package pagination

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/loggo"
	"golang.org/x/sync/singleflight"

	"github.com/itiky/list-mirror/broadcast"
	"github.com/itiky/list-mirror/model"
)

var logger = loggo.GetLogger("listmirror.pagination")

const loadMoreKey = "loadMore"

type (
	// LoadMoreFunc issues the underlying "load more" call and reports whether the end was reached.
	LoadMoreFunc func(ctx context.Context) (endReached bool, err error)

	// Coordinator tracks the pagination state of a single collection.
	// At most one underlying load is in flight; concurrent callers share its result.
	Coordinator struct {
		name     string
		loadMore LoadMoreFunc
		// Underlying calls context: outlives individual callers
		ctx    context.Context
		group  singleflight.Group
		status *broadcast.Replay[model.PaginationStatus]
		//
		mu      sync.Mutex
		current model.PaginationStatus
		hasMore bool
	}
)

// String implements the stringer interface.
func (c *Coordinator) String() string {
	return fmt.Sprintf("Coordinator (%s)", c.name)
}

// Status returns the current pagination status.
func (c *Coordinator) Status() model.PaginationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Subscribe returns the status stream (replay = 1).
func (c *Coordinator) Subscribe() *broadcast.Subscription[model.PaginationStatus] {
	return c.status.Subscribe()
}

// RequestMore requests the next page.
// If a load is already in flight, the caller waits for it instead of issuing a new one.
// Cancelling ctx only stops waiting, the in-flight load keeps going.
func (c *Coordinator) RequestMore(ctx context.Context) error {
	resCh := c.group.DoChan(loadMoreKey, func() (interface{}, error) {
		return nil, c.load()
	})

	select {
	case res := <-resCh:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update applies a status pushed by the source (e.g. changed by another client).
func (c *Coordinator) Update(status model.PaginationStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Debugf("%s: status update: %s -> %s", c.String(), c.current, status)
	c.setStatus(status)
}

// Close terminates the status stream.
func (c *Coordinator) Close(err error) {
	c.status.Release(err)
}

// Terminate terminates the status stream delivering the already published values.
func (c *Coordinator) Terminate(err error) {
	c.status.Terminate(err)
}

// load performs the underlying call: Idle -> Loading -> Idle.
func (c *Coordinator) load() error {
	c.mu.Lock()
	c.setStatus(model.LoadingStatus())
	c.mu.Unlock()

	endReached, err := c.loadMore(c.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// A failed load keeps the previous hasMore value
		logger.Warningf("%s: load more: %v", c.String(), err)
		c.setStatus(model.IdleStatus(c.hasMore))

		return fmt.Errorf("%s: %w: %w", c.String(), model.ErrPaginationFailure, err)
	}

	c.setStatus(model.IdleStatus(!endReached))

	return nil
}

// setStatus must be called under the lock: publishing under it keeps the stream order equal to the state order.
func (c *Coordinator) setStatus(status model.PaginationStatus) {
	c.current = status
	if !status.IsLoading() {
		c.hasMore = status.HasMoreToLoad
	}

	c.status.Publish(status)
}

// NewCoordinator creates a new Coordinator object in the Idle{hasMoreToLoad: true} state.
// ctx bounds the underlying calls lifetime.
func NewCoordinator(ctx context.Context, name string, loadMore LoadMoreFunc) (*Coordinator, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%s: nil", "ctx")
	}
	if loadMore == nil {
		return nil, fmt.Errorf("%s: nil", "loadMore")
	}

	c := &Coordinator{
		name:     name,
		loadMore: loadMore,
		ctx:      ctx,
		status:   broadcast.NewReplay[model.PaginationStatus](name + "/pagination"),
	}
	c.setStatus(model.IdleStatus(true))

	return c, nil
}
