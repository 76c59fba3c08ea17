package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/session"
)

var logger = loggo.GetLogger("listmirror.source")

const (
	ErrNotSubscribed     = errors.ConstError("collection is not subscribed")
	ErrAlreadySubscribed = errors.ConstError("collection is already subscribed")
)

type (
	// LoadMoreHandler serves "load more" requests of a collection.
	LoadMoreHandler func(ctx context.Context, id model.CollectionId) (endReached bool, err error)

	// MemorySource is an in-process RemoteSource: ops pushed for a collection are queued and
	// flushed to its feed as a single batch every batch period.
	MemorySource[W any] struct {
		// Config
		chSize      int
		batchPeriod time.Duration
		loadMore    LoadMoreHandler
		// State
		sync.Mutex
		feeds map[model.CollectionId]*memoryFeed[W]
	}

	memoryFeed[W any] struct {
		id     model.CollectionId
		source *MemorySource[W]
		tomb   tomb.Tomb
		//
		opsCh     chan []model.DiffOp[W]
		batchCh   chan []model.DiffOp[W]
		statusCh  chan model.PaginationStatus
		currentCh chan model.CurrentItem[W]
	}
)

// Subscribe implements session.RemoteSource interface.
func (s *MemorySource[W]) Subscribe(ctx context.Context, id model.CollectionId) (session.Feed[W], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.Lock()
	defer s.Unlock()

	if f, found := s.feeds[id]; found && f.tomb.Alive() {
		return nil, fmt.Errorf("%s: %w", id, ErrAlreadySubscribed)
	}

	f := &memoryFeed[W]{
		id:        id,
		source:    s,
		opsCh:     make(chan []model.DiffOp[W], s.chSize),
		batchCh:   make(chan []model.DiffOp[W]),
		statusCh:  make(chan model.PaginationStatus),
		currentCh: make(chan model.CurrentItem[W]),
	}
	s.feeds[id] = f
	f.tomb.Go(f.worker)

	logger.Debugf("MemorySource: %s subscribed", id)

	return f, nil
}

// Push queues the operations for the collection feed.
func (s *MemorySource[W]) Push(ctx context.Context, id model.CollectionId, ops ...model.DiffOp[W]) error {
	f, err := s.feed(id)
	if err != nil {
		return err
	}

	opsCopy := make([]model.DiffOp[W], len(ops))
	copy(opsCopy, ops)

	select {
	case f.opsCh <- opsCopy:
		return nil
	case <-f.tomb.Dying():
		return fmt.Errorf("%s: %w", id, ErrNotSubscribed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetPaginationStatus pushes an unsolicited pagination status to the collection feed.
func (s *MemorySource[W]) SetPaginationStatus(ctx context.Context, id model.CollectionId, status model.PaginationStatus) error {
	f, err := s.feed(id)
	if err != nil {
		return err
	}

	select {
	case f.statusCh <- status:
		return nil
	case <-f.tomb.Dying():
		return fmt.Errorf("%s: %w", id, ErrNotSubscribed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetCurrentItem pushes an unsolicited current item to the collection feed.
func (s *MemorySource[W]) SetCurrentItem(ctx context.Context, id model.CollectionId, item model.CurrentItem[W]) error {
	f, err := s.feed(id)
	if err != nil {
		return err
	}

	select {
	case f.currentCh <- item:
		return nil
	case <-f.tomb.Dying():
		return fmt.Errorf("%s: %w", id, ErrNotSubscribed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect ends the collection feed unexpectedly with the reason.
func (s *MemorySource[W]) Disconnect(id model.CollectionId, reason error) error {
	if reason == nil {
		return fmt.Errorf("%s: nil", "reason")
	}

	f, err := s.feed(id)
	if err != nil {
		return err
	}

	f.tomb.Kill(reason)
	_ = f.tomb.Wait()
	logger.Debugf("MemorySource: %s disconnected: %v", id, reason)

	return nil
}

// Subscribed checks if the collection has a live feed.
func (s *MemorySource[W]) Subscribed(id model.CollectionId) bool {
	_, err := s.feed(id)
	return err == nil
}

func (s *MemorySource[W]) feed(id model.CollectionId) (*memoryFeed[W], error) {
	s.Lock()
	defer s.Unlock()

	f, found := s.feeds[id]
	if !found || !f.tomb.Alive() {
		return nil, fmt.Errorf("%s: %w", id, ErrNotSubscribed)
	}

	return f, nil
}

func (s *MemorySource[W]) remove(f *memoryFeed[W]) {
	s.Lock()
	defer s.Unlock()

	if s.feeds[f.id] == f {
		delete(s.feeds, f.id)
	}
}

// Batches implements session.Feed interface.
func (f *memoryFeed[W]) Batches() <-chan []model.DiffOp[W] {
	return f.batchCh
}

// PaginationStatus implements session.Feed interface.
func (f *memoryFeed[W]) PaginationStatus() <-chan model.PaginationStatus {
	return f.statusCh
}

// CurrentItem implements session.Feed interface.
func (f *memoryFeed[W]) CurrentItem() <-chan model.CurrentItem[W] {
	return f.currentCh
}

// RequestMore implements session.Feed interface.
func (f *memoryFeed[W]) RequestMore(ctx context.Context) (bool, error) {
	if f.source.loadMore == nil {
		return true, nil
	}

	return f.source.loadMore(ctx, f.id)
}

// Err implements session.Feed interface.
func (f *memoryFeed[W]) Err() error {
	// The kill reason is set before Batches() is closed
	if err := f.tomb.Err(); err != tomb.ErrStillAlive {
		return err
	}

	return nil
}

// Close implements session.Feed interface.
func (f *memoryFeed[W]) Close() error {
	f.tomb.Kill(nil)
	_ = f.tomb.Wait()
	f.source.remove(f)

	return nil
}

// worker does the actual job.
func (f *memoryFeed[W]) worker() error {
	defer close(f.batchCh)

	// Batches ready to be delivered and operations waiting for the next period
	pending := make([][]model.DiffOp[W], 0)
	opsQueue := make([]model.DiffOp[W], 0)

	// A zero batch period forwards every push as its own batch
	var handleCh <-chan time.Time
	if f.source.batchPeriod > 0 {
		ticker := time.NewTicker(f.source.batchPeriod)
		defer ticker.Stop()
		handleCh = ticker.C
	}

	for {
		var (
			outCh chan []model.DiffOp[W]
			next  []model.DiffOp[W]
		)
		if len(pending) > 0 {
			outCh, next = f.batchCh, pending[0]
		}

		select {
		case <-f.tomb.Dying():
			// Feed stop
			return nil
		case ops := <-f.opsCh:
			if len(ops) == 0 {
				continue
			}
			if handleCh == nil {
				pending = append(pending, ops)
				continue
			}
			// Push operations to the queue
			opsQueue = append(opsQueue, ops...)
		case <-handleCh:
			// Start handling the queued operations
			if len(opsQueue) > 0 {
				pending = append(pending, opsQueue)
				opsQueue = make([]model.DiffOp[W], 0)
			}
		case outCh <- next:
			pending[0] = nil
			pending = pending[1:]
		}
	}
}

// NewMemorySource creates a new MemorySource object.
// A nil loadMore handler reports the end reached for every request.
func NewMemorySource[W any](chSize int, batchPeriod time.Duration, loadMore LoadMoreHandler) (*MemorySource[W], error) {
	if chSize < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "chSize")
	}
	if batchPeriod < 0 {
		return nil, fmt.Errorf("%s: must be GTE 0", "batchPeriod")
	}

	return &MemorySource[W]{
		chSize:      chSize,
		batchPeriod: batchPeriod,
		loadMore:    loadMore,
		feeds:       make(map[model.CollectionId]*memoryFeed[W]),
	}, nil
}
