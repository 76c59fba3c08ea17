package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"gopkg.in/tomb.v2"

	"github.com/itiky/list-mirror/broadcast"
	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/pagination"
	"github.com/itiky/list-mirror/storage"
)

var logger = loggo.GetLogger("listmirror.session")

// Session mirrors a single remote collection (Collection Session).
// A single background task applies the feed batches to the store, so batches of one collection are never
// applied concurrently; readers only see immutable snapshots.
type Session[W, T any] struct {
	// Config
	cfg    Config[W, T]
	handle uuid.UUID
	// State
	feed       Feed[W]
	store      *storage.Store[T]
	snapshots  *broadcast.Replay[model.Snapshot[T]]
	current    *CurrentItemTracker[T]
	pagination *pagination.Coordinator
	//
	tomb        tomb.Tomb
	disposeOnce sync.Once
	onDispose   func()
}

// String implements the stringer interface.
func (s *Session[W, T]) String() string {
	return fmt.Sprintf("Session (%s)", s.cfg.CollectionId)
}

// Id returns the mirrored collection id.
func (s *Session[W, T]) Id() model.CollectionId {
	return s.cfg.CollectionId
}

// Handle returns the unique session handle.
func (s *Session[W, T]) Handle() uuid.UUID {
	return s.handle
}

// Snapshot returns the latest published snapshot; never waits on the writer.
// An empty snapshot is returned before the first batch and after dispose.
func (s *Session[W, T]) Snapshot() model.Snapshot[T] {
	snapshot, _ := s.snapshots.Latest()
	return snapshot
}

// Snapshots returns the snapshot stream (replay = 1).
// The stream is closed with model.ErrSourceDisconnected on feed failure and model.ErrSessionDisposed on dispose.
func (s *Session[W, T]) Snapshots() *broadcast.Subscription[model.Snapshot[T]] {
	return s.snapshots.Subscribe()
}

// PaginationStatus returns the pagination status stream (replay = 1).
func (s *Session[W, T]) PaginationStatus() *broadcast.Subscription[model.PaginationStatus] {
	return s.pagination.Subscribe()
}

// CurrentItem returns the current item stream (replay = 1).
func (s *Session[W, T]) CurrentItem() *broadcast.Subscription[model.CurrentItem[T]] {
	return s.current.Subscribe()
}

// RequestMore asks the source for the next page; concurrent requests share a single underlying call.
func (s *Session[W, T]) RequestMore(ctx context.Context) error {
	if !s.tomb.Alive() {
		if err := s.tomb.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", s.String(), model.ErrSessionDisposed)
	}

	return s.pagination.RequestMore(ctx)
}

// Alive returns false once the session was disposed or its feed ended.
func (s *Session[W, T]) Alive() bool {
	return s.tomb.Alive()
}

// Dispose stops the background task, closes the feed and releases all the subscribers.
// Safe to call multiple times.
func (s *Session[W, T]) Dispose() {
	s.disposeOnce.Do(func() {
		s.tomb.Kill(nil)
		if err := s.tomb.Wait(); err != nil {
			logger.Debugf("%s: stopped with: %v", s.String(), err)
		}

		if err := s.feed.Close(); err != nil {
			logger.Warningf("%s: closing feed: %v", s.String(), err)
		}

		errDisposed := fmt.Errorf("%s: %w", s.String(), model.ErrSessionDisposed)
		s.snapshots.Release(errDisposed)
		s.current.replay.Release(errDisposed)
		s.pagination.Close(errDisposed)

		if s.onDispose != nil {
			s.onDispose()
		}
		logger.Infof("%s: disposed", s.String())
	})
}

// worker does the actual job.
func (s *Session[W, T]) worker() error {
	logger.Infof("%s: start (%s)", s.String(), s.handle)

	batchCh := s.feed.Batches()
	statusCh := s.feed.PaginationStatus()
	currentCh := s.feed.CurrentItem()
	for {
		select {
		case <-s.tomb.Dying():
			// Session dispose
			logger.Infof("%s: stop", s.String())
			return nil
		case ops, ok := <-batchCh:
			if !ok {
				return s.disconnected()
			}
			// Apply the batch and publish
			s.applyBatch(ops)
		case status, ok := <-statusCh:
			if !ok {
				statusCh = nil
				continue
			}
			s.pagination.Update(status)
		case item, ok := <-currentCh:
			if !ok {
				currentCh = nil
				continue
			}
			s.current.Set(model.MapCurrentItem(item, s.cfg.Mapper))
		}
	}
}

// applyBatch applies a single batch to the store; the snapshot is published only once the whole batch is done.
func (s *Session[W, T]) applyBatch(wireOps []model.DiffOp[W]) {
	if len(wireOps) == 0 {
		return
	}

	start := time.Now()
	ops := make([]model.DiffOp[T], 0, len(wireOps))
	for _, op := range wireOps {
		ops = append(ops, model.MapDiffOp(op, s.cfg.Mapper))
	}

	res := s.store.ApplyBatch(ops...)
	s.snapshots.Publish(res.Snapshot)
	if res.Anomaly != nil {
		s.cfg.Telemetry.ReportAnomaly(res.Anomaly.Error())
	}

	dur := time.Since(start)
	s.cfg.Observer.BatchApplied(s.cfg.CollectionId, len(ops), len(res.Rejected), dur)
	logger.Tracef("%s: [%v] snapshot updated to v%d: %d ops (%d rejected)",
		s.String(), dur, res.Snapshot.Version(), len(ops), len(res.Rejected),
	)
}

// disconnected terminates all the streams with a disconnection error.
func (s *Session[W, T]) disconnected() error {
	err := fmt.Errorf("%s: %w", s.String(), model.ErrSourceDisconnected)
	if feedErr := s.feed.Err(); feedErr != nil {
		err = fmt.Errorf("%s: %w: %w", s.String(), model.ErrSourceDisconnected, feedErr)
	}
	logger.Errorf("%v", err)

	s.snapshots.Terminate(err)
	s.current.replay.Terminate(err)
	s.pagination.Terminate(err)

	return err
}

// Open subscribes to the collection feed and starts a new Session.
func Open[W, T any](ctx context.Context, source RemoteSource[W], cfg Config[W, T]) (*Session[W, T], error) {
	if source == nil {
		return nil, fmt.Errorf("%s: nil", "source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.defaults()

	s := &Session[W, T]{
		cfg:       cfg,
		handle:    uuid.New(),
		snapshots: broadcast.NewReplay[model.Snapshot[T]](string(cfg.CollectionId) + "/snapshots"),
		current:   NewCurrentItemTracker[T](string(cfg.CollectionId)),
	}

	var checker *storage.Checker[T]
	if cfg.Key != nil {
		var err error
		if checker, err = storage.NewChecker(string(cfg.CollectionId), cfg.Key); err != nil {
			return nil, fmt.Errorf("storage.NewChecker: %w", err)
		}
	}
	s.store = storage.NewStore(string(cfg.CollectionId), checker)

	feed, err := source.Subscribe(ctx, cfg.CollectionId)
	if err != nil {
		return nil, errors.Annotatef(err, "subscribing to %s", cfg.CollectionId)
	}
	s.feed = feed

	coordinator, err := pagination.NewCoordinator(s.tomb.Context(nil), string(cfg.CollectionId), feed.RequestMore)
	if err != nil {
		_ = feed.Close()
		return nil, fmt.Errorf("pagination.NewCoordinator: %w", err)
	}
	s.pagination = coordinator

	s.tomb.Go(s.worker)

	return s, nil
}
