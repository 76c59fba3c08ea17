package session_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/itiky/list-mirror/broadcast"
	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/service/source"
	"github.com/itiky/list-mirror/session"
)

const testTimeout = 5 * time.Second

type (
	// wireItem is the source-level representation of a model.ListItem.
	wireItem struct {
		RoomId string
		Order  int
	}

	telemetryMock struct {
		sync.Mutex
		reports []string
	}
)

func (m *telemetryMock) ReportAnomaly(description string) {
	m.Lock()
	defer m.Unlock()

	m.reports = append(m.reports, description)
}

func (m *telemetryMock) Reports() []string {
	m.Lock()
	defer m.Unlock()

	return append([]string{}, m.reports...)
}

func mapWireItem(w wireItem) model.ListItem {
	return model.ListItem{Id: w.RoomId, Value: model.StorageValue(w.Order)}
}

func wire(ids ...string) []wireItem {
	items := make([]wireItem, 0, len(ids))
	for i, id := range ids {
		items = append(items, wireItem{RoomId: id, Order: i})
	}

	return items
}

func ids(snapshot model.Snapshot[model.ListItem]) []string {
	res := make([]string, 0, snapshot.Len())
	for _, item := range snapshot.Items() {
		res = append(res, item.Id)
	}

	return res
}

func receive[T any](t *testing.T, sub *broadcast.Subscription[T]) T {
	t.Helper()

	select {
	case v, ok := <-sub.Changes():
		require.True(t, ok, "stream closed: %v", sub.Err())
		return v
	case <-time.After(testTimeout):
		t.Fatal("receive timeout")
	}

	var zero T
	return zero
}

func requireClosed[T any](t *testing.T, sub *broadcast.Subscription[T]) {
	t.Helper()

	for {
		select {
		case _, ok := <-sub.Changes():
			if !ok {
				return
			}
		case <-time.After(testTimeout):
			t.Fatal("close timeout")
		}
	}
}

func newTestSession(t *testing.T, loadMore source.LoadMoreHandler) (*source.MemorySource[wireItem], *session.Session[wireItem, model.ListItem], *telemetryMock) {
	src, err := source.NewMemorySource[wireItem](10, 0, loadMore)
	require.NoError(t, err)

	telemetry := &telemetryMock{}
	s, err := session.Open[wireItem, model.ListItem](context.Background(), src, session.Config[wireItem, model.ListItem]{
		CollectionId: "spaces",
		Mapper:       mapWireItem,
		Key:          model.ListItemKey,
		Telemetry:    telemetry,
	})
	require.NoError(t, err)

	return src, s, telemetry
}

func Test_Session_Batches(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, s, telemetry := newTestSession(t, nil)
	defer s.Dispose()

	sub := s.Snapshots()
	defer sub.Close()

	// seed
	require.NoError(t, src.Push(ctx, "spaces", model.Reset(wire("a", "b", "c")...)))
	snapshot := receive(t, sub)
	require.Equal(t, []string{"a", "b", "c"}, ids(snapshot))
	require.Equal(t, 1, snapshot.Version())

	// out of range op doesn't break the batch
	require.NoError(t, src.Push(ctx, "spaces", model.Remove[wireItem](5), model.Remove[wireItem](1)))
	require.Equal(t, []string{"a", "c"}, ids(receive(t, sub)))

	// duplicates are healed and reported
	require.NoError(t, src.Push(ctx, "spaces", model.Append(wire("d", "d")...)))
	require.Equal(t, []string{"a", "c", "d"}, ids(receive(t, sub)))
	require.Eventually(t, func() bool { return len(telemetry.Reports()) == 1 }, testTimeout, 10*time.Millisecond)

	require.Equal(t, []string{"a", "c", "d"}, ids(s.Snapshot()))
}

func Test_Session_LateSubscriberReplay(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, s, _ := newTestSession(t, nil)
	defer s.Dispose()

	first := s.Snapshots()
	require.NoError(t, src.Push(ctx, "spaces", model.Append(wire("a", "b", "c")...)))
	require.Equal(t, []string{"a", "b", "c"}, ids(receive(t, first)))
	first.Close()

	// no new batch is needed to get the current state
	late := s.Snapshots()
	require.Equal(t, []string{"a", "b", "c"}, ids(receive(t, late)))
	late.Close()
}

func Test_Session_PaginationSingleFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	_, s, _ := newTestSession(t, func(ctx context.Context, id model.CollectionId) (bool, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return true, nil
	})
	defer s.Dispose()

	statusSub := s.PaginationStatus()
	defer statusSub.Close()
	require.Equal(t, model.IdleStatus(true), receive(t, statusSub))

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = s.RequestMore(context.Background())
	}()
	<-started
	require.Equal(t, model.LoadingStatus(), receive(t, statusSub))

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = s.RequestMore(context.Background())
	}()

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
	require.NoError(t, results[0])
	require.NoError(t, results[1])
	require.Equal(t, model.IdleStatus(false), receive(t, statusSub))
}

func Test_Session_UnsolicitedUpdates(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, s, _ := newTestSession(t, nil)
	defer s.Dispose()

	statusSub := s.PaginationStatus()
	defer statusSub.Close()
	currentSub := s.CurrentItem()
	defer currentSub.Close()

	require.Equal(t, model.IdleStatus(true), receive(t, statusSub))
	require.Equal(t, model.NoItem[model.ListItem](), receive(t, currentSub))

	require.NoError(t, src.SetPaginationStatus(ctx, "spaces", model.IdleStatus(false)))
	require.Equal(t, model.IdleStatus(false), receive(t, statusSub))

	require.NoError(t, src.SetCurrentItem(ctx, "spaces", model.SomeItem(wireItem{RoomId: "r1", Order: 7})))
	require.Equal(t, model.SomeItem(model.ListItem{Id: "r1", Value: 7}), receive(t, currentSub))

	require.NoError(t, src.SetCurrentItem(ctx, "spaces", model.NoItem[wireItem]()))
	require.Equal(t, model.NoItem[model.ListItem](), receive(t, currentSub))
}

func Test_Session_PaginationFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	errNetwork := errors.New("timeout")
	_, s, _ := newTestSession(t, func(ctx context.Context, id model.CollectionId) (bool, error) {
		return true, errNetwork
	})
	defer s.Dispose()

	err := s.RequestMore(context.Background())
	require.ErrorIs(t, err, model.ErrPaginationFailure)
	require.ErrorIs(t, err, errNetwork)

	statusSub := s.PaginationStatus()
	defer statusSub.Close()
	require.Equal(t, model.IdleStatus(true), receive(t, statusSub))
}

func Test_Session_SourceDisconnected(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	errNetwork := errors.New("connection reset")
	src, s, _ := newTestSession(t, nil)
	defer s.Dispose()

	sub := s.Snapshots()
	require.NoError(t, src.Push(ctx, "spaces", model.Reset(wire("a")...)))
	require.Equal(t, []string{"a"}, ids(receive(t, sub)))

	require.NoError(t, src.Disconnect("spaces", errNetwork))
	requireClosed(t, sub)
	require.ErrorIs(t, sub.Err(), model.ErrSourceDisconnected)
	require.ErrorIs(t, sub.Err(), errNetwork)

	require.Eventually(t, func() bool { return !s.Alive() }, testTimeout, 10*time.Millisecond)
	require.ErrorIs(t, s.RequestMore(ctx), model.ErrSourceDisconnected)

	// the last snapshot is still replayed before the terminal event
	late := s.Snapshots()
	require.Equal(t, []string{"a"}, ids(receive(t, late)))
	requireClosed(t, late)
	require.ErrorIs(t, late.Err(), model.ErrSourceDisconnected)
}

func Test_Session_DisposeIdempotence(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, s, _ := newTestSession(t, nil)

	sub := s.Snapshots()
	require.NoError(t, src.Push(ctx, "spaces", model.Reset(wire("a", "b")...)))
	receive(t, sub)

	s.Dispose()
	s.Dispose()

	requireClosed(t, sub)
	require.ErrorIs(t, sub.Err(), model.ErrSessionDisposed)
	require.False(t, src.Subscribed("spaces"))
	require.ErrorIs(t, s.RequestMore(ctx), model.ErrSessionDisposed)

	after := s.Snapshots()
	requireClosed(t, after)
	require.ErrorIs(t, after.Err(), model.ErrSessionDisposed)
}

// Test checks independent collections are applied concurrently without affecting each other.
func Test_Session_IndependentCollections(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, err := source.NewMemorySource[wireItem](10, 0, nil)
	require.NoError(t, err)

	const collectionsNum, batchesNum = 5, 50
	var wg sync.WaitGroup
	for i := 0; i < collectionsNum; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			id := model.CollectionId("collection-" + strconv.Itoa(idx))
			s, err := session.Open[wireItem, model.ListItem](ctx, src, session.Config[wireItem, model.ListItem]{
				CollectionId: id,
				Mapper:       mapWireItem,
				Key:          model.ListItemKey,
			})
			require.NoError(t, err)
			defer s.Dispose()

			sub := s.Snapshots()
			defer sub.Close()

			for b := 0; b < batchesNum; b++ {
				require.NoError(t, src.Push(ctx, id, model.PushBack(wireItem{RoomId: string(id) + "/" + strconv.Itoa(b)})))
			}

			var snapshot model.Snapshot[model.ListItem]
			for snapshot.Version() < batchesNum {
				snapshot = receive(t, sub)
			}
			require.Equal(t, batchesNum, snapshot.Len())
			for b, item := range snapshot.Items() {
				require.Equal(t, string(id)+"/"+strconv.Itoa(b), item.Id)
			}
		}(i)
	}
	wg.Wait()
}

func Test_Open_Validation(t *testing.T) {
	src, err := source.NewMemorySource[wireItem](0, 0, nil)
	require.NoError(t, err)

	_, err = session.Open[wireItem, model.ListItem](context.Background(), src, session.Config[wireItem, model.ListItem]{
		CollectionId: "spaces",
	})
	require.Error(t, err)

	_, err = session.Open[wireItem, model.ListItem](context.Background(), nil, session.Config[wireItem, model.ListItem]{
		CollectionId: "spaces",
		Mapper:       mapWireItem,
	})
	require.Error(t, err)
}

type blockingTelemetry struct {
	entered chan string
	release chan struct{}
}

func (b *blockingTelemetry) ReportAnomaly(description string) {
	b.entered <- description
	<-b.release
}

// Test checks a stalled telemetry sink doesn't stall snapshot readers.
func Test_Session_SnapshotWithBlockedTelemetry(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, err := source.NewMemorySource[wireItem](10, 0, nil)
	require.NoError(t, err)

	telemetry := &blockingTelemetry{
		entered: make(chan string, 1),
		release: make(chan struct{}),
	}
	s, err := session.Open[wireItem, model.ListItem](ctx, src, session.Config[wireItem, model.ListItem]{
		CollectionId: "spaces",
		Mapper:       mapWireItem,
		Key:          model.ListItemKey,
		Telemetry:    telemetry,
	})
	require.NoError(t, err)
	defer s.Dispose()

	require.Zero(t, s.Snapshot().Len())

	require.NoError(t, src.Push(ctx, "spaces", model.Append(wire("a", "a")...)))
	select {
	case description := <-telemetry.entered:
		require.Contains(t, description, "[a]")
	case <-time.After(testTimeout):
		t.Fatal("anomaly not reported")
	}

	// The sink is still blocked
	snapshotCh := make(chan model.Snapshot[model.ListItem], 1)
	go func() {
		snapshotCh <- s.Snapshot()
	}()
	select {
	case snapshot := <-snapshotCh:
		require.Equal(t, []string{"a"}, ids(snapshot))
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Snapshot blocked by the telemetry sink")
	}

	sub := s.Snapshots()
	require.Equal(t, []string{"a"}, ids(receive(t, sub)))
	sub.Close()

	close(telemetry.release)
}

// Test checks an unread subscription created after a disconnect is released by Dispose.
func Test_Session_DisposeAfterDisconnectReleasesLateSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()

	src, s, _ := newTestSession(t, nil)

	sub := s.Snapshots()
	require.NoError(t, src.Push(ctx, "spaces", model.Reset(wire("a")...)))
	require.Equal(t, []string{"a"}, ids(receive(t, sub)))

	require.NoError(t, src.Disconnect("spaces", errors.New("connection reset")))
	requireClosed(t, sub)

	// Never read
	_ = s.Snapshots()
	_ = s.PaginationStatus()
	_ = s.CurrentItem()

	s.Dispose()
}
