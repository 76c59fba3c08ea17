package session

import (
	"context"

	"github.com/itiky/list-mirror/model"
)

type (
	// RemoteSource produces diff streams for collections (Remote Diff Source).
	RemoteSource[W any] interface {
		// Subscribe starts a feed for the collection; the source is expected to seed it with a Reset.
		Subscribe(ctx context.Context, id model.CollectionId) (Feed[W], error)
	}

	// Feed is a live subscription to a single collection.
	Feed[W any] interface {
		// Batches delivers diff batches in order; closed when the feed ends.
		Batches() <-chan []model.DiffOp[W]
		// PaginationStatus delivers unsolicited status updates; might be nil.
		PaginationStatus() <-chan model.PaginationStatus
		// CurrentItem delivers unsolicited current item updates; might be nil.
		CurrentItem() <-chan model.CurrentItem[W]
		// RequestMore issues a single "load more" call.
		RequestMore(ctx context.Context) (endReached bool, err error)
		// Err returns the reason the feed ended (nil if closed by Close).
		Err() error
		// Close stops the feed releasing its resources.
		Close() error
	}
)
