package storage

import (
	"fmt"
	"slices"
	"sync"

	"github.com/juju/loggo"

	"github.com/itiky/list-mirror/model"
)

var logger = loggo.GetLogger("listmirror.storage")

type (
	// Store keeps the mirrored list of a single collection (Mirror Store).
	// Batches are applied under a single critical section; published lists are never mutated afterwards.
	Store[T any] struct {
		sync.Mutex
		name    string
		list    []T
		version int
		checker *Checker[T]
	}

	// BatchResult is the outcome of a single Store.ApplyBatch call.
	BatchResult[T any] struct {
		// New snapshot (the distinct view for keyed lists)
		Snapshot model.Snapshot[T]
		// Operations skipped as invalid
		Rejected []error
		// Keys removed by the integrity check
		Duplicates []string
		// Duplicate keys anomaly (if any) to be reported to the telemetry sink
		Anomaly error
	}
)

// String implements stringer interface.
func (s *Store[T]) String() string {
	return fmt.Sprintf("Store (%s)", s.name)
}

// Snapshot returns the latest list version.
func (s *Store[T]) Snapshot() model.Snapshot[T] {
	s.Lock()
	defer s.Unlock()

	return model.NewSnapshot(s.version, s.list)
}

// ApplyBatch applies operations strictly in order and returns the resulting snapshot.
// An invalid operation is logged and skipped, the rest of the batch still applies.
// An empty batch doesn't produce a new version.
func (s *Store[T]) ApplyBatch(ops ...model.DiffOp[T]) BatchResult[T] {
	s.Lock()
	defer s.Unlock()

	if len(ops) == 0 {
		return BatchResult[T]{Snapshot: model.NewSnapshot(s.version, s.list)}
	}

	// The previous list is shared with already published snapshots, so work on a copy
	list := slices.Clone(s.list)
	list, rejected := model.ApplyDiffOps(list, ops...)
	for _, err := range rejected {
		logger.Warningf("%s: v%d: operation skipped: %v", s.String(), s.version+1, err)
	}

	var (
		duplicates []string
		anomaly    error
	)
	if s.checker != nil {
		list, duplicates, anomaly = s.checker.Check(list, ops)
	}

	s.list = list
	s.version++

	return BatchResult[T]{
		Snapshot:   model.NewSnapshot(s.version, list),
		Rejected:   rejected,
		Duplicates: duplicates,
		Anomaly:    anomaly,
	}
}

// NewStore creates a new empty Store object.
// A nil checker disables the integrity check (unkeyed lists).
func NewStore[T any](name string, checker *Checker[T]) *Store[T] {
	return &Store[T]{
		name:    name,
		checker: checker,
	}
}
