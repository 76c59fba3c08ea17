package model

import (
	"fmt"

	"github.com/juju/errors"
)

type (
	// CollectionId identifies a remotely maintained ordered collection (space list, timeline, filter list).
	CollectionId string

	StorageValue int32
)

type DiffType string

const (
	AppendDiffType    DiffType = "append"
	PushBackDiffType  DiffType = "pushBack"
	PushFrontDiffType DiffType = "pushFront"
	InsertDiffType    DiffType = "insert"
	SetDiffType       DiffType = "set"
	RemoveDiffType    DiffType = "remove"
	PopBackDiffType   DiffType = "popBack"
	PopFrontDiffType  DiffType = "popFront"
	TruncateDiffType  DiffType = "truncate"
	ResetDiffType     DiffType = "reset"
	ClearDiffType     DiffType = "clear"
)

const (
	// ErrOutOfRangeDiff is wrapped by OutOfRangeError.
	ErrOutOfRangeDiff = errors.ConstError("out of range diff")
	// ErrDuplicateKey marks a batch which produced duplicated keys.
	ErrDuplicateKey = errors.ConstError("duplicate key anomaly")
	// ErrPaginationFailure wraps a failed "load more" call.
	ErrPaginationFailure = errors.ConstError("pagination failure")
	// ErrSourceDisconnected is the terminal error of a collection whose diff source ended unexpectedly.
	ErrSourceDisconnected = errors.ConstError("source disconnected")
	// ErrSessionDisposed is the terminal error of a disposed collection session.
	ErrSessionDisposed = errors.ConstError("session disposed")
	ErrUnknownDiffType = errors.ConstError("unknown diff type")
)

// OutOfRangeError describes a rejected index-based operation.
type OutOfRangeError struct {
	// Operation position within the batch
	Position int
	Type     DiffType
	Index    int
	// List length at the moment the operation was applied
	Length int
}

// Error implements the error interface.
func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("op[%d] (%s): index %d: out of range for length %d", e.Position, e.Type, e.Index, e.Length)
}

// Unwrap makes errors.Is(err, ErrOutOfRangeDiff) hold.
func (e *OutOfRangeError) Unwrap() error {
	return ErrOutOfRangeDiff
}
