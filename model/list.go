package model

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// Snapshot is an immutable published version of a mirrored list.
	Snapshot[T any] struct {
		version int
		items   []T
	}

	// ListItem is a keyed list entry (space / room list entry).
	ListItem struct {
		Id    string       `yaml:"id"`
		Value StorageValue `yaml:"value"`
	}
)

// NewSnapshot creates a Snapshot taking ownership of items: the caller must not modify them afterwards.
func NewSnapshot[T any](version int, items []T) Snapshot[T] {
	return Snapshot[T]{
		version: version,
		items:   items,
	}
}

// Version returns the number of batches applied to build the snapshot.
func (s Snapshot[T]) Version() int {
	return s.version
}

func (s Snapshot[T]) Len() int {
	return len(s.items)
}

func (s Snapshot[T]) At(idx int) T {
	return s.items[idx]
}

// Items returns a copy of the snapshot data.
func (s Snapshot[T]) Items() []T {
	return slices.Clone(s.items)
}

// String implements the stringer interface.
func (s Snapshot[T]) String() string {
	str := strings.Builder{}
	for i, item := range s.items {
		str.WriteString(fmt.Sprintf("- [%d] %v\n", i, item))
	}

	return str.String()
}

// String implements the stringer interface.
func (i ListItem) String() string {
	return fmt.Sprintf("%d (%s)", i.Value, i.Id)
}

// ListItemKey is the key function for ListItem lists.
func ListItemKey(i ListItem) string {
	return i.Id
}

// ApplyDiffOps upgrades the input list to a new version using DiffOp objects.
// Operations are applied in order; an invalid operation is skipped and reported while the rest still apply.
// The input slice might be modified in place.
func ApplyDiffOps[T any](l []T, ops ...DiffOp[T]) ([]T, []error) {
	var rejected []error

	outOfRange := func(pos int, op DiffOp[T], idx int) {
		rejected = append(rejected, &OutOfRangeError{
			Position: pos,
			Type:     op.Type,
			Index:    idx,
			Length:   len(l),
		})
	}

	for i, op := range ops {
		switch op.Type {

		case AppendDiffType:
			l = append(l, op.Items...)

		case PushBackDiffType:
			l = append(l, op.Item)

		case PushFrontDiffType:
			l = slices.Insert(l, 0, op.Item)

		case InsertDiffType:
			// Inserting at len(l) is a valid append
			if op.Index < 0 || op.Index > len(l) {
				outOfRange(i, op, op.Index)
				continue
			}
			l = slices.Insert(l, op.Index, op.Item)

		case SetDiffType:
			if op.Index < 0 || op.Index >= len(l) {
				outOfRange(i, op, op.Index)
				continue
			}
			l[op.Index] = op.Item

		case RemoveDiffType:
			if op.Index < 0 || op.Index >= len(l) {
				outOfRange(i, op, op.Index)
				continue
			}
			l = slices.Delete(l, op.Index, op.Index+1)

		case PopBackDiffType:
			if len(l) == 0 {
				outOfRange(i, op, -1)
				continue
			}
			l = slices.Delete(l, len(l)-1, len(l))

		case PopFrontDiffType:
			if len(l) == 0 {
				outOfRange(i, op, 0)
				continue
			}
			l = slices.Delete(l, 0, 1)

		case TruncateDiffType:
			if op.Length < 0 {
				outOfRange(i, op, op.Length)
				continue
			}
			if op.Length < len(l) {
				l = slices.Delete(l, op.Length, len(l))
			}

		case ResetDiffType:
			l = slices.Clone(op.Items)

		case ClearDiffType:
			l = l[:0]

		default:
			rejected = append(rejected, fmt.Errorf("op[%d] (%s): %w", i, op.Type, ErrUnknownDiffType))

		}
	}

	return l, rejected
}
