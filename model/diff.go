package model

import (
	"fmt"
	"strings"
)

type (
	// DiffOp is a single structural mutation over an ordered list of T.
	// Only the fields relevant to Type are set.
	DiffOp[T any] struct {
		Type   DiffType `yaml:"type"`
		Index  int      `yaml:"index,omitempty"`
		Length int      `yaml:"length,omitempty"`
		Item   T        `yaml:"item,omitempty"`
		Items  []T      `yaml:"items,omitempty"`
	}
)

func Append[T any](items ...T) DiffOp[T] {
	return DiffOp[T]{Type: AppendDiffType, Items: items}
}

func PushBack[T any](item T) DiffOp[T] {
	return DiffOp[T]{Type: PushBackDiffType, Item: item}
}

func PushFront[T any](item T) DiffOp[T] {
	return DiffOp[T]{Type: PushFrontDiffType, Item: item}
}

func Insert[T any](index int, item T) DiffOp[T] {
	return DiffOp[T]{Type: InsertDiffType, Index: index, Item: item}
}

func Set[T any](index int, item T) DiffOp[T] {
	return DiffOp[T]{Type: SetDiffType, Index: index, Item: item}
}

func Remove[T any](index int) DiffOp[T] {
	return DiffOp[T]{Type: RemoveDiffType, Index: index}
}

func PopBack[T any]() DiffOp[T] {
	return DiffOp[T]{Type: PopBackDiffType}
}

func PopFront[T any]() DiffOp[T] {
	return DiffOp[T]{Type: PopFrontDiffType}
}

func Truncate[T any](length int) DiffOp[T] {
	return DiffOp[T]{Type: TruncateDiffType, Length: length}
}

func Reset[T any](items ...T) DiffOp[T] {
	return DiffOp[T]{Type: ResetDiffType, Items: items}
}

func Clear[T any]() DiffOp[T] {
	return DiffOp[T]{Type: ClearDiffType}
}

// String implements the stringer interface (item payloads are omitted).
func (op DiffOp[T]) String() string {
	switch op.Type {
	case AppendDiffType, ResetDiffType:
		return fmt.Sprintf("%s(%d items)", op.Type, len(op.Items))
	case InsertDiffType, SetDiffType, RemoveDiffType:
		return fmt.Sprintf("%s(%d)", op.Type, op.Index)
	case TruncateDiffType:
		return fmt.Sprintf("%s(%d)", op.Type, op.Length)
	}

	return string(op.Type)
}

// DescribeBatch builds a human-readable batch description used by diagnostics.
func DescribeBatch[T any](ops []DiffOp[T]) string {
	str := strings.Builder{}
	str.WriteString("[")
	for i, op := range ops {
		if i > 0 {
			str.WriteString(", ")
		}
		str.WriteString(op.String())
	}
	str.WriteString("]")

	return str.String()
}

// MapDiffOp converts a source-level operation into an engine-level one using the item mapper.
func MapDiffOp[W, T any](op DiffOp[W], mapper func(W) T) DiffOp[T] {
	mapped := DiffOp[T]{
		Type:   op.Type,
		Index:  op.Index,
		Length: op.Length,
	}

	switch op.Type {
	case AppendDiffType, ResetDiffType:
		mapped.Items = make([]T, 0, len(op.Items))
		for _, item := range op.Items {
			mapped.Items = append(mapped.Items, mapper(item))
		}
	case PushBackDiffType, PushFrontDiffType, InsertDiffType, SetDiffType:
		mapped.Item = mapper(op.Item)
	}

	return mapped
}
