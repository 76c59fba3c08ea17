package model

import "fmt"

type PaginationState string

const (
	IdlePaginationState    PaginationState = "idle"
	LoadingPaginationState PaginationState = "loading"
)

type (
	// PaginationStatus is either Idle{HasMoreToLoad} or Loading.
	PaginationStatus struct {
		State PaginationState
		// Only meaningful for the idle state
		HasMoreToLoad bool
	}

	// CurrentItem is an optional single value replaced wholesale.
	CurrentItem[T any] struct {
		Item    T
		Present bool
	}
)

func IdleStatus(hasMoreToLoad bool) PaginationStatus {
	return PaginationStatus{
		State:         IdlePaginationState,
		HasMoreToLoad: hasMoreToLoad,
	}
}

func LoadingStatus() PaginationStatus {
	return PaginationStatus{State: LoadingPaginationState}
}

func (s PaginationStatus) IsLoading() bool {
	return s.State == LoadingPaginationState
}

// String implements the stringer interface.
func (s PaginationStatus) String() string {
	if s.IsLoading() {
		return "Loading"
	}

	return fmt.Sprintf("Idle{hasMoreToLoad: %t}", s.HasMoreToLoad)
}

func SomeItem[T any](item T) CurrentItem[T] {
	return CurrentItem[T]{Item: item, Present: true}
}

func NoItem[T any]() CurrentItem[T] {
	return CurrentItem[T]{}
}

// MapCurrentItem converts a source-level current item using the item mapper.
func MapCurrentItem[W, T any](c CurrentItem[W], mapper func(W) T) CurrentItem[T] {
	if !c.Present {
		return NoItem[T]()
	}

	return SomeItem(mapper(c.Item))
}
