package storage

import (
	"fmt"
	"strings"

	"github.com/itiky/list-mirror/model"
)

type (
	// AnomalyReporter is a fire-and-forget telemetry sink.
	AnomalyReporter interface {
		ReportAnomaly(description string)
	}

	// Checker validates key uniqueness after each batch and self-heals the list (Integrity Checker).
	Checker[T any] struct {
		name string
		key  func(T) string
	}
)

// Check returns the distinct-by-key view of the list.
// If duplicates were found, a single anomaly (wrapping model.ErrDuplicateKey) describes the batch.
// Reporting the anomaly is up to the caller, so a slow sink never runs inside the store critical section.
func (c *Checker[T]) Check(list []T, ops []model.DiffOp[T]) ([]T, []string, error) {
	distinct, duplicates := Dedupe(list, c.key)
	if len(duplicates) == 0 {
		return list, nil, nil
	}

	anomaly := fmt.Errorf("%s: keys [%s] after batch %s: %w",
		c.name, strings.Join(duplicates, ", "), model.DescribeBatch(ops), model.ErrDuplicateKey,
	)
	logger.Warningf("%v", anomaly)

	return distinct, duplicates, anomaly
}

// Dedupe keeps the first occurrence of every key.
// Returns the input slice untouched if there are no duplicates, otherwise a new slice and the duplicated keys
// (each key once, in order of first occurrence).
func Dedupe[T any](list []T, key func(T) string) ([]T, []string) {
	seen := make(map[string]int, len(list))
	for _, item := range list {
		seen[key(item)]++
	}
	if len(seen) == len(list) {
		return list, nil
	}

	distinct := make([]T, 0, len(seen))
	duplicates := make([]string, 0)
	for _, item := range list {
		k := key(item)
		cnt := seen[k]
		if cnt == 0 {
			continue
		}
		if cnt > 1 {
			duplicates = append(duplicates, k)
		}

		distinct = append(distinct, item)
		seen[k] = 0
	}

	return distinct, duplicates
}

// NewChecker creates a new Checker object.
func NewChecker[T any](name string, key func(T) string) (*Checker[T], error) {
	if key == nil {
		return nil, fmt.Errorf("%s: nil", "key")
	}

	return &Checker[T]{
		name: name,
		key:  key,
	}, nil
}
