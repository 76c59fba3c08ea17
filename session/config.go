package session

import (
	"fmt"
	"time"

	"github.com/itiky/list-mirror/model"
	"github.com/itiky/list-mirror/storage"
)

type (
	// Config tunes a collection Session.
	Config[W, T any] struct {
		// Collection to mirror
		CollectionId model.CollectionId
		// Item mapper: wire-level item -> engine item (required)
		Mapper func(W) T
		// Item key; nil disables the integrity check
		Key func(T) string
		// Duplicate keys anomalies sink. Default: drop
		Telemetry storage.AnomalyReporter
		// Batch stats sink. Default: drop
		Observer BatchObserver
	}

	// BatchObserver receives per-batch stats.
	BatchObserver interface {
		BatchApplied(id model.CollectionId, opsCount, rejectedCount int, dur time.Duration)
	}

	nopObserver struct{}

	nopTelemetry struct{}
)

// BatchApplied implements BatchObserver interface.
func (nopObserver) BatchApplied(model.CollectionId, int, int, time.Duration) {}

// ReportAnomaly implements storage.AnomalyReporter interface.
func (nopTelemetry) ReportAnomaly(string) {}

// Identity is the Mapper for sources which already produce engine items.
func Identity[T any](v T) T {
	return v
}

// Validate checks the config.
func (c Config[W, T]) Validate() error {
	if c.CollectionId == "" {
		return fmt.Errorf("%s: empty", "CollectionId")
	}
	if c.Mapper == nil {
		return fmt.Errorf("%s: nil", "Mapper")
	}

	return nil
}

func (c *Config[W, T]) defaults() {
	if c.Telemetry == nil {
		c.Telemetry = nopTelemetry{}
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
}
