package session

import (
	"github.com/itiky/list-mirror/broadcast"
	"github.com/itiky/list-mirror/model"
)

// CurrentItemTracker broadcasts a single optional value replaced wholesale.
// It starts with "no item" published.
type CurrentItemTracker[T any] struct {
	replay *broadcast.Replay[model.CurrentItem[T]]
}

// Set replaces the current item.
func (c *CurrentItemTracker[T]) Set(item model.CurrentItem[T]) {
	c.replay.Publish(item)
}

func (c *CurrentItemTracker[T]) Current() model.CurrentItem[T] {
	item, _ := c.replay.Latest()
	return item
}

// Subscribe returns the current item stream (replay = 1).
func (c *CurrentItemTracker[T]) Subscribe() *broadcast.Subscription[model.CurrentItem[T]] {
	return c.replay.Subscribe()
}

// NewCurrentItemTracker creates a new CurrentItemTracker object.
func NewCurrentItemTracker[T any](name string) *CurrentItemTracker[T] {
	c := &CurrentItemTracker[T]{
		replay: broadcast.NewReplay[model.CurrentItem[T]](name + "/current"),
	}
	c.replay.Publish(model.NoItem[T]())

	return c
}
