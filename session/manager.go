package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/itiky/list-mirror/model"
)

// Manager owns the collection sessions of a single collection type.
// A session is created when a collection is first opened and lives until it is disposed.
type Manager[W, T any] struct {
	sync.Mutex
	source   RemoteSource[W]
	template Config[W, T]
	sessions map[model.CollectionId]*Session[W, T]
	// Collections being subscribed: closed once the attempt is done
	opening map[model.CollectionId]chan struct{}
}

// Open returns the collection session starting a new one if there is no live session for the id.
// A session whose feed has ended is disposed and replaced.
// Subscribing is done without the lock, so a slow source only delays opens of the same id.
func (m *Manager[W, T]) Open(ctx context.Context, id model.CollectionId) (*Session[W, T], error) {
	for {
		m.Lock()
		if waitCh, found := m.opening[id]; found {
			m.Unlock()

			select {
			case <-waitCh:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		existing := m.sessions[id]
		if existing == nil {
			break
		}
		if existing.Alive() {
			m.Unlock()
			return existing, nil
		}
		m.Unlock()

		// Dispose removes the session from the map
		existing.Dispose()
	}

	// Reserve the id
	doneCh := make(chan struct{})
	m.opening[id] = doneCh
	m.Unlock()

	s, err := m.open(ctx, id)

	m.Lock()
	delete(m.opening, id)
	if err == nil {
		m.sessions[id] = s
	}
	m.Unlock()
	close(doneCh)

	return s, err
}

func (m *Manager[W, T]) open(ctx context.Context, id model.CollectionId) (*Session[W, T], error) {
	cfg := m.template
	cfg.CollectionId = id

	s, err := Open(ctx, m.source, cfg)
	if err != nil {
		return nil, err
	}
	s.onDispose = func() {
		m.Lock()
		defer m.Unlock()

		if m.sessions[id] == s {
			delete(m.sessions, id)
		}
	}

	return s, nil
}

// Get returns an opened session.
func (m *Manager[W, T]) Get(id model.CollectionId) (*Session[W, T], bool) {
	m.Lock()
	defer m.Unlock()

	s, found := m.sessions[id]
	return s, found
}

// Dispose disposes the session with the handle (if it is still owned by the Manager).
// A stale handle of a replaced session never affects its replacement.
func (m *Manager[W, T]) Dispose(handle uuid.UUID) bool {
	m.Lock()
	var target *Session[W, T]
	for _, s := range m.sessions {
		if s.Handle() == handle {
			target = s
			break
		}
	}
	m.Unlock()

	if target == nil {
		return false
	}
	target.Dispose()

	return true
}

// Close disposes all the sessions.
func (m *Manager[W, T]) Close() {
	m.Lock()
	sessions := make([]*Session[W, T], 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}

// NewManager creates a new Manager object; template.CollectionId is ignored.
func NewManager[W, T any](source RemoteSource[W], template Config[W, T]) (*Manager[W, T], error) {
	if source == nil {
		return nil, fmt.Errorf("%s: nil", "source")
	}

	template.CollectionId = "template"
	if err := template.Validate(); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}

	return &Manager[W, T]{
		source:   source,
		template: template,
		sessions: make(map[model.CollectionId]*Session[W, T]),
		opening:  make(map[model.CollectionId]chan struct{}),
	}, nil
}
