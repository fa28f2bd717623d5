// Package presence publishes the current track to presence backends.
package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Publisher is the interface implemented by all presence backends.
type Publisher interface {
	// ID returns a unique identifier for this publisher instance.
	ID() string
	// Name returns a human-readable name for the publisher.
	Name() string
	// IsEnabled returns true if this publisher is configured and ready.
	IsEnabled() bool
	// Publish sets the presence to status, or clears it when status is nil.
	Publish(ctx context.Context, status *Status) error
}

// Manager coordinates multiple publishers, fanning out each status to all
// enabled backends.
type Manager struct {
	mu         sync.RWMutex
	publishers []Publisher
	wg         sync.WaitGroup
	logger     *slog.Logger

	lastMu    sync.RWMutex
	last      *Status
	published int
}

// NewManager creates a new publisher manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// Register adds a publisher to the manager.
func (m *Manager) Register(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishers = append(m.publishers, p)
}

// Publishers returns all registered publishers.
func (m *Manager) Publishers() []Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Publisher, len(m.publishers))
	copy(result, m.publishers)
	return result
}

// EnabledCount returns the number of enabled publishers.
func (m *Manager) EnabledCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, p := range m.publishers {
		if p.IsEnabled() {
			count++
		}
	}
	return count
}

// Publish sends status to every enabled publisher concurrently and waits for
// all of them, so each backend sees statuses in order. Failures are logged
// and returned joined; they never stop the other publishers.
func (m *Manager) Publish(ctx context.Context, status *Status) error {
	m.mu.RLock()
	publishers := m.publishers
	m.mu.RUnlock()

	m.lastMu.Lock()
	m.last = status
	m.published++
	m.lastMu.Unlock()

	var (
		errsMu sync.Mutex
		errs   []error
		batch  sync.WaitGroup
	)
	for _, p := range publishers {
		if !p.IsEnabled() {
			continue
		}
		m.wg.Add(1)
		batch.Add(1)
		go func(p Publisher) {
			defer m.wg.Done()
			defer batch.Done()
			if err := p.Publish(ctx, status); err != nil {
				m.logger.Warn("publish failed",
					slog.String("publisher", p.ID()),
					slog.String("status", Describe(status)),
					slog.Any("err", err))
				errsMu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
				errsMu.Unlock()
			}
		}(p)
	}
	batch.Wait()
	return errors.Join(errs...)
}

// Last returns the most recently published status and how many publishes
// happened so far.
func (m *Manager) Last() (*Status, int) {
	m.lastMu.RLock()
	defer m.lastMu.RUnlock()
	return m.last, m.published
}

// Wait blocks until all in-flight publish operations complete or the context
// is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes every publisher that holds resources.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, p := range m.publishers {
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", p.ID(), err))
			}
		}
	}
	return errors.Join(errs...)
}
