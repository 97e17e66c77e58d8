package temporal

import (
	"context"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu          sync.RWMutex
	interval    time.Duration
	created     bool
	deleted     bool
	createError error
	deleteError error
}

// NewMockScheduler creates a new mock scheduler for testing.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// CreateSweepSchedule records the schedule creation.
func (m *MockScheduler) CreateSweepSchedule(ctx context.Context, interval time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createError != nil {
		return m.createError
	}
	m.created = true
	m.deleted = false
	m.interval = interval
	return nil
}

// DeleteSweepSchedule records the schedule deletion.
func (m *MockScheduler) DeleteSweepSchedule(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteError != nil {
		return m.deleteError
	}
	m.deleted = true
	m.created = false
	return nil
}

// ScheduleCreated returns whether the sweep schedule is currently created.
func (m *MockScheduler) ScheduleCreated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.created
}

// ScheduleInterval returns the interval of the last created schedule.
func (m *MockScheduler) ScheduleInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interval
}

// SetCreateError configures the mock to fail CreateSweepSchedule.
func (m *MockScheduler) SetCreateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createError = err
}

// SetDeleteError configures the mock to fail DeleteSweepSchedule.
func (m *MockScheduler) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteError = err
}
