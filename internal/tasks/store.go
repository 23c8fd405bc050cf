// Package tasks holds the lifecycle state of long-running analysis jobs,
// addressable by task id, with expiry. State machine:
// queued -> in_progress -> {done, failed}; terminal states are immutable
// and a rerun must create a new task id.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

var (
	// ErrNotFound is returned for unknown or expired task ids.
	ErrNotFound = errors.New("task not found")

	// ErrTerminalState is returned for transitions out of done or failed.
	ErrTerminalState = errors.New("task is in a terminal state")
)

const (
	// DefaultActiveTTL keeps an in-flight task visible long enough to cover
	// the worst-case pipeline duration.
	DefaultActiveTTL = time.Hour

	// DefaultTerminalTTL keeps a finished task visible to polling clients
	// before they get a definitive not-found.
	DefaultTerminalTTL = 15 * time.Minute

	janitorInterval = time.Minute
)

// Store is an in-memory task state store, safe for concurrent use. Entries
// carry an active TTL while in progress and a shorter terminal TTL once
// done or failed; an expired entry reads as not found and is eventually
// swept by the janitor.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	activeTTL   time.Duration
	terminalTTL time.Duration

	stop     chan struct{}
	stopOnce sync.Once

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates a task store. Non-positive TTLs select the defaults.
func NewStore(activeTTL, terminalTTL time.Duration) *Store {
	if activeTTL <= 0 {
		activeTTL = DefaultActiveTTL
	}
	if terminalTTL <= 0 {
		terminalTTL = DefaultTerminalTTL
	}
	s := &Store{
		tasks:       make(map[string]*Task),
		activeTTL:   activeTTL,
		terminalTTL: terminalTTL,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	go s.janitor()
	return s
}

// Create registers a new queued task under a fresh random id.
func (s *Store) Create(ctx context.Context) (*Task, error) {
	now := s.now()
	task := &Task{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Message:   "Task queued.",
		CreatedAt: now,
		ExpiresAt: now.Add(s.activeTTL),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Random 128-bit ids do not collide in practice; refuse rather than
	// merge two tasks' state under one id.
	if _, exists := s.tasks[task.ID]; exists {
		return nil, fmt.Errorf("task id collision: %s", task.ID)
	}
	s.tasks[task.ID] = task

	taskCopy := *task
	return &taskCopy, nil
}

// SetStatus transitions a task to a non-terminal status with a stage
// message.
func (s *Store) SetStatus(id string, status Status, message string) error {
	if status.Terminal() {
		return fmt.Errorf("SetStatus cannot enter terminal status %q, use Complete or Fail", status)
	}
	return s.update(id, func(t *Task) {
		t.Status = status
		t.Message = message
	})
}

// Complete marks a task done with its full result payload and switches the
// entry to the terminal TTL.
func (s *Store) Complete(id, message string, result *domain.AnalysisResult) error {
	return s.update(id, func(t *Task) {
		t.Status = StatusDone
		t.Message = message
		t.Result = result
		t.Error = ""
		t.ExpiresAt = s.now().Add(s.terminalTTL)
	})
}

// Fail marks a task failed with a human-readable error summary and switches
// the entry to the terminal TTL. No result is ever persisted for a failed
// task.
func (s *Store) Fail(id, errMsg string) error {
	return s.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Message = "Processing failed."
		t.Error = errMsg
		t.Result = nil
		t.ExpiresAt = s.now().Add(s.terminalTTL)
	})
}

// Get returns a copy of the task, or ErrNotFound for unknown and expired
// ids.
func (s *Store) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok || s.expired(task) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	taskCopy := *task
	return &taskCopy, nil
}

// Close stops the janitor goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) update(id string, mutate func(*Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || s.expired(task) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if task.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalState, id, task.Status)
	}
	mutate(task)
	return nil
}

func (s *Store) expired(t *Task) bool {
	return s.now().After(t.ExpiresAt)
}

func (s *Store) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, task := range s.tasks {
		if s.expired(task) {
			delete(s.tasks, id)
		}
	}
}
