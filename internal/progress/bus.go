// Package progress is a per-task ordered stream of processing milestones.
// It is a best-effort live notification layer over the task store:
// subscribers that miss events fall back to polling the store, which always
// holds the durable terminal state.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// TerminalProgress is the progress value that closes a task's stream, on
// both the success and the failure path.
const TerminalProgress = 100

// subscriberBuffer bounds each subscriber channel. Publishing never blocks;
// a subscriber that falls this far behind loses events and must poll the
// store instead.
const subscriberBuffer = 64

// defaultRetention is how long a finished stream stays subscribable for
// replay before it is garbage-collected.
const defaultRetention = 15 * time.Minute

// ErrUnknownTask is returned when subscribing to a task id the bus has
// never seen (or has already collected).
var ErrUnknownTask = errors.New("progress: unknown task")

// Event is one milestone of a task's run. Progress is monotonically
// non-decreasing per task; the event carrying TerminalProgress is the last
// one delivered.
type Event struct {
	TaskID   string      `json:"-"`
	Progress int         `json:"progress"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
}

type stream struct {
	events []Event
	subs   []chan Event
	done   bool
}

// Bus fans events out to per-task subscribers. Every stream keeps a replay
// buffer so a subscriber arriving mid-run still sees all prior milestones.
type Bus struct {
	mu        sync.Mutex
	streams   map[string]*stream
	retention time.Duration
}

// NewBus creates a bus. A non-positive retention selects the default.
func NewBus(retention time.Duration) *Bus {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Bus{
		streams:   make(map[string]*stream),
		retention: retention,
	}
}

// Init creates an empty stream for the task. Publishing to an uninitialized
// task id initializes it implicitly; Init exists so subscribers can attach
// before the first milestone.
func (b *Bus) Init(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensure(taskID)
}

// Publish appends an event and delivers it to active subscribers without
// blocking. Progress is clamped so the per-task sequence never decreases.
// Publishing TerminalProgress closes every subscriber channel and schedules
// the stream for collection after the retention window.
func (b *Bus) Publish(taskID string, progress int, message string, data interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.ensure(taskID)
	if st.done {
		return
	}
	if last := len(st.events); last > 0 && progress < st.events[last-1].Progress {
		progress = st.events[last-1].Progress
	}

	ev := Event{TaskID: taskID, Progress: progress, Message: message, Data: data}
	st.events = append(st.events, ev)

	for _, sub := range st.subs {
		select {
		case sub <- ev:
		default:
			// Slow subscriber; it can recover from the store snapshot.
		}
	}

	if progress >= TerminalProgress {
		st.done = true
		for _, sub := range st.subs {
			close(sub)
		}
		st.subs = nil
		time.AfterFunc(b.retention, func() { b.Remove(taskID) })
	}
}

// Subscribe returns a channel yielding the task's events in publish order,
// starting with a replay of everything published so far. The channel is
// closed after the event with progress >= 100 is delivered. The returned
// cancel function detaches an abandoned subscriber.
func (b *Bus) Subscribe(taskID string) (<-chan Event, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[taskID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}

	ch := make(chan Event, subscriberBuffer+len(st.events))
	for _, ev := range st.events {
		ch <- ev
	}

	if st.done {
		close(ch)
		return ch, func() {}, nil
	}

	st.subs = append(st.subs, ch)
	cancel := func() { b.unsubscribe(taskID, ch) }
	return ch, cancel, nil
}

// Snapshot returns the most recent event of a task, if any.
func (b *Bus) Snapshot(taskID string) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[taskID]
	if !ok || len(st.events) == 0 {
		return Event{}, false
	}
	return st.events[len(st.events)-1], true
}

// Remove drops a task's stream and detaches any remaining subscribers.
func (b *Bus) Remove(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[taskID]
	if !ok {
		return
	}
	for _, sub := range st.subs {
		close(sub)
	}
	delete(b.streams, taskID)
}

func (b *Bus) ensure(taskID string) *stream {
	st, ok := b.streams[taskID]
	if !ok {
		st = &stream{}
		b.streams[taskID] = st
	}
	return st
}

func (b *Bus) unsubscribe(taskID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.streams[taskID]
	if !ok {
		return
	}
	for i, sub := range st.subs {
		if sub == ch {
			st.subs = append(st.subs[:i], st.subs[i+1:]...)
			close(sub)
			return
		}
	}
}
