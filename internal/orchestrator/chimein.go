package orchestrator

import (
	"log/slog"
	"sync"
	"time"
)

// ChimeInEntry is input submitted while a chat task was running
type ChimeInEntry struct {
	TaskID    string
	Text      string
	ArrivedAt time.Time
}

// OfferResult is the outcome of ChimeInQueue.Offer
type OfferResult int

const (
	// OfferNotAccepted means no chat task is running to absorb the input
	OfferNotAccepted OfferResult = iota
	// OfferQueued means the input was appended for the running task
	OfferQueued
	// OfferFull means the running task already has the maximum pending input
	OfferFull
)

func (r OfferResult) String() string {
	switch r {
	case OfferQueued:
		return "queued"
	case OfferFull:
		return "full"
	default:
		return "not_accepted"
	}
}

// ChimeInSource is the runtime's view of the input queued for its task
type ChimeInSource interface {
	// Drain returns and removes pending input in arrival order
	Drain() []ChimeInEntry
	// Notify is signalled when new input arrives
	Notify() <-chan struct{}
}

// ChimeInQueue buffers input for the running chat task. Entries belong to the
// task that was running when they arrived and are dropped when it settles.
type ChimeInQueue struct {
	mu      sync.Mutex
	taskID  string
	entries []ChimeInEntry
	max     int
	notify  chan struct{}
	now     func() time.Time
	logger  *slog.Logger
}

// NewChimeInQueue creates a queue holding at most maxPending entries per task
func NewChimeInQueue(maxPending int, logger *slog.Logger) *ChimeInQueue {
	return &ChimeInQueue{
		max:    maxPending,
		notify: make(chan struct{}, 1),
		now:    time.Now,
		logger: logger,
	}
}

// Offer appends text for the running chat task
func (q *ChimeInQueue) Offer(text string) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.taskID == "" {
		return OfferNotAccepted
	}
	if len(q.entries) >= q.max {
		return OfferFull
	}
	q.entries = append(q.entries, ChimeInEntry{
		TaskID:    q.taskID,
		Text:      text,
		ArrivedAt: q.now(),
	})
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return OfferQueued
}

// Drain returns and removes the pending input of taskID. Input for any other
// task is never returned.
func (q *ChimeInQueue) Drain(taskID string) []ChimeInEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	if taskID == "" || taskID != q.taskID || len(q.entries) == 0 {
		return nil
	}
	out := q.entries
	q.entries = nil
	return out
}

// Notify is signalled after an Offer is queued
func (q *ChimeInQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of pending entries
func (q *ChimeInQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Source binds the queue to one task for the runtime
func (q *ChimeInQueue) Source(taskID string) ChimeInSource {
	return &taskChimeIns{queue: q, taskID: taskID}
}

// TaskStarted implements TaskObserver; only chat tasks absorb input
func (q *ChimeInQueue) TaskStarted(task ForegroundTask) {
	if task.Kind != KindChat {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.taskID = task.ID
	q.entries = nil
	select {
	case <-q.notify:
	default:
	}
}

// TaskSettling implements TaskObserver; leftover input is stale and dropped
func (q *ChimeInQueue) TaskSettling(task ForegroundTask) {
	q.mu.Lock()
	if q.taskID != task.ID {
		q.mu.Unlock()
		return
	}
	stale := len(q.entries)
	q.taskID = ""
	q.entries = nil
	q.mu.Unlock()

	if stale > 0 {
		q.logger.Warn("Dropping chime-ins not absorbed by settled task",
			"task_id", task.ID,
			"dropped", stale,
		)
	}
}

type taskChimeIns struct {
	queue  *ChimeInQueue
	taskID string
}

func (s *taskChimeIns) Drain() []ChimeInEntry {
	return s.queue.Drain(s.taskID)
}

func (s *taskChimeIns) Notify() <-chan struct{} {
	return s.queue.Notify()
}
