package core

import (
	"context"
	"sync"
	"time"

	"github.com/valter-silva-au/agentq/pkg/models"
)

// job is a claimed entry waiting for its worker.
type job struct {
	entry models.QueueEntry
	route models.RoutingResult
}

// mailbox is one worker's ordered queue of claimed entries. The dispatch loop
// is the only producer and the worker's loop the only consumer.
type mailbox struct {
	worker string
	signal chan struct{}

	mu        sync.Mutex
	items     []job
	state     models.WorkerState
	current   string
	processed int
	failed    int
	updated   time.Time
}

func newMailbox(worker string) *mailbox {
	return &mailbox{
		worker:  worker,
		signal:  make(chan struct{}, 1),
		state:   models.WorkerIdle,
		updated: time.Now().UTC(),
	}
}

func (m *mailbox) push(j job) {
	m.mu.Lock()
	m.items = append(m.items, j)
	if m.state == models.WorkerIdle {
		m.state = models.WorkerClaimed
		m.updated = time.Now().UTC()
	}
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// next blocks until an entry is available or ctx is done.
func (m *mailbox) next(ctx context.Context) (job, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			j := m.items[0]
			m.items[0] = job{}
			m.items = m.items[1:]
			m.state = models.WorkerClaimed
			m.current = j.entry.ID
			m.updated = time.Now().UTC()
			m.mu.Unlock()
			return j, true
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return job{}, false
		case <-m.signal:
		}
	}
}

func (m *mailbox) setState(state models.WorkerState) {
	m.mu.Lock()
	m.state = state
	m.updated = time.Now().UTC()
	m.mu.Unlock()
}

// done marks the current entry finished.
func (m *mailbox) done(failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	if failed {
		m.failed++
	}
	m.current = ""
	if len(m.items) > 0 {
		m.state = models.WorkerClaimed
	} else {
		m.state = models.WorkerIdle
	}
	m.updated = time.Now().UTC()
}

func (m *mailbox) status() models.WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.WorkerStatus{
		Worker:    m.worker,
		State:     m.state,
		Queued:    len(m.items),
		Current:   m.current,
		Processed: m.processed,
		Failed:    m.failed,
		UpdatedAt: m.updated,
	}
}
