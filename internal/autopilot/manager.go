// Package autopilot implements the FIFO job queue and free-worker
// matching scheduler. Grounded on Server/Content/manager.py's
// AutopilotManager skeleton; the condition-variable handoff named in
// the component design (wait_for_autopilot) isn't implemented in the
// source, so it's built fresh here with sync.Cond — the one place in
// this service that reaches for a stdlib concurrency primitive the
// rest of the pack doesn't otherwise exercise, since no example repo
// in the pack uses sync.Cond for this kind of handoff.
package autopilot

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/doorforge/quotecontrol/internal/metrics"
)

// Manager owns the FIFO task queue and the set of connected autopilot
// instances, coordinated by a single condition variable broadcast on
// every state change: a task queued, an instance connecting,
// disconnecting, or finishing its task.
type Manager struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []int
	autopilots map[string]*Instance
	log        zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	m := &Manager{
		autopilots: make(map[string]*Instance),
		log:        log,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// QueueTask appends id to the FIFO if it isn't already queued.
func (m *Manager) QueueTask(id int) {
	m.mu.Lock()
	for _, existing := range m.queue {
		if existing == id {
			m.mu.Unlock()
			return
		}
	}
	m.queue = append(m.queue, id)
	m.mu.Unlock()
	m.cond.Broadcast()
}

// queueAtHeadLocked re-queues id at the front of the FIFO, used when a
// busy autopilot disconnects mid-task.
func (m *Manager) queueAtHeadLocked(id int) {
	m.queue = append([]int{id}, m.queue...)
}

func (m *Manager) getNextTaskLocked() (int, bool) {
	if len(m.queue) == 0 {
		return 0, false
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	return id, true
}

func (m *Manager) getAutopilotLocked() *Instance {
	for _, inst := range m.autopilots {
		if !inst.Busy() {
			return inst
		}
	}
	return nil
}

// Connect registers a new autopilot instance for token and wakes any
// goroutine waiting on a free autopilot.
func (m *Manager) Connect(token string) *Instance {
	inst := newInstance(token)
	m.mu.Lock()
	m.autopilots[token] = inst
	m.mu.Unlock()
	m.cond.Broadcast()
	return inst
}

// Disconnect drops the instance for token. If it was carrying a task,
// that task is re-queued at the head of the FIFO.
func (m *Manager) Disconnect(token string) {
	m.mu.Lock()
	inst, ok := m.autopilots[token]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.autopilots, token)
	m.mu.Unlock()

	if taskID, wasBusy := inst.ClearTask(); wasBusy {
		m.mu.Lock()
		m.queueAtHeadLocked(taskID)
		m.mu.Unlock()
		m.log.Info().Int("task_id", taskID).Str("autopilot", token).Msg("autopilot disconnected mid-task, requeued at head")
	}
	m.cond.Broadcast()
}

// Ack clears the instance's current task on completion and returns
// its id.
func (m *Manager) Ack(token string) (int, bool) {
	m.mu.Lock()
	inst, ok := m.autopilots[token]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}

	taskID, ok := inst.ClearTask()
	if ok {
		m.cond.Broadcast()
	}
	return taskID, ok
}

// QueueDepth and ConnectedCount feed the ambient gauges.
func (m *Manager) QueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) ConnectedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.autopilots)
}

// Run is the dispatcher: it blocks until both a queued task and a
// free autopilot exist, assigns the task, and pushes it to the
// instance's Assigned channel for the connection handler to deliver.
// It returns when ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, m.cond.Broadcast)
	defer stop()

	for {
		m.mu.Lock()
		for {
			if ctx.Err() != nil {
				m.mu.Unlock()
				return
			}
			if len(m.queue) > 0 && m.getAutopilotLocked() != nil {
				break
			}
			m.cond.Wait()
		}

		taskID, _ := m.getNextTaskLocked()
		inst := m.getAutopilotLocked()
		if inst == nil {
			// Defensive: m.mu is held from the wait check to here, so a
			// free instance should still be present; if none is, put the
			// task back and loop.
			m.queueAtHeadLocked(taskID)
			m.mu.Unlock()
			continue
		}
		_ = inst.SetTask(taskID)
		m.mu.Unlock()

		inst.push(taskID)
		metrics.AutopilotDispatches.Inc()
		m.log.Info().Int("task_id", taskID).Str("autopilot", inst.Token).Msg("task dispatched")
	}
}
