// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

type task struct {
	id       int64
	at       time.Time
	every    time.Duration
	callback func()
	index    int
}

// taskHeap orders tasks by fire time.
type taskHeap []*task

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *taskHeap) Push(x any) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	t := old[len(old)-1]
	old[len(old)-1] = nil
	t.index = -1
	*h = old[:len(old)-1]
	return t
}

// TimerManager fires callbacks from a heap checked every resolution tick.
// Answer deadlines are coarse, so a tick-based check is precise enough.
type TimerManager struct {
	queue      taskHeap
	byID       map[int64]*task
	mutex      sync.Mutex
	nextId     int64
	resolution time.Duration
	done       chan struct{}
	stopOnce   sync.Once
}

func NewTimerManager(resolution time.Duration) *TimerManager {
	if resolution <= 0 {
		resolution = 100 * time.Millisecond
	}
	manager := &TimerManager{
		byID:       make(map[int64]*task),
		nextId:     1,
		resolution: resolution,
		done:       make(chan struct{}),
	}
	heap.Init(&manager.queue)
	go manager.process()
	return manager
}

// AddTimer schedules callback after delay, repeating every interval when interval > 0.
func (m *TimerManager) AddTimer(delay time.Duration, interval time.Duration, callback func()) int64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t := &task{id: m.nextId, at: time.Now().Add(delay), every: interval, callback: callback}
	m.nextId++

	heap.Push(&m.queue, t)
	m.byID[t.id] = t
	return t.id
}

// RemoveTimer cancels a pending timer. It reports whether the timer was still pending.
func (m *TimerManager) RemoveTimer(timerId int64) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	t, ok := m.byID[timerId]
	if !ok {
		return false
	}
	delete(m.byID, timerId)
	heap.Remove(&m.queue, t.index)
	return true
}

// Pending returns the number of scheduled timers.
func (m *TimerManager) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Stop halts the manager; pending timers never fire.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

// Deadline returns a channel closed after d, and a cancel func that removes
// the timer if it has not fired yet.
func (m *TimerManager) Deadline(d time.Duration) (<-chan struct{}, func()) {
	expired := make(chan struct{})
	id := m.AddTimer(d, 0, func() { close(expired) })
	return expired, func() { m.RemoveTimer(id) }
}

func (m *TimerManager) process() {
	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			for _, fn := range m.due(time.Now()) {
				go fn()
			}
		}
	}
}

// due pops every task whose time has come and reschedules the repeating ones.
func (m *TimerManager) due(now time.Time) []func() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var fired []func()
	for m.queue.Len() > 0 && !m.queue[0].at.After(now) {
		t := heap.Pop(&m.queue).(*task)
		fired = append(fired, t.callback)

		if t.every > 0 {
			t.at = now.Add(t.every)
			heap.Push(&m.queue, t)
		} else {
			delete(m.byID, t.id)
		}
	}
	return fired
}
