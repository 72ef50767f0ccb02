// Package eventloop queues the timers and signal-connection events the room
// client is waiting on. Network goroutines post into it; only the goroutine
// owning the VM drains it.
package eventloop

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cryguy/roomkit/internal/core"
)

// SignalEvent is something that happened on a signal connection.
type SignalEvent struct {
	ConnID int
	Type   string // "open", "message" or "close"
	Data   string
	Code   int
}

// timer is the Go half of a setTimeout/setInterval. The callback itself
// stays in the VM, keyed by id.
type timer struct {
	id    int
	due   time.Time
	every time.Duration // zero for one-shot timers
	index int
}

// timerQueue is a min-heap ordered by due time, then id.
type timerQueue []*timer

func (q timerQueue) Len() int { return len(q) }

func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].id < q[j].id
	}
	return q[i].due.Before(q[j].due)
}

func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	t := old[len(old)-1]
	old[len(old)-1] = nil
	*q = old[:len(old)-1]
	t.index = -1
	return t
}

// EventLoop never blocks. The owner calls Drain when Wake fires or the
// deadline returned by the previous Drain passes.
type EventLoop struct {
	mu       sync.Mutex
	queue    timerQueue
	byID     map[int]*timer
	lastID   int
	inbox    []SignalEvent
	wake     chan struct{}
	minEvery time.Duration
}

// New creates an EventLoop whose intervals never repeat faster than
// minInterval.
func New(minInterval time.Duration) *EventLoop {
	return &EventLoop{
		byID:     make(map[int]*timer),
		wake:     make(chan struct{}, 1),
		minEvery: minInterval,
	}
}

// Wake receives a value whenever work was queued.
func (el *EventLoop) Wake() <-chan struct{} { return el.wake }

func (el *EventLoop) poke() {
	select {
	case el.wake <- struct{}{}:
	default:
	}
}

// Schedule adds a timer due after delay and returns its id. Repeating
// timers come back every max(delay, minInterval, 1ms).
func (el *EventLoop) Schedule(delay time.Duration, repeat bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.lastID++
	t := &timer{id: el.lastID, due: time.Now().Add(delay)}
	if repeat {
		t.every = max(delay, el.minEvery, time.Millisecond)
	}
	heap.Push(&el.queue, t)
	el.byID[t.id] = t
	el.poke()
	return t.id
}

// Cancel drops a timer. Unknown ids are ignored.
func (el *EventLoop) Cancel(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.byID[id]; ok {
		heap.Remove(&el.queue, t.index)
		delete(el.byID, id)
	}
}

// Post queues a signal event. Safe for concurrent use.
func (el *EventLoop) Post(ev SignalEvent) {
	el.mu.Lock()
	el.inbox = append(el.inbox, ev)
	el.mu.Unlock()
	el.poke()
}

// maxDrainRounds keeps zero-delay timers that keep rescheduling themselves
// from holding the loop forever.
const maxDrainRounds = 1024

// Drain delivers queued signal events and fires due timers, draining
// promise jobs after each one. It returns the next timer deadline, or the
// zero time when no timer is pending.
func (el *EventLoop) Drain(vm core.VM) time.Time {
	for round := 0; ; round++ {
		if round == maxDrainRounds {
			vm.DrainJobs()
			return time.Now()
		}
		el.mu.Lock()
		inbox := el.inbox
		el.inbox = nil
		el.mu.Unlock()

		for _, ev := range inbox {
			deliver(vm, ev)
			vm.DrainJobs()
		}

		id, ok := el.popDue(time.Now())
		if !ok {
			if len(inbox) == 0 {
				break
			}
			continue
		}
		_ = vm.Exec(fmt.Sprintf("__rk_fire_timer(%d)", id))
		vm.DrainJobs()
	}
	vm.DrainJobs()
	return el.NextDeadline()
}

// popDue takes the earliest timer due at now, re-queueing it if it repeats.
func (el *EventLoop) popDue(now time.Time) (int, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.queue) == 0 || el.queue[0].due.After(now) {
		return 0, false
	}
	t := el.queue[0]
	if t.every > 0 {
		t.due = now.Add(t.every)
		heap.Fix(&el.queue, 0)
	} else {
		heap.Pop(&el.queue)
		delete(el.byID, t.id)
	}
	return t.id, true
}

// NextDeadline returns the earliest timer deadline, or the zero time.
func (el *EventLoop) NextDeadline() time.Time {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.queue) == 0 {
		return time.Time{}
	}
	return el.queue[0].due
}

// Pending reports whether any timer or signal event is queued.
func (el *EventLoop) Pending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.queue) > 0 || len(el.inbox) > 0
}

// Reset drops every timer and queued event.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.queue = nil
	el.byID = make(map[int]*timer)
	el.lastID = 0
	el.inbox = nil
}

func deliver(vm core.VM, ev SignalEvent) {
	typ, _ := json.Marshal(ev.Type)
	data, _ := json.Marshal(ev.Data)
	_ = vm.Exec(fmt.Sprintf(
		"typeof __signal_event === 'function' && __signal_event(%d, %s, %s, %d)",
		ev.ConnID, typ, data, ev.Code))
}
