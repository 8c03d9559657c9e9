// Package work implements the server's cooperative task queues.
//
// Tasks live in one of three queues: immediate (run on the next pass),
// timed (run once their time has come), and deferred (parked until an
// event moves them to immediate). Deferred tasks are how a request issued
// inside the server waits for its reply without blocking: the reply
// dispatcher wakes the task whose parameter is that request.
//
// Queues is owned by the server loop and is not safe for concurrent use.
package work

import (
	"slices"
	"time"

	"github.com/geoyin/openpbs/pkg/clock"
)

// Kind is the queue a task is on.
type Kind uint8

const (
	Immediate Kind = iota
	Timed
	Deferred
	Done
)

// String returns the queue name.
func (k Kind) String() string {
	switch k {
	case Immediate:
		return "immediate"
	case Timed:
		return "timed"
	case Deferred:
		return "deferred"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Func is the body of a task.
type Func func(t *Task)

// Task is one unit of deferred work.
type Task struct {
	ID    uint64
	Kind  Kind
	When  time.Time
	Param any

	fn Func
}

// Queues holds the three task queues.
type Queues struct {
	clock    clock.Clock
	nextID   uint64
	ready    []*Task
	timed    []*Task // ordered by When
	deferred []*Task
}

// New creates empty queues using clk for timed tasks.
func New(clk clock.Clock) *Queues {
	if clk == nil {
		clk = clock.Real()
	}
	return &Queues{clock: clk}
}

func (q *Queues) newTask(kind Kind, fn Func, param any) *Task {
	q.nextID++
	return &Task{ID: q.nextID, Kind: kind, Param: param, fn: fn}
}

// Now schedules fn to run on the next pass.
func (q *Queues) Now(fn Func, param any) *Task {
	t := q.newTask(Immediate, fn, param)
	q.ready = append(q.ready, t)
	return t
}

// At schedules fn to run once the clock reaches when.
func (q *Queues) At(when time.Time, fn Func, param any) *Task {
	t := q.newTask(Timed, fn, param)
	t.When = when
	i, _ := slices.BinarySearchFunc(q.timed, when, func(e *Task, w time.Time) int {
		if e.When.After(w) {
			return 1
		}
		return -1
	})
	q.timed = slices.Insert(q.timed, i, t)
	return t
}

// After schedules fn to run d from now.
func (q *Queues) After(d time.Duration, fn Func, param any) *Task {
	return q.At(q.clock.Now().Add(d), fn, param)
}

// Defer parks fn until Wake is called with param.
func (q *Queues) Defer(fn Func, param any) *Task {
	t := q.newTask(Deferred, fn, param)
	q.deferred = append(q.deferred, t)
	return t
}

// Wake moves the deferred task whose Param is param to the immediate
// queue. It reports false if no such task is parked.
func (q *Queues) Wake(param any) bool {
	i := slices.IndexFunc(q.deferred, func(t *Task) bool { return t.Param == param })
	if i < 0 {
		return false
	}
	t := q.deferred[i]
	q.deferred = slices.Delete(q.deferred, i, i+1)
	t.Kind = Immediate
	q.ready = append(q.ready, t)
	return true
}

// Cancel removes a task from whichever queue holds it.
func (q *Queues) Cancel(t *Task) {
	match := func(e *Task) bool { return e.ID == t.ID }
	q.ready = slices.DeleteFunc(q.ready, match)
	q.timed = slices.DeleteFunc(q.timed, match)
	q.deferred = slices.DeleteFunc(q.deferred, match)
	t.Kind = Done
}

// Run moves due timed tasks to the immediate queue and runs immediate
// tasks until it is empty, including tasks queued while running. It
// returns the number of tasks run.
func (q *Queues) Run() int {
	now := q.clock.Now()
	due := 0
	for due < len(q.timed) && !q.timed[due].When.After(now) {
		due++
	}
	for _, t := range q.timed[:due] {
		t.Kind = Immediate
		q.ready = append(q.ready, t)
	}
	q.timed = slices.Delete(q.timed, 0, due)

	n := 0
	for len(q.ready) > 0 {
		t := q.ready[0]
		q.ready = q.ready[1:]
		t.Kind = Done
		t.fn(t)
		n++
	}
	return n
}

// NextDeadline returns the time of the earliest timed task.
func (q *Queues) NextDeadline() (time.Time, bool) {
	if len(q.timed) == 0 {
		return time.Time{}, false
	}
	return q.timed[0].When, true
}

// Len returns the number of tasks on queue k.
func (q *Queues) Len(k Kind) int {
	switch k {
	case Immediate:
		return len(q.ready)
	case Timed:
		return len(q.timed)
	case Deferred:
		return len(q.deferred)
	default:
		return 0
	}
}
