// Package queue implements a bounded-concurrency job scheduler with FIFO
// admission and per-group idle tracking.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/replaykit/internal/settle"
)

// ErrClosed is returned by handles of jobs that were still queued when the
// queue was closed.
var ErrClosed = errors.New("queue closed")

// Job is a unit of work. Its error is reported only through its Handle.
type Job func(ctx context.Context) error

// Queue admits jobs in submission order and runs at most concurrency of them
// at once, across the root group and every group forked from it.
type Queue struct {
	*Group

	sem     *semaphore.Weighted
	mu      sync.Mutex
	pending []*task
	running int
	closed  bool
}

// Group is a view of a Queue with its own idle tracking. All groups of a
// queue share the concurrency ceiling and the admission order.
type Group struct {
	q           *Queue
	outstanding int
	idle        *settle.Cell[struct{}]
}

type task struct {
	ctx    context.Context
	job    Job
	group  *Group
	handle *Handle
}

// Handle settles exactly as its job does.
type Handle struct {
	cell *settle.Cell[struct{}]
}

// New creates a Queue that runs up to concurrency jobs simultaneously.
func New(concurrency int) *Queue {
	if concurrency < 1 {
		concurrency = 1
	}
	q := &Queue{sem: semaphore.NewWeighted(int64(concurrency))}
	q.Group = &Group{q: q}
	return q
}

// Fork returns a new group sharing this queue's ceiling and admission list.
func (g *Group) Fork() *Group {
	return &Group{q: g.q}
}

// Add schedules job and returns its handle. ctx is passed to the job when
// it starts; a job whose ctx is already done when admitted is not run.
func (g *Group) Add(ctx context.Context, job Job) *Handle {
	h := &Handle{cell: settle.New[struct{}]()}
	q := g.q

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		h.cell.Reject(ErrClosed)
		return h
	}
	g.outstanding++
	if g.outstanding == 1 {
		g.idle = settle.New[struct{}]()
	}
	q.pending = append(q.pending, &task{ctx: ctx, job: job, group: g, handle: h})
	q.mu.Unlock()

	q.pump()
	return h
}

// WaitUntilIdle blocks until this group has no queued or running jobs.
// Jobs of sibling groups and of the root are not counted.
func (g *Group) WaitUntilIdle(ctx context.Context) error {
	g.q.mu.Lock()
	if g.outstanding == 0 {
		g.q.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.q.mu.Unlock()

	_, err := idle.Wait(ctx)
	return err
}

// Outstanding returns the number of queued plus running jobs in this group.
func (g *Group) Outstanding() int {
	g.q.mu.Lock()
	defer g.q.mu.Unlock()
	return g.outstanding
}

// Stats returns the number of jobs waiting for admission and running,
// across all groups.
func (q *Queue) Stats() (queued, running int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), q.running
}

// Close stops admission. Queued jobs are rejected with ErrClosed; running
// jobs are left to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()

	for _, t := range dropped {
		q.finish(t, ErrClosed)
	}
}

// pump starts queued jobs while slots are free.
func (q *Queue) pump() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 && q.sem.TryAcquire(1) {
		t := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running++
		go q.run(t)
	}
}

func (q *Queue) run(t *task) {
	err := q.execute(t)

	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.sem.Release(1)

	q.finish(t, err)
	q.pump()
}

func (q *Queue) execute(t *task) (err error) {
	if err := t.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("queued job panicked", "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return t.job(t.ctx)
}

// finish settles the job's handle and then updates its group's idle state,
// so an idle group never has unsettled handles.
func (q *Queue) finish(t *task, err error) {
	if err != nil {
		t.handle.cell.Reject(err)
	} else {
		t.handle.cell.Resolve(struct{}{})
	}

	q.mu.Lock()
	g := t.group
	g.outstanding--
	var idle *settle.Cell[struct{}]
	if g.outstanding == 0 {
		idle = g.idle
	}
	q.mu.Unlock()

	if idle != nil {
		idle.Resolve(struct{}{})
	}
}

// Wait blocks until the job finishes and returns its error.
func (h *Handle) Wait(ctx context.Context) error {
	_, err := h.cell.Wait(ctx)
	return err
}

// Done is closed when the job has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.cell.Done()
}

// Err returns the job's error once Done is closed.
func (h *Handle) Err() error {
	_, err := h.cell.Result()
	return err
}
