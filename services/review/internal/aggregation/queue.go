package aggregation

import (
	"context"
	"sync"
)

type keyState struct {
	ctx     context.Context
	running bool
	rerun   bool
}

// keyedQueue runs work per key with at most one run in flight per key and
// at most cap(sem) runs in flight overall. Requests for a key that is
// already running collapse into a single follow-up run.
type keyedQueue struct {
	mu      sync.Mutex
	states  map[string]*keyState
	sem     chan struct{}
	wg      sync.WaitGroup
	closed  bool
	run     func(ctx context.Context, key string)
	onMerge func()
}

func newKeyedQueue(workers int, run func(ctx context.Context, key string)) *keyedQueue {
	if workers < 1 {
		workers = 1
	}
	return &keyedQueue{
		states:  make(map[string]*keyState),
		sem:     make(chan struct{}, workers),
		run:     run,
		onMerge: func() {},
	}
}

// enqueue schedules a run for key. ctx supplies values (trace, logger
// fields) for the run but not cancellation. It reports false once closed.
func (q *keyedQueue) enqueue(ctx context.Context, key string) bool {
	ctx = context.WithoutCancel(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if st, ok := q.states[key]; ok {
		st.ctx = ctx
		if st.running {
			st.rerun = true
		}
		q.onMerge()
		return true
	}

	q.states[key] = &keyState{ctx: ctx}
	q.wg.Add(1)
	go q.drain(key)
	return true
}

func (q *keyedQueue) drain(key string) {
	defer q.wg.Done()

	for {
		q.sem <- struct{}{}

		q.mu.Lock()
		st := q.states[key]
		st.running = true
		ctx := st.ctx
		q.mu.Unlock()

		q.run(ctx, key)
		<-q.sem

		q.mu.Lock()
		st.running = false
		if !st.rerun {
			delete(q.states, key)
			q.mu.Unlock()
			return
		}
		st.rerun = false
		q.mu.Unlock()
	}
}

// wait blocks until no key is pending or ctx is done.
func (q *keyedQueue) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close rejects new work and waits for pending runs.
func (q *keyedQueue) close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.wait(ctx)
}

func (q *keyedQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.states)
}
