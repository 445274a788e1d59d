package realtime

import (
	"context"
	"sync"
	"time"
)

// writeQueue runs side writes (last seen, presence mirror) off the presence
// path. Writes for one user run one at a time in the order they were queued;
// different users proceed independently.
type writeQueue struct {
	timeout time.Duration
	failed  func(op string, err error)

	mu      sync.Mutex
	pending map[string][]queuedWrite
	closed  bool
	wg      sync.WaitGroup
}

type queuedWrite struct {
	op string
	fn func(ctx context.Context) error
}

func newWriteQueue(timeout time.Duration, failed func(op string, err error)) *writeQueue {
	return &writeQueue{
		timeout: timeout,
		failed:  failed,
		pending: make(map[string][]queuedWrite),
	}
}

// Enqueue schedules fn for key. It never blocks on fn.
func (q *writeQueue) Enqueue(key, op string, fn func(ctx context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	// The head of a non-empty queue is the write in flight; its runner picks
	// up whatever is appended behind it.
	running := len(q.pending[key]) > 0
	q.pending[key] = append(q.pending[key], queuedWrite{op: op, fn: fn})
	if !running {
		q.wg.Add(1)
		go q.run(key)
	}
}

func (q *writeQueue) run(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		w := q.pending[key][0]
		q.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if err := w.fn(ctx); err != nil {
			q.failed(w.op, err)
		}
		cancel()

		q.mu.Lock()
		rest := q.pending[key][1:]
		if len(rest) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		q.pending[key] = rest
		q.mu.Unlock()
	}
}

// Close stops accepting writes and waits for the queued ones to finish.
func (q *writeQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
