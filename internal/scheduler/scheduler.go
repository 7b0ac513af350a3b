// Package scheduler runs named background operations with per-key
// deduplication and throttling. A key identifies a logical operation
// (for example a full sync for one account); while a key is queued or
// executing, further submissions for it are dropped, and a key that
// completed less than its minimum interval ago is dropped as well.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kithapp/kith/internal/logging"
)

// ErrThrottled is returned by RunAndWait when the submission was dropped
// because the key is already pending or ran too recently.
var ErrThrottled = errors.New("operation throttled")

// ErrStopped is returned by RunAndWait when the scheduler shut down
// before the operation finished.
var ErrStopped = errors.New("scheduler stopped")

// Priority orders queued operations. High-priority operations always
// run before normal ones.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
)

// Operation is a unit of schedulable work.
type Operation func(ctx context.Context) error

type task struct {
	name   string
	key    string
	op     Operation
	onErr  func(error)
	result chan error
}

type keyState struct {
	lastCompleted time.Time
	pending       bool
}

// Scheduler executes operations one at a time from two FIFO queues,
// draining the high-priority queue first.
type Scheduler struct {
	logger logging.Logger

	mu     sync.Mutex
	keys   map[string]*keyState
	high   []*task
	normal []*task

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// New creates a Scheduler and starts its dispatch loop.
func New(logger logging.Logger) *Scheduler {
	s := &Scheduler{
		logger: logger,
		keys:   make(map[string]*keyState),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// Run submits an operation without waiting for it. Submissions for a key
// that is already pending, or that completed less than minInterval ago,
// are dropped. onError, if non-nil, is invoked when the operation fails.
func (s *Scheduler) Run(name, key string, prio Priority, minInterval time.Duration, op Operation, onError func(error)) {
	s.submit(&task{name: name, key: key, op: op, onErr: onError}, prio, minInterval)
}

// RunAndWait submits an operation and blocks until it finishes, returning
// its error. It returns ErrThrottled when the submission was dropped and
// ErrStopped when the scheduler shut down first.
func (s *Scheduler) RunAndWait(ctx context.Context, name, key string, prio Priority, minInterval time.Duration, op Operation) error {
	t := &task{name: name, key: key, op: op, result: make(chan error, 1)}
	if !s.submit(t, prio, minInterval) {
		return ErrThrottled
	}
	select {
	case err := <-t.result:
		return err
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the dispatch loop down and waits for an in-flight operation
// to finish. Queued operations are discarded.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}

func (s *Scheduler) submit(t *task, prio Priority, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.quit:
		return false
	default:
	}

	st, ok := s.keys[t.key]
	if !ok {
		st = &keyState{}
		s.keys[t.key] = st
	}
	if st.pending {
		s.logger.Debug(context.Background(), "operation dropped, already pending", "name", t.name, "key", t.key)
		return false
	}
	if minInterval > 0 && !st.lastCompleted.IsZero() && time.Since(st.lastCompleted) < minInterval {
		s.logger.Debug(context.Background(), "operation throttled", "name", t.name, "key", t.key)
		return false
	}
	st.pending = true

	if prio == PriorityHigh {
		s.high = append(s.high, t)
	} else {
		s.normal = append(s.normal, t)
	}

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}
		for {
			t := s.next()
			if t == nil {
				break
			}
			s.execute(t)
			select {
			case <-s.quit:
				return
			default:
			}
		}
	}
}

func (s *Scheduler) next() *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.high) > 0 {
		t := s.high[0]
		s.high = s.high[1:]
		return t
	}
	if len(s.normal) > 0 {
		t := s.normal[0]
		s.normal = s.normal[1:]
		return t
	}
	return nil
}

func (s *Scheduler) execute(t *task) {
	ctx := context.Background()
	s.logger.Debug(ctx, "operation started", "name", t.name, "key", t.key)

	err := t.op(ctx)

	s.mu.Lock()
	st := s.keys[t.key]
	st.pending = false
	st.lastCompleted = time.Now()
	s.mu.Unlock()

	if err != nil {
		s.logger.Error(ctx, "operation failed", "name", t.name, "key", t.key, "error", err)
		if t.onErr != nil {
			t.onErr(err)
		}
	} else {
		s.logger.Debug(ctx, "operation finished", "name", t.name, "key", t.key)
	}
	if t.result != nil {
		t.result <- err
	}
}
