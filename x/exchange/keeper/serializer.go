package keeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	errorsmod "cosmossdk.io/errors"

	"github.com/openpredict/predex/x/exchange/types"
)

// LaneKey names the FIFO lane for one outcome book.
func LaneKey(marketID string, outcome int) string {
	return fmt.Sprintf("%s:%d", marketID, outcome)
}

const (
	taskPending int32 = iota
	taskRunning
	taskCancelled // claimed by the caller before its turn
	taskSkipped   // dropped by the lane after its context ended
)

type task struct {
	ctx   context.Context
	fn    func()
	done  chan struct{}
	state atomic.Int32
}

// Serializer runs functions one at a time per key in arrival order, with
// unrelated keys in parallel. A queued call can be abandoned through its
// context until its turn starts; after that it always runs to completion.
type Serializer struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	wg     sync.WaitGroup
	closed bool
}

type lane struct {
	s       *Serializer
	mu      sync.Mutex
	pending []*task
	active  bool
}

func NewSerializer() *Serializer {
	return &Serializer{lanes: make(map[string]*lane)}
}

// Run executes fn in FIFO position for key and blocks until it finishes.
// If ctx ends while the call is still queued, Run returns ErrCancelled and
// fn never runs. If the turn starts first, the context is ignored and the
// completed result stands.
func (s *Serializer) Run(ctx context.Context, key string, fn func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.ErrShuttingDown
	}
	s.wg.Add(1)
	ln := s.lanes[key]
	if ln == nil {
		ln = &lane{s: s}
		s.lanes[key] = ln
	}
	s.mu.Unlock()

	t := &task{ctx: ctx, fn: fn, done: make(chan struct{})}
	ln.enqueue(t)

	select {
	case <-t.done:
		if t.state.Load() == taskSkipped {
			return errorsmod.Wrapf(types.ErrCancelled, "key %s: %v", key, ctx.Err())
		}
		return nil
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskCancelled) {
			// Claimed before the lane reached it; the lane will drop it.
			return errorsmod.Wrapf(types.ErrCancelled, "key %s: %v", key, ctx.Err())
		}
		// The lane won the race. Wait out the run so the caller never
		// observes a cancellation for work that actually happened.
		<-t.done
		if t.state.Load() == taskSkipped {
			return errorsmod.Wrapf(types.ErrCancelled, "key %s: %v", key, ctx.Err())
		}
		return nil
	}
}

// Close stops accepting work and waits until every queued call has either
// run or been dropped.
func (s *Serializer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (l *lane) enqueue(t *task) {
	l.mu.Lock()
	l.pending = append(l.pending, t)
	if !l.active {
		l.active = true
		go l.drain()
	}
	l.mu.Unlock()
}

// drain pops tasks FIFO until the lane empties, then parks. A task whose
// caller already cancelled is dropped without running.
func (l *lane) drain() {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.active = false
			l.mu.Unlock()
			return
		}
		t := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		l.turn(t)
		l.s.wg.Done()
	}
}

func (l *lane) turn(t *task) {
	if t.state.Load() == taskCancelled {
		return
	}
	if t.ctx.Err() != nil {
		if t.state.CompareAndSwap(taskPending, taskSkipped) {
			close(t.done)
		}
		return
	}
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}
	t.fn()
	close(t.done)
}
