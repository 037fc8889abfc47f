package filesipc

import "sync"

// callResult carries exactly one of resp or err to a waiter.
type callResult struct {
	resp *envelope
	err  error
}

// correlator owns the id→waiter table. It is the single place where the
// dispatch loop, callers, and timeouts meet; one mutex covers every
// mutation. Each slot is retired exactly once, by whichever of resolve,
// expire, or retireAll gets there first.
type correlator struct {
	mu      sync.Mutex
	pending map[int64]chan callResult
	closed  error // non-nil once retireAll has run
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[int64]chan callResult)}
}

// register allocates a waiter slot for id. The returned channel is buffered
// so delivery never blocks the dispatch loop.
func (c *correlator) register(id int64) (<-chan callResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return nil, c.closed
	}
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	return ch, nil
}

// resolve hands a response to the waiter for id and retires the slot.
// Reports false when no waiter exists: the response was unsolicited or the
// call already expired, which is informational, not a connection fault.
func (c *correlator) resolve(id int64, resp *envelope) bool {
	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- callResult{resp: resp}
	return true
}

// expire retires the slot for id without delivering anything. Racing with
// resolve is fine: whichever removes the entry first wins and the loser is
// a no-op.
func (c *correlator) expire(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// retireAll fails every outstanding waiter with err and refuses further
// registrations. Later invocations are no-ops, so an explicit Close racing
// a transport failure cannot double-deliver.
func (c *correlator) retireAll(err error) {
	c.mu.Lock()
	if c.closed != nil {
		c.mu.Unlock()
		return
	}
	c.closed = err
	retired := c.pending
	c.pending = make(map[int64]chan callResult)
	c.mu.Unlock()
	for _, ch := range retired {
		ch <- callResult{err: err}
	}
}
