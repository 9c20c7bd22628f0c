package replicator

import (
	"sync"
	"time"
)

// ackWaiter is one mode-2 write blocked on a follower ack.
type ackWaiter struct {
	seq      uint64
	deadline time.Time
	done     chan struct{}
}

// pendingAckTable tracks writes waiting for a follower ack. The write path
// inserts, serve-pull resolves, and the sweeper expires entries whose
// waiter has already given up.
type pendingAckTable struct {
	mu      sync.Mutex
	waiters map[uint64][]*ackWaiter
}

func newPendingAckTable() *pendingAckTable {
	return &pendingAckTable{
		waiters: make(map[uint64][]*ackWaiter),
	}
}

// add registers a waiter for seq and returns the channel closed when a
// qualifying ack arrives.
func (t *pendingAckTable) add(seq uint64, deadline time.Time) *ackWaiter {
	w := &ackWaiter{
		seq:      seq,
		deadline: deadline,
		done:     make(chan struct{}),
	}
	t.mu.Lock()
	t.waiters[seq] = append(t.waiters[seq], w)
	t.mu.Unlock()
	return w
}

// remove drops a waiter that timed out on its own.
func (t *pendingAckTable) remove(w *ackWaiter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	list := t.waiters[w.seq]
	for i, other := range list {
		if other == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.waiters, w.seq)
	} else {
		t.waiters[w.seq] = list
	}
}

// resolveUpTo releases every waiter with sequence <= ackSeq. Returns the
// number of waiters released.
func (t *pendingAckTable) resolveUpTo(ackSeq uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	released := 0
	for seq, list := range t.waiters {
		if seq > ackSeq {
			continue
		}
		for _, w := range list {
			close(w.done)
			released++
		}
		delete(t.waiters, seq)
	}
	return released
}

// expire drops waiters past their deadline. Their writers have already
// returned TIMEOUT; this only reclaims table entries. Returns the number
// of entries dropped.
func (t *pendingAckTable) expire(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	expired := 0
	for seq, list := range t.waiters {
		kept := list[:0]
		for _, w := range list {
			if w.deadline.Before(now) {
				expired++
			} else {
				kept = append(kept, w)
			}
		}
		if len(kept) == 0 {
			delete(t.waiters, seq)
		} else {
			t.waiters[seq] = kept
		}
	}
	return expired
}

// size returns the number of pending waiters.
func (t *pendingAckTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, list := range t.waiters {
		n += len(list)
	}
	return n
}
