package queue

import (
	"container/list"

	"github.com/sneh-joshi/litemq/internal/types"
)

// handoff is what a resumed waiter receives: a message whose dequeue is
// already committed, or the error that prevented the commit.
type handoff struct {
	msg types.Message
	err error
}

// waiter is one blocked Dequeue call. A producer resumes it by sending on ch,
// which has room for exactly one so the send never blocks while the queue
// lock is held.
type waiter struct {
	ch chan handoff
	el *list.Element // position in waiterList; nil once resumed or cancelled
}

// waiterList is the FIFO of blocked consumers of one queue. It is guarded by
// the owning Queue's mutex.
type waiterList struct {
	l list.List // of *waiter, oldest first
}

// register appends a new waiter.
func (wl *waiterList) register() *waiter {
	w := &waiter{ch: make(chan handoff, 1)}
	w.el = wl.l.PushBack(w)
	return w
}

// resume removes and returns the oldest waiter, or nil if there is none.
func (wl *waiterList) resume() *waiter {
	el := wl.l.Front()
	if el == nil {
		return nil
	}
	w := wl.l.Remove(el).(*waiter)
	w.el = nil
	return w
}

// cancel withdraws w. It reports false when w was already resumed, in which
// case a handoff is waiting in w.ch.
func (wl *waiterList) cancel(w *waiter) bool {
	if w.el == nil {
		return false
	}
	wl.l.Remove(w.el)
	w.el = nil
	return true
}

func (wl *waiterList) len() int { return wl.l.Len() }
