package reconciler

import (
	"time"

	"github.com/vitwit/payterm/types"
)

type ChangeKind string

const (
	ChangeCreated   ChangeKind = "created"
	ChangePaid      ChangeKind = "paid"
	ChangeCancelled ChangeKind = "cancelled"
	ChangeCleared   ChangeKind = "cleared"
	ChangeUpdated   ChangeKind = "updated"
)

// Change describes a transition of the active transaction between two
// successful fetches.
type Change struct {
	Network  types.Network      `json:"network"`
	Kind     ChangeKind         `json:"kind"`
	Previous *types.Transaction `json:"previous,omitempty"`
	Current  *types.Transaction `json:"current,omitempty"`
	At       time.Time          `json:"at"`
}

func classify(prev, cur *types.Transaction) (ChangeKind, bool) {
	switch {
	case prev == nil && cur == nil:
		return "", false
	case cur == nil:
		return ChangeCleared, true
	case prev == nil || prev.ID != cur.ID:
		return ChangeCreated, true
	case !prev.Paid && cur.Paid:
		return ChangePaid, true
	case !prev.Cancelled && cur.Cancelled:
		return ChangeCancelled, true
	case !prev.Equal(cur):
		return ChangeUpdated, true
	}
	return "", false
}

// Subscribe registers fn for active transaction changes. Changes are
// delivered in order on a goroutine of their own, outside the polling loop,
// so a callback may call Stop. A slow callback delays later changes.
func (r *Reconciler) Subscribe(fn func(Change)) (unsubscribe func()) {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Reconciler) notify(ch Change) {
	r.logger.Info("active transaction changed", map[string]any{
		"kind": ch.Kind,
		"id":   changeID(ch),
	})

	r.queueMu.Lock()
	r.queue = append(r.queue, ch)
	if r.delivering {
		r.queueMu.Unlock()
		return
	}
	r.delivering = true
	r.queueMu.Unlock()

	go r.deliver()
}

// deliver drains the queue and exits once it is empty.
func (r *Reconciler) deliver() {
	for {
		r.queueMu.Lock()
		if len(r.queue) == 0 {
			r.delivering = false
			r.queueMu.Unlock()
			return
		}
		ch := r.queue[0]
		r.queue = r.queue[1:]
		r.queueMu.Unlock()

		r.subMu.Lock()
		subs := make([]func(Change), 0, len(r.subs))
		for _, fn := range r.subs {
			subs = append(subs, fn)
		}
		r.subMu.Unlock()

		for _, fn := range subs {
			fn(ch)
		}
	}
}

func changeID(ch Change) string {
	if ch.Current != nil {
		return ch.Current.ID
	}
	if ch.Previous != nil {
		return ch.Previous.ID
	}
	return ""
}
