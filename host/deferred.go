package host

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/chazu/nwscript/vm"
)

// Deferred is a queued script situation.
type Deferred struct {
	State    *vm.SavedState
	Period   time.Duration
	Deadline time.Time // set when the situation is initiated
}

// deferSituation queues the situation captured by the STORE_STATE preceding the
// current action. It stays pending until InitiatePending so a situation
// that queues another cannot starve the caller.
func (h *Host) deferSituation(v *vm.VM, object uint32, due time.Duration) error {
	state := v.SavedState()
	if state == nil {
		return fmt.Errorf("no saved script situation to defer")
	}
	state.Self = object
	h.pending = append(h.pending, &Deferred{State: state, Period: max(due, time.Millisecond)})
	return nil
}

// Enqueue adds an externally restored situation to the pending list.
func (h *Host) Enqueue(state *vm.SavedState, due time.Duration) {
	h.pending = append(h.pending, &Deferred{State: state, Period: max(due, time.Millisecond)})
}

// Pending returns the situations not yet initiated.
func (h *Host) Pending() []*Deferred { return h.pending }

// Scheduled returns the initiated situations that have not run yet.
func (h *Host) Scheduled() []*Deferred { return h.deferred }

// TakeAll removes and returns every queued situation, pending or
// scheduled.
func (h *Host) TakeAll() []*Deferred {
	all := append(h.deferred, h.pending...)
	h.deferred, h.pending = nil, nil
	return all
}

// InitiatePending starts the timers of every pending situation and moves
// them to the scheduled list. It reports whether any were moved.
func (h *Host) InitiatePending() bool {
	if len(h.pending) == 0 {
		return false
	}
	now := h.clock()
	for _, d := range h.pending {
		d.Deadline = now.Add(d.Period)
	}
	h.deferred = append(h.pending, h.deferred...)
	h.pending = nil
	return true
}

// RunDue runs every scheduled situation whose deadline is not after now, in
// deadline order, and returns how many ran. Situations queued while they
// run stay pending.
func (h *Host) RunDue(now time.Time) int {
	var due, rest []*Deferred
	for _, d := range h.deferred {
		if d.Deadline.After(now) {
			rest = append(rest, d)
		} else {
			due = append(due, d)
		}
	}
	h.deferred = rest
	slices.SortStableFunc(due, func(a, b *Deferred) int { return a.Deadline.Compare(b.Deadline) })
	for _, d := range due {
		_ = h.RunSituation(d.State)
	}
	return len(due)
}

// nextDeadline returns the earliest scheduled deadline.
func (h *Host) nextDeadline() (time.Time, bool) {
	if len(h.deferred) == 0 {
		return time.Time{}, false
	}
	next := h.deferred[0].Deadline
	for _, d := range h.deferred[1:] {
		if d.Deadline.Before(next) {
			next = d.Deadline
		}
	}
	return next, true
}

// RunUntilIdle services deferred situations until none remain or ctx is
// done.
func (h *Host) RunUntilIdle(ctx context.Context) error {
	for {
		h.InitiatePending()
		next, ok := h.nextDeadline()
		if !ok {
			return nil
		}
		if wait := next.Sub(h.clock()); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		h.RunDue(h.clock())
	}
}
