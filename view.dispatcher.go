package bus

import (
	"cmp"
	"slices"
	"sync"
)

const (
	PriorityResponseAdapter = 0
	PriorityReplyFormatter  = -128
)

// ViewSubscriber gets a look at every handler result before it's replied.
type ViewSubscriber interface {
	OnView(*ViewEvent) error
}

type ViewFunc func(*ViewEvent) error

func (f ViewFunc) OnView(ev *ViewEvent) error {
	return f(ev)
}

type subscription struct {
	sub      ViewSubscriber
	priority int
	seq      int
}

// ViewDispatcher runs subscribers by descending priority, registration order
// on ties.
type ViewDispatcher struct {
	mu   sync.RWMutex
	subs []subscription
	seq  int
}

func NewViewDispatcher() *ViewDispatcher {
	return &ViewDispatcher{}
}

func (d *ViewDispatcher) Subscribe(sub ViewSubscriber, priority int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.seq++
	d.subs = append(d.subs, subscription{
		sub:      sub,
		priority: priority,
		seq:      d.seq,
	})
	slices.SortStableFunc(d.subs, func(a, b subscription) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
}

func (d *ViewDispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

// Dispatch stops at the first subscriber that errors or stops propagation.
// Subscriber errors are returned as-is.
func (d *ViewDispatcher) Dispatch(ev *ViewEvent) error {
	d.mu.RLock()
	subs := slices.Clone(d.subs)
	d.mu.RUnlock()

	for _, s := range subs {
		if ev.IsPropagationStopped() {
			break
		}
		if err := s.sub.OnView(ev); err != nil {
			return err
		}
		if ev.responder == nil && ev.HasResponse() {
			ev.responder = s.sub
		}
	}
	return nil
}
