package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Fetcher runs a query against the backing store.
type Fetcher func(ctx context.Context, q Query) (Snapshot, error)

// Hub fans change notifications out to live subscriptions. Backends call
// Notify from their change source; each subscription re-runs its query and
// receives the whole result.
type Hub struct {
	fetch Fetcher
	log   *zap.Logger

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

func NewHub(fetch Fetcher, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		fetch: fetch,
		log:   log,
		subs:  make(map[string]map[*subscription]struct{}),
	}
}

type subscription struct {
	hub   *Hub
	query Query
	fn    func(Snapshot)

	// capacity 1: a pending refresh absorbs any further notifications
	dirty  chan struct{}
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once

	// held across the closed check and fn
	deliver sync.Mutex
}

// Subscribe registers fn and schedules the initial snapshot. The
// subscription ends on Unsubscribe or when ctx is done. Unsubscribe waits
// for a running fn, so fn must not call it synchronously.
func (h *Hub) Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s := &subscription{
		hub:   h,
		query: q,
		fn:    fn,
		dirty: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	set, ok := h.subs[q.Collection]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[q.Collection] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	s.dirty <- struct{}{}
	go s.run(ctx)

	h.log.Debug("gateway.Hub.Subscribe registered", zap.Stringer("query", q))
	return s, nil
}

// Notify marks every subscription on collection as stale.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[collection] {
		select {
		case s.dirty <- struct{}{}:
		default:
		}
	}
}

// NotifyAll marks every subscription stale, e.g. after the change source
// reconnects and may have missed notifications.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	collections := make([]string, 0, len(h.subs))
	for c := range h.subs {
		collections = append(collections, c)
	}
	h.mu.Unlock()
	for _, c := range collections {
		h.Notify(c)
	}
}

// Active returns the number of live subscriptions.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()
	for _, s := range all {
		s.Unsubscribe()
	}
}

func (h *Hub) remove(s *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[s.query.Collection]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.query.Collection)
		}
	}
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.deliver.Lock()
		s.closed.Store(true)
		s.deliver.Unlock()
		close(s.done)
		s.hub.remove(s)
	})
}

func (s *subscription) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
			return
		case <-s.done:
			return
		case <-s.dirty:
		}

		snap, err := s.hub.fetch(ctx, s.query)
		if err != nil {
			// keep whatever the subscriber already has
			if ctx.Err() == nil && !s.closed.Load() {
				s.hub.log.Warn("gateway.Hub refresh failed",
					zap.Stringer("query", s.query),
					zap.Error(err),
				)
			}
			continue
		}
		if !s.deliverSnapshot(snap) {
			return
		}
	}
}

func (s *subscription) deliverSnapshot(snap Snapshot) bool {
	s.deliver.Lock()
	defer s.deliver.Unlock()
	if s.closed.Load() {
		return false
	}
	s.fn(snap)
	return true
}
