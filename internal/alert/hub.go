package alert

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Hub fans events out to in-process subscribers (SSE streams, dashboards).
// Publish is non-blocking: a subscriber that cannot keep up has events
// dropped and logged. Subscribers re-derive the queue projection on their
// own schedule, so a dropped event delays a refresh, it never loses state.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]*subscription
	nextID int64
	onDrop func()
	logger *zap.Logger
}

type subscription struct {
	scope Scope
	ch    chan Event
}

// DefaultSubscriberBuffer is the per-subscriber channel depth.
const DefaultSubscriberBuffer = 16

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   make(map[int64]*subscription),
		logger: logger,
	}
}

// OnDrop registers a callback invoked once per dropped delivery. Used to
// feed the dropped-alerts counter. Must be called before any Notify.
func (h *Hub) OnDrop(fn func()) {
	h.onDrop = fn
}

// Subscribe registers a scoped subscriber. The returned cancel function must
// be called when the subscriber goes away; it closes the channel.
func (h *Hub) Subscribe(scope Scope) (<-chan Event, func()) {
	ch := make(chan Event, DefaultSubscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = &subscription{scope: scope, ch: ch}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Notify implements Notifier. Each matching subscriber receives the event at
// most once; delivery order across subscribers is not guaranteed.
func (h *Hub) Notify(e Event) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.scope.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
			h.logger.Warn("alert subscriber buffer full, dropping event",
				zap.String("record_id", e.RecordID),
				zap.String("kind", string(e.Kind)),
				zap.String("scope", string(sub.scope.Kind)))
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
