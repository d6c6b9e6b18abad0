// Package hub fans segment-metadata events out to realtime subscribers.
// It is transport agnostic; the websocket layer owns the connections and
// registers one Subscription per connection.
package hub

import (
	"context"
	"sync"

	"github.com/mkorchagin/camstream/internal/logging"
	"github.com/mkorchagin/camstream/internal/server/models"
)

// subscriptionBuffer bounds the per-subscriber event queue. A subscriber
// that falls behind loses events rather than stalling ingestion.
const subscriptionBuffer = 16

// Hub is a registry of device-event subscriptions. The zero value is not
// usable; call NewHub.
type Hub struct {
	logger logging.Logger

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscription is a single consumer's view of the hub, typically one per
// websocket connection. It can follow several devices at once; all their
// events arrive on one channel.
type Subscription struct {
	hub    *Hub
	events chan *models.SegmentEvent

	mu      sync.Mutex
	devices map[string]struct{}
	closed  bool
}

// NewSubscription creates an empty subscription. It receives nothing until
// Add is called.
func (h *Hub) NewSubscription() *Subscription {
	return &Subscription{
		hub:     h,
		events:  make(chan *models.SegmentEvent, subscriptionBuffer),
		devices: make(map[string]struct{}),
	}
}

// NotifySegment delivers the event to every current subscriber of the
// device. Delivery is best effort and never blocks: a subscriber whose
// queue is full is skipped.
func (h *Hub) NotifySegment(deviceID string, event *models.SegmentEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[deviceID] {
		select {
		case sub.events <- event:
		default:
			h.logger.Warn(context.Background(), "dropping segment event for slow subscriber", "device_id", deviceID)
		}
	}
}

// SubscriberCount reports how many subscriptions currently follow deviceID.
func (h *Hub) SubscriberCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deviceID])
}

func (h *Hub) add(deviceID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[deviceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[deviceID] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(deviceID string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[deviceID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, deviceID)
	}
}

// Events is the subscription's receive channel. It is closed by Close.
func (s *Subscription) Events() <-chan *models.SegmentEvent {
	return s.events
}

// Add starts delivering events for deviceID to this subscription. Adding
// the same device twice is a no-op, as is adding to a closed subscription.
// The caller must verify ownership before calling Add.
func (s *Subscription) Add(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.devices[deviceID]; ok {
		return
	}
	s.devices[deviceID] = struct{}{}
	s.hub.add(deviceID, s)
}

// Close detaches the subscription from every device and closes the event
// channel. It is safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for deviceID := range s.devices {
		s.hub.remove(deviceID, s)
	}
	s.devices = nil
	close(s.events)
}
