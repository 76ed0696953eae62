// Package events provides the in-process event bus connecting the memory
// subsystem to the rest of the agent, and the adapter that drives
// consolidation from bus traffic.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Topics the memory subsystem participates in.
const (
	TopicSTMItemAdded       = "memory.stm_item_added"
	TopicEmotionChanged     = "emotion.state_changed"
	TopicSignificantEvent   = "perception.significant_event"
	TopicSomaticMarker      = "somatic.marker_created"
	TopicMemoryConsolidated = "memory.consolidated"
)

// Event is a single bus message.
type Event struct {
	Topic     string
	Data      map[string]any
	Timestamp time.Time
}

// Handler processes one event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(Event)

// Bus is the publish/subscribe surface the adapter binds to.
type Bus interface {
	Publish(topic string, data map[string]any)
	Subscribe(topic string, h Handler) (subscriptionID string)
	Unsubscribe(subscriptionID string)
}

type subscription struct {
	topic   string
	handler Handler
}

// InProcBus is a synchronous in-process Bus. Handlers for a topic run in
// subscription order on the caller of Publish.
type InProcBus struct {
	mu      sync.RWMutex
	subs    map[string]subscription
	byTopic map[string][]string
	now     func() time.Time
}

// NewInProcBus creates an empty bus.
func NewInProcBus() *InProcBus {
	return &InProcBus{
		subs:    make(map[string]subscription),
		byTopic: make(map[string][]string),
		now:     time.Now,
	}
}

// Publish delivers data to every subscriber of topic.
func (b *InProcBus) Publish(topic string, data map[string]any) {
	b.mu.RLock()
	ids := b.byTopic[topic]
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if sub, ok := b.subs[id]; ok {
			handlers = append(handlers, sub.handler)
		}
	}
	now := b.now()
	b.mu.RUnlock()

	event := Event{Topic: topic, Data: data, Timestamp: now}
	for _, h := range handlers {
		h(event)
	}
}

// Subscribe registers h for topic and returns an ID for Unsubscribe.
func (b *InProcBus) Subscribe(topic string, h Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.subs[id] = subscription{topic: topic, handler: h}
	b.byTopic[topic] = append(b.byTopic[topic], id)
	return id
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (b *InProcBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return
	}
	delete(b.subs, subscriptionID)

	ids := b.byTopic[sub.topic]
	for i, id := range ids {
		if id == subscriptionID {
			b.byTopic[sub.topic] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
}
