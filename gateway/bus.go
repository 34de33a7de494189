package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Default topic names from the external interface contract.
const (
	TopicProposal  = "trade.proposal"
	TopicDecision  = "trade.decision"
	TopicExecution = "trade.executed"
)

// Message is one broker delivery.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus is the message broker boundary. The broker implementation itself is
// an external collaborator; anything satisfying this contract (with
// at-least-once delivery on the consume side) can carry the gateway.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
}

// MemBus is an in-process Bus used for wiring single-binary deployments
// and tests. Deliveries block when a subscriber's buffer is full, bounded
// by the publish context.
type MemBus struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

// NewMemBus creates an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{subs: make(map[string][]chan Message)}
}

// Subscribe registers a buffered subscriber channel for a topic.
func (b *MemBus) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 256)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch, nil
}

// Publish fans the payload out to every subscriber of the topic.
func (b *MemBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	subs := append([]chan Message(nil), b.subs[topic]...)
	b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", topic, ctx.Err())
		}
	}
	return nil
}
