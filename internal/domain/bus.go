package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS (multi node).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// QueueSubscribe registers a handler in a queue group. Each message is
	// delivered to one member of the group.
	QueueSubscribe(ctx context.Context, topic, queue string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `validate:"oneof=channel nats"`

	// Channel settings
	ChannelBufferSize int

	// NATS settings
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topics published and consumed by the risk engine.
const (
	TopicFactsChanged     = "donwatcher.facts.changed"
	TopicRiskRecalculated = "donwatcher.risk.recalculated"
	TopicRiskDegrading    = "donwatcher.risk.degrading"
)

// FactsChangedEvent announces that group facts for a domain changed.
// Every node invalidates the domain; Recalculate asks for a fresh assessment.
type FactsChangedEvent struct {
	Domain      string `json:"domain"`
	Reason      string `json:"reason"`
	Recalculate bool   `json:"recalculate"`
}
