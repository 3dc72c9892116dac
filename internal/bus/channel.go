// Package bus provides event bus implementations for DonWatcher.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rival420/donwatcher/internal/domain"
)

// ChannelBus implements EventBus using Go channels.
// Used by single node deployments.
type ChannelBus struct {
	mu            sync.RWMutex
	bufferSize    int
	subscriptions map[string][]*channelSubscription
	queues        map[string]*queueGroup
	closed        bool
}

type channelSubscription struct {
	id      string
	topic   string
	queue   string
	handler domain.MessageHandler
	msgCh   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
}

// queueGroup delivers each message to one member, round robin.
type queueGroup struct {
	topic   string
	members []*channelSubscription
	next    int
}

// NewChannelBus creates a new channel-based event bus.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &ChannelBus{
		bufferSize:    bufferSize,
		subscriptions: make(map[string][]*channelSubscription),
		queues:        make(map[string]*queueGroup),
	}
}

// Publish sends a message to every plain subscriber of the topic and to one
// member of each queue group.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}

	msg := &domain.Message{
		ID:        uuid.New().String(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}

	targets := append([]*channelSubscription(nil), b.subscriptions[topic]...)
	for _, g := range b.queues {
		if g.topic != topic || len(g.members) == 0 {
			continue
		}
		targets = append(targets, g.members[g.next%len(g.members)])
		g.next++
	}
	b.mu.Unlock()

	// Non-blocking: a full subscriber drops the message.
	for _, sub := range targets {
		select {
		case sub.msgCh <- msg:
		case <-sub.ctx.Done():
		default:
		}
	}

	return nil
}

// Subscribe registers a handler for a topic.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return b.subscribe(ctx, topic, "", handler)
}

// QueueSubscribe registers a handler in a queue group for a topic.
func (b *ChannelBus) QueueSubscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue is required")
	}
	return b.subscribe(ctx, topic, queue, handler)
}

func (b *ChannelBus) subscribe(ctx context.Context, topic, queue string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)

	sub := &channelSubscription{
		id:      uuid.New().String(),
		topic:   topic,
		queue:   queue,
		handler: handler,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	go sub.run()

	if queue == "" {
		b.subscriptions[topic] = append(b.subscriptions[topic], sub)
		return sub, nil
	}

	key := topic + "|" + queue
	g, ok := b.queues[key]
	if !ok {
		g = &queueGroup{topic: topic}
		b.queues[key] = g
	}
	g.members = append(g.members, sub)

	return sub, nil
}

// run processes messages until the subscription is cancelled.
func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.msgCh:
			_ = s.handler(s.ctx, msg)
		}
	}
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close cancels every subscription.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subscriptions {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	for _, g := range b.queues {
		for _, sub := range g.members {
			sub.cancel()
		}
	}

	b.subscriptions = make(map[string][]*channelSubscription)
	b.queues = make(map[string]*queueGroup)
	return nil
}

func (b *ChannelBus) remove(s *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.queue == "" {
		b.subscriptions[s.topic] = without(b.subscriptions[s.topic], s)
		return
	}

	key := s.topic + "|" + s.queue
	if g, ok := b.queues[key]; ok {
		g.members = without(g.members, s)
		if len(g.members) == 0 {
			delete(b.queues, key)
		}
	}
}

func without(subs []*channelSubscription, s *channelSubscription) []*channelSubscription {
	out := subs[:0:0]
	for _, sub := range subs {
		if sub != s {
			out = append(out, sub)
		}
	}
	return out
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
