// Package worker consumes fact change events and keeps the risk cache honest.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rival420/donwatcher/internal/domain"
)

// RecalculateQueue is the queue group that performs requested recalculations,
// so one node recomputes while every node invalidates.
const RecalculateQueue = "donwatcher-recalculate"

// RiskService is the part of the engine the worker drives.
type RiskService interface {
	Invalidate(ctx context.Context, domain string) error
	Recalculate(ctx context.Context, domain string) (*domain.GlobalRiskScore, error)
}

// Worker processes fact change events from the EventBus.
type Worker struct {
	bus domain.EventBus
	svc RiskService

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new event worker.
func NewWorker(bus domain.EventBus, svc RiskService) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		svc:    svc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to fact change events.
func (w *Worker) Start() error {
	invalidate, err := w.bus.Subscribe(w.ctx, domain.TopicFactsChanged, w.handleInvalidate)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicFactsChanged, err)
	}

	recalc, err := w.bus.QueueSubscribe(w.ctx, domain.TopicFactsChanged, RecalculateQueue, w.handleRecalculate)
	if err != nil {
		_ = invalidate.Unsubscribe()
		return fmt.Errorf("failed to join %s queue: %w", RecalculateQueue, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, invalidate, recalc)
	w.mu.Unlock()

	slog.Info("worker started",
		"topic", domain.TopicFactsChanged,
		"queue", RecalculateQueue,
	)
	return nil
}

// handleInvalidate runs on every node.
func (w *Worker) handleInvalidate(ctx context.Context, msg *domain.Message) error {
	event, err := decode(msg)
	if err != nil {
		return err
	}

	if err := w.svc.Invalidate(ctx, event.Domain); err != nil {
		slog.Error("failed to invalidate domain",
			"domain", event.Domain,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Debug("domain invalidated",
		"domain", event.Domain,
		"reason", event.Reason,
		"message_id", msg.ID,
	)
	return nil
}

// handleRecalculate runs on one node of the queue group.
func (w *Worker) handleRecalculate(ctx context.Context, msg *domain.Message) error {
	event, err := decode(msg)
	if err != nil || !event.Recalculate {
		return err
	}

	start := time.Now()
	score, err := w.svc.Recalculate(ctx, event.Domain)
	if err != nil {
		slog.Error("event driven recalculation failed",
			"domain", event.Domain,
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	slog.Info("domain recalculated",
		"domain", event.Domain,
		"reason", event.Reason,
		"global_score", score.GlobalScore,
		"trend", score.TrendDirection,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func decode(msg *domain.Message) (domain.FactsChangedEvent, error) {
	var event domain.FactsChangedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse facts changed event",
			"message_id", msg.ID,
			"error", err,
		)
		return event, err
	}
	if event.Domain == "" {
		slog.Warn("facts changed event without domain", "message_id", msg.ID)
		return event, fmt.Errorf("%w: event has no domain", domain.ErrInvalidInput)
	}
	return event, nil
}

// Stop unsubscribes and stops handlers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
