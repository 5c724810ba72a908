// Package worker provides async alert processing off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// AlertWorker consumes flagged predictions from the event bus and
// persists them as alerts. Runs out of the request path so scoring
// latency does not pay for alert writes.
type AlertWorker struct {
	bus  domain.EventBus
	repo domain.Repository

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewAlertWorker creates a new alert worker.
func NewAlertWorker(bus domain.EventBus, repo domain.Repository) *AlertWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &AlertWorker{
		bus:    bus,
		repo:   repo,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the flagged-prediction topic.
func (w *AlertWorker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicPredictionFlagged, w.handleFlagged)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("alert worker started",
		"topic", domain.TopicPredictionFlagged,
	)
	return nil
}

// handleFlagged turns one flagged prediction into a persisted alert.
func (w *AlertWorker) handleFlagged(ctx context.Context, msg *domain.Message) error {
	var pred domain.Prediction
	if err := json.Unmarshal(msg.Payload, &pred); err != nil {
		slog.Error("failed to parse flagged prediction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	alert := &domain.Alert{
		ID:           uuid.New().String(),
		PredictionID: pred.ID,
		RiskScore:    pred.FraudRiskScore,
		Reasons:      pred.Reasons,
		CreatedAt:    time.Now().UTC(),
	}

	if w.repo != nil {
		if err := w.repo.SaveAlert(ctx, alert); err != nil {
			slog.Error("failed to save alert",
				"prediction_id", pred.ID,
				"error", err,
			)
			return err
		}
	}

	metrics.AlertsTotal.Inc()

	slog.Info("alert raised",
		"alert_id", alert.ID,
		"prediction_id", pred.ID,
		"risk_score", pred.FraudRiskScore,
		"reasons", pred.Reasons,
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *AlertWorker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("alert worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *AlertWorker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
