package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestAlertWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	ctx := context.Background()

	worker := NewAlertWorker(eventBus, repo)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	// Allow subscription to be active
	time.Sleep(10 * time.Millisecond)

	pred := &domain.Prediction{
		ID:             "pred-flagged-001",
		FraudRiskScore: 92.5,
		IsFlagged:      true,
		Reasons:        []string{"Unusually high transaction amount"},
		AnomalyScore:   -0.425,
		CreatedAt:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(pred)

	if err := eventBus.Publish(ctx, domain.TopicPredictionFlagged, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Poll for the alert to land
	var alerts []*domain.Alert
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var err error
		alerts, err = repo.ListAlerts(ctx, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].PredictionID != pred.ID {
		t.Errorf("expected prediction ID %s, got %s", pred.ID, alerts[0].PredictionID)
	}
	if alerts[0].RiskScore != pred.FraudRiskScore {
		t.Errorf("expected risk score %v, got %v", pred.FraudRiskScore, alerts[0].RiskScore)
	}
	if len(alerts[0].Reasons) != 1 {
		t.Errorf("expected 1 reason, got %d", len(alerts[0].Reasons))
	}
}

func TestAlertWorkerIgnoresScoredTopic(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newTestRepo(t)
	ctx := context.Background()

	worker := NewAlertWorker(eventBus, repo)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer worker.Stop()

	time.Sleep(10 * time.Millisecond)

	pred := &domain.Prediction{ID: "pred-normal-001", FraudRiskScore: 32.0}
	payload, _ := json.Marshal(pred)

	// Unflagged predictions go to the scored topic only
	if err := eventBus.Publish(ctx, domain.TopicPredictionScored, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	alerts, err := repo.ListAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for scored topic, got %d", len(alerts))
	}
}

func TestAlertWorkerStats(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	worker := NewAlertWorker(eventBus, nil)
	if err := worker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := worker.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}
	if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicPredictionFlagged {
		t.Errorf("unexpected topics: %v", stats.Topics)
	}

	if err := worker.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if worker.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}
}
