//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel fraud
// scoring engine.
//
// These tests exercise the COMPLETE prediction pipeline:
//
//	Transaction → Feature Encoding → Scaling → Isolation Forest →
//	Risk Mapping → Reasons → Persistence → Alerting
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. TRANSACTION: An open JSON object. Six fields feed the model
//    (amount, hour_of_day, day_of_week, payment_method,
//    transaction_type, location); everything else is ignored.
//
// 2. MODEL: An isolation forest over standardized features, trained on
//    synthetic data at first boot and persisted to disk. Outputs a
//    binary prediction (-1 anomaly / +1 normal) plus a continuous
//    anomaly score.
//
// 3. RISK SCORE: The anomaly output mapped to [0, 100]:
//    - anomalies land in [70, 100] and are always flagged
//    - normal transactions land in [0, 50]
//
// 4. REASONS: CEL rules over the encoded input, surfaced only on
//    flagged predictions (high amount, unusual hours, model anomaly).
//
// 5. ALERT: Flagged predictions flow through the event bus to the
//    alert worker, which persists them for review.
//
// The tests boot the full server in-process over SQLite, an LRU cache,
// and a channel bus; no external services are required.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// PredictResponse is what POST /predict returns.
type PredictResponse struct {
	FraudRiskScore float64  `json:"fraud_risk_score"`
	IsFlagged      bool     `json:"is_flagged"`
	Reasons        []string `json:"reasons"`
	AnomalyScore   float64  `json:"anomaly_score"`
}

// HealthResponse is what GET /health returns.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

type testStack struct {
	server *httptest.Server
	repo   domain.Repository
	store  *model.Store
}

// newTestStack boots the whole service in-process. With initModel false
// the model store stays untrained, mimicking a boot that has not
// finished initialization.
func newTestStack(t *testing.T, initModel bool) *testStack {
	t.Helper()

	dir := t.TempDir()
	store := model.NewStore(domain.ModelConfig{
		ModelPath:     filepath.Join(dir, "fraud_model.json"),
		ScalerPath:    filepath.Join(dir, "scaler.json"),
		Samples:       2000,
		FraudFraction: 0.1,
		Estimators:    50,
		Contamination: 0.1,
		Seed:          42,
	})
	if initModel {
		if err := store.Init(context.Background()); err != nil {
			t.Fatalf("model init failed: %v", err)
		}
	}

	engine, err := rules.NewEngine(rules.BuiltinReasonRules())
	if err != nil {
		t.Fatalf("reason engine failed: %v", err)
	}
	scorer := scoring.NewScorer(store, engine)

	tmpFile, err := os.CreateTemp("", "kestrel-integration-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("repository failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	alertWorker := worker.NewAlertWorker(eventBus, repo)
	if err := alertWorker.Start(); err != nil {
		t.Fatalf("alert worker failed: %v", err)
	}
	t.Cleanup(func() { alertWorker.Stop() })

	srv := api.NewServer(domain.ServerConfig{Host: "localhost", Port: 5001, ReadTimeout: 30, WriteTimeout: 30},
		scorer, store, repo, cache.NewLRUCache(1000), eventBus, "integration-test")

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testStack{server: ts, repo: repo, store: store}
}

func (s *testStack) predict(t *testing.T, tx map[string]any) (int, PredictResponse, http.Header) {
	t.Helper()

	body, _ := json.Marshal(tx)
	resp, err := http.Post(s.server.URL+"/predict", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("predict request failed: %v", err)
	}
	defer resp.Body.Close()

	var out PredictResponse
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
	}
	return resp.StatusCode, out, resp.Header
}

func TestHealthReflectsModelState(t *testing.T) {
	t.Run("BeforeInit", func(t *testing.T) {
		stack := newTestStack(t, false)

		resp, err := http.Get(stack.server.URL + "/health")
		if err != nil {
			t.Fatalf("health request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("health must always be 200, got %d", resp.StatusCode)
		}

		var health HealthResponse
		json.NewDecoder(resp.Body).Decode(&health)
		if health.Status != "healthy" {
			t.Errorf("expected status healthy, got %q", health.Status)
		}
		if health.ModelLoaded {
			t.Error("model_loaded must be false before init")
		}
	})

	t.Run("AfterInit", func(t *testing.T) {
		stack := newTestStack(t, true)

		resp, err := http.Get(stack.server.URL + "/health")
		if err != nil {
			t.Fatalf("health request failed: %v", err)
		}
		defer resp.Body.Close()

		var health HealthResponse
		json.NewDecoder(resp.Body).Decode(&health)
		if !health.ModelLoaded {
			t.Error("model_loaded must be true after init")
		}
	})
}

func TestPredictContract(t *testing.T) {
	stack := newTestStack(t, true)

	t.Run("ScoreBounds", func(t *testing.T) {
		transactions := []map[string]any{
			{"amount": 50.0, "hour_of_day": 10, "payment_method": "credit_card"},
			{"amount": 2000.0, "hour_of_day": 18, "transaction_type": "withdrawal"},
			{"amount": 300000.0, "hour_of_day": 2, "payment_method": "other", "location_country": "KP"},
			{},
		}

		for _, tx := range transactions {
			status, resp, _ := stack.predict(t, tx)
			if status != http.StatusOK {
				t.Fatalf("expected 200, got %d for %v", status, tx)
			}

			if resp.FraudRiskScore < 0 || resp.FraudRiskScore > 100 {
				t.Errorf("score out of range: %v", resp.FraudRiskScore)
			}

			// Rounded to two decimal digits
			scaled := resp.FraudRiskScore * 100
			if math.Abs(scaled-math.Round(scaled)) > 1e-9 {
				t.Errorf("score not rounded to 2 digits: %v", resp.FraudRiskScore)
			}

			// Flag is exactly score >= 70
			if resp.IsFlagged != (resp.FraudRiskScore >= 70) {
				t.Errorf("flag inconsistent: score %v, flagged %v", resp.FraudRiskScore, resp.IsFlagged)
			}

			// Anomalies land in [70,100], normal in [0,50]
			if resp.IsFlagged && resp.FraudRiskScore < 70 {
				t.Errorf("flagged prediction below band: %v", resp.FraudRiskScore)
			}
			if !resp.IsFlagged && resp.FraudRiskScore > 50 {
				t.Errorf("unflagged prediction above normal band: %v", resp.FraudRiskScore)
			}

			// Reasons only when flagged, and always a list
			if resp.Reasons == nil {
				t.Error("reasons must never be null")
			}
			if !resp.IsFlagged && len(resp.Reasons) != 0 {
				t.Errorf("unflagged prediction carries reasons: %v", resp.Reasons)
			}
		}
	})

	t.Run("DeterministicForSameInput", func(t *testing.T) {
		tx := map[string]any{"amount": 812.5, "hour_of_day": 11, "location_country": "DE"}

		_, first, _ := stack.predict(t, tx)
		_, second, _ := stack.predict(t, tx)

		if first.FraudRiskScore != second.FraudRiskScore || first.AnomalyScore != second.AnomalyScore {
			t.Errorf("same input scored differently: %+v vs %+v", first, second)
		}
	})

	t.Run("ExtremeTransactionFlaggedWithReasons", func(t *testing.T) {
		status, resp, _ := stack.predict(t, map[string]any{
			"amount":           500000.0,
			"hour_of_day":      3,
			"payment_method":   "other",
			"transaction_type": "transfer",
			"location_country": "KP",
		})

		if status != http.StatusOK {
			t.Fatalf("expected 200, got %d", status)
		}
		if !resp.IsFlagged {
			t.Fatalf("expected flag, score %v", resp.FraudRiskScore)
		}
		if len(resp.Reasons) == 0 {
			t.Error("flagged prediction without reasons")
		}
	})
}

func TestPredictErrorBodies(t *testing.T) {
	t.Run("ModelNotInitialized", func(t *testing.T) {
		stack := newTestStack(t, false)

		body, _ := json.Marshal(map[string]any{"amount": 100.0})
		resp, err := http.Post(stack.server.URL+"/predict", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", resp.StatusCode)
		}

		var errBody map[string]string
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody["error"] != "Model not initialized" {
			t.Errorf("expected exact error body, got %q", errBody["error"])
		}
	})

	t.Run("PredictionFailed", func(t *testing.T) {
		stack := newTestStack(t, true)

		body, _ := json.Marshal(map[string]any{"amount": []int{1, 2, 3}})
		resp, err := http.Post(stack.server.URL+"/predict", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", resp.StatusCode)
		}

		var errBody map[string]string
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody["error"] != "Prediction failed" {
			t.Errorf("expected 'Prediction failed', got %q", errBody["error"])
		}
		if errBody["message"] == "" {
			t.Error("expected failure message")
		}
	})
}

func TestPredictionPersistenceAndAlerting(t *testing.T) {
	stack := newTestStack(t, true)
	ctx := context.Background()

	status, resp, headers := stack.predict(t, map[string]any{
		"amount":           500000.0,
		"hour_of_day":      2,
		"payment_method":   "other",
		"transaction_type": "transfer",
		"location_country": "KP",
	})
	if status != http.StatusOK {
		t.Fatalf("predict failed: %d", status)
	}
	if !resp.IsFlagged {
		t.Fatalf("expected flagged prediction, score %v", resp.FraudRiskScore)
	}

	predID := headers.Get("X-Prediction-ID")
	if predID == "" {
		t.Fatal("missing X-Prediction-ID header")
	}

	// Prediction is persisted and retrievable over the API
	getResp, err := http.Get(stack.server.URL + "/predictions/" + predID)
	if err != nil {
		t.Fatalf("get prediction failed: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 fetching prediction, got %d", getResp.StatusCode)
	}

	var stored domain.Prediction
	json.NewDecoder(getResp.Body).Decode(&stored)
	if stored.FraudRiskScore != resp.FraudRiskScore {
		t.Errorf("stored score %v differs from response %v", stored.FraudRiskScore, resp.FraudRiskScore)
	}

	// The alert worker picks the flagged prediction off the bus
	var alerts []*domain.Alert
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		alerts, err = stack.repo.ListAlerts(ctx, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(alerts) == 0 {
		t.Fatal("expected an alert for the flagged prediction")
	}
	if alerts[0].PredictionID != predID {
		t.Errorf("alert links %s, want %s", alerts[0].PredictionID, predID)
	}
}

func TestModelArtifactReuse(t *testing.T) {
	dir := t.TempDir()
	cfg := domain.ModelConfig{
		ModelPath:     filepath.Join(dir, "fraud_model.json"),
		ScalerPath:    filepath.Join(dir, "scaler.json"),
		Samples:       2000,
		FraudFraction: 0.1,
		Estimators:    50,
		Contamination: 0.1,
		Seed:          42,
	}

	first := model.NewStore(cfg)
	if err := first.Init(context.Background()); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if first.Info().LoadedFromDisk {
		t.Error("first boot must train, not load")
	}

	second := model.NewStore(cfg)
	if err := second.Init(context.Background()); err != nil {
		t.Fatalf("second init failed: %v", err)
	}
	if !second.Info().LoadedFromDisk {
		t.Error("second boot must load persisted artifacts")
	}

	v := domain.FeatureVector{1500, 14, 3, 1, 0, 4}
	p1, s1, err := first.Score(v)
	if err != nil {
		t.Fatalf("first score failed: %v", err)
	}
	p2, s2, err := second.Score(v)
	if err != nil {
		t.Fatalf("second score failed: %v", err)
	}
	if p1 != p2 || s1 != s2 {
		t.Errorf("reloaded model scores differently: (%d, %v) vs (%d, %v)", p1, s1, p2, s2)
	}
}
