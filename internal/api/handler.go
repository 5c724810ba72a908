package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// PredictionIDHeader carries the persisted prediction ID on /predict
// responses. The body keeps the four scoring fields only.
const PredictionIDHeader = "X-Prediction-ID"

// Handler holds dependencies for API handlers.
type Handler struct {
	scorer   *scoring.Scorer
	model    *model.Store
	encoder  *feature.Encoder
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
	cacheTTL time.Duration
}

// NewHandler creates a new API handler. repo, cache, and bus may be nil;
// the predict path degrades to scoring only.
func NewHandler(scorer *scoring.Scorer, store *model.Store, repo domain.Repository, c domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		scorer:   scorer,
		model:    store,
		encoder:  feature.NewEncoder(),
		repo:     repo,
		cache:    c,
		bus:      bus,
		version:  version,
		cacheTTL: 5 * time.Minute,
	}
}

// PredictResponse is the response body for POST /predict.
type PredictResponse struct {
	FraudRiskScore float64  `json:"fraud_risk_score"`
	IsFlagged      bool     `json:"is_flagged"`
	Reasons        []string `json:"reasons"`
	AnomalyScore   float64  `json:"anomaly_score"`
}

// Predict handles POST /predict requests.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.model.Ready() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Model not initialized",
		})
		return
	}

	var tx domain.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Prediction failed",
			"message": err.Error(),
		})
		return
	}
	if tx == nil {
		tx = domain.Transaction{}
	}

	// Identical transactions encode to identical vectors; serve those
	// from the cache without rescoring.
	var features domain.FeatureVector
	if h.cache != nil {
		v, err := h.encoder.Encode(tx)
		if err == nil {
			features = v
			if cached, cerr := cache.GetPrediction(ctx, h.cache, v); cerr == nil && cached != nil {
				metrics.CacheHitsTotal.Inc()
				h.respondPrediction(w, cached)
				return
			}
			metrics.CacheMissesTotal.Inc()
		}
	}

	pred, err := h.scorer.Score(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotReady) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "Model not initialized",
			})
			return
		}
		slog.Error("prediction failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Prediction failed",
			"message": err.Error(),
		})
		return
	}

	metrics.ObservePrediction(pred.FraudRiskScore, pred.IsFlagged)

	// Persistence and event publication never fail the request.
	if h.repo != nil {
		if err := h.repo.SavePrediction(ctx, pred); err != nil {
			slog.Error("failed to save prediction",
				"prediction_id", pred.ID,
				"error", err,
			)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(pred)
		if err := h.bus.Publish(ctx, domain.TopicPredictionScored, payload); err != nil {
			slog.Error("failed to publish prediction", "error", err)
		}
		if pred.IsFlagged {
			if err := h.bus.Publish(ctx, domain.TopicPredictionFlagged, payload); err != nil {
				slog.Error("failed to publish flagged prediction", "error", err)
			}
		}
	}

	if h.cache != nil && features == pred.Features {
		if err := cache.SetPrediction(ctx, h.cache, pred, h.cacheTTL); err != nil {
			slog.Error("failed to cache prediction", "error", err)
		}
	}

	if pred.IsFlagged {
		slog.Warn("transaction flagged",
			"prediction_id", pred.ID,
			"risk_score", pred.FraudRiskScore,
			"reasons", pred.Reasons,
		)
	}

	h.respondPrediction(w, pred)
}

func (h *Handler) respondPrediction(w http.ResponseWriter, pred *domain.Prediction) {
	w.Header().Set(PredictionIDHeader, pred.ID)
	writeJSON(w, http.StatusOK, PredictResponse{
		FraudRiskScore: pred.FraudRiskScore,
		IsFlagged:      pred.IsFlagged,
		Reasons:        pred.Reasons,
		AnomalyScore:   pred.AnomalyScore,
	})
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Health returns server health status. Always 200; model state is
// reported in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelLoaded: h.model.Ready(),
	})
}

// Ready returns whether the server is ready to score traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.model.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetPrediction retrieves a persisted prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	predID := chi.URLParam(r, "id")

	if predID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "prediction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pred, err := h.repo.GetPrediction(ctx, predID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "prediction not found",
		})
		return
	}
	if err != nil {
		slog.Error("failed to get prediction", "id", predID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get prediction",
		})
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// ListPredictions returns the most recent predictions.
func (h *Handler) ListPredictions(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	predictions, err := h.repo.ListPredictions(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("failed to list predictions", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list predictions",
		})
		return
	}
	if predictions == nil {
		predictions = []*domain.Prediction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": predictions,
		"count":       len(predictions),
	})
}

// ListAlerts returns the most recent alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	alerts, err := h.repo.ListAlerts(r.Context(), queryLimit(r))
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// ModelInfo returns model metadata for operators.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.model.Info())
}

func queryLimit(r *http.Request) int {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
