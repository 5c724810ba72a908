// Package scoring converts raw model output into the bounded fraud risk
// score and runs the prediction pipeline: encode, standardize, predict,
// map, explain.
package scoring

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// FlagThreshold is the risk score at and above which a transaction is
// flagged. The anomaly branch of the risk mapping floors at this same
// value, so model anomalies always flag.
const FlagThreshold = 70.0

// RiskScore maps a binary prediction (-1 anomaly, +1 normal) and a
// continuous anomaly score to a risk score in [0, 100], rounded to two
// decimal digits. Anomalies land in [70, 100]; normal transactions in
// [0, 50].
func RiskScore(prediction int, anomalyScore float64) float64 {
	var risk float64
	if prediction == -1 {
		risk = clamp(50-anomalyScore*100, FlagThreshold, 100)
	} else {
		risk = clamp(30+anomalyScore*20, 0, 50)
	}
	return math.Round(risk*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Scorer runs the full prediction pipeline against the immutable model
// pair. Safe for concurrent use.
type Scorer struct {
	encoder *feature.Encoder
	store   *model.Store
	reasons *rules.Engine
}

// NewScorer creates a scorer over the given model store and reason
// engine.
func NewScorer(store *model.Store, reasons *rules.Engine) *Scorer {
	return &Scorer{
		encoder: feature.NewEncoder(),
		store:   store,
		reasons: reasons,
	}
}

// Score evaluates one transaction. Returns domain.ErrModelNotReady when
// called before initialization, or a *domain.ScoringError for any
// per-request failure.
func (s *Scorer) Score(ctx context.Context, tx domain.Transaction) (*domain.Prediction, error) {
	if !s.store.Ready() {
		return nil, domain.ErrModelNotReady
	}

	v, err := s.encoder.Encode(tx)
	if err != nil {
		return nil, &domain.ScoringError{Err: err}
	}

	prediction, anomalyScore, err := s.store.Score(v)
	if err != nil {
		return nil, err
	}

	risk := RiskScore(prediction, anomalyScore)
	flagged := risk >= FlagThreshold

	// Reasons are only surfaced on flagged transactions; the response
	// carries an empty list otherwise even when conditions match.
	reasons := []string{}
	if flagged {
		matched, err := s.reasons.Evaluate(&rules.Input{
			Amount:       v[domain.FeatureAmount],
			HourOfDay:    integralHour(v[domain.FeatureHourOfDay]),
			DayOfWeek:    int(v[domain.FeatureDayOfWeek]),
			Prediction:   prediction,
			AnomalyScore: anomalyScore,
			RiskScore:    risk,
		})
		if err != nil {
			return nil, &domain.ScoringError{Err: err}
		}
		if matched != nil {
			reasons = matched
		}
	}

	return &domain.Prediction{
		ID:             uuid.New().String(),
		FraudRiskScore: risk,
		IsFlagged:      flagged,
		Reasons:        reasons,
		AnomalyScore:   anomalyScore,
		Features:       v,
		Transaction:    tx,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// integralHour converts the hour feature for rule matching. Fractional
// hours never fall in the unusual-hours set.
func integralHour(h float64) int {
	if h != math.Trunc(h) {
		return -1
	}
	return int(h)
}
