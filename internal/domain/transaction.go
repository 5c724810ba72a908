// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"time"
)

// Transaction is an incoming transaction to be scored. The input is an
// open mapping: callers may send any fields, and only the ones the
// feature encoder consumes are read. Unknown fields are ignored.
type Transaction map[string]any

// Feature vector layout. The order is fixed; the scaler and the forest
// are fitted against exactly this layout.
const (
	FeatureAmount = iota
	FeatureHourOfDay
	FeatureDayOfWeek
	FeaturePaymentMethod
	FeatureTransactionType
	FeatureLocation

	FeatureCount = 6
)

// FeatureNames gives the column names in vector order.
var FeatureNames = [FeatureCount]string{
	"amount",
	"hour_of_day",
	"day_of_week",
	"payment_method_encoded",
	"transaction_type_encoded",
	"location_encoded",
}

// FeatureVector is the fixed 6-dimensional numeric encoding of a
// transaction.
type FeatureVector [FeatureCount]float64

// Prediction is the result of scoring one transaction.
type Prediction struct {
	ID             string        `json:"id"`
	FraudRiskScore float64       `json:"fraud_risk_score"`
	IsFlagged      bool          `json:"is_flagged"`
	Reasons        []string      `json:"reasons"`
	AnomalyScore   float64       `json:"anomaly_score"`
	Features       FeatureVector `json:"features"`
	Transaction    Transaction   `json:"transaction,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Alert is a persisted record of a flagged prediction, written by the
// async alert worker.
type Alert struct {
	ID           string    `json:"id"`
	PredictionID string    `json:"predictionId"`
	RiskScore    float64   `json:"riskScore"`
	Reasons      []string  `json:"reasons"`
	CreatedAt    time.Time `json:"createdAt"`
}
