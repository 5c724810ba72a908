// Package feature encodes raw transaction records into the fixed
// numeric feature vector the anomaly model is trained on.
package feature

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LocationHashVersion identifies the location encoding scheme. Bump it
// whenever the hash function or modulus changes, since persisted models
// are trained against a specific encoding.
const LocationHashVersion = 1

// LocationBuckets is the modulus applied to the country hash.
const LocationBuckets = 10

// Categorical code tables. Lookups are case-insensitive; unknown payment
// methods map to "other" (4) while unknown transaction types map to
// "purchase" (0). The asymmetry is deliberate.
var (
	paymentMethods = map[string]float64{
		"credit_card":   0,
		"debit_card":    1,
		"paypal":        2,
		"bank_transfer": 3,
		"other":         4,
	}

	transactionTypes = map[string]float64{
		"purchase":   0,
		"withdrawal": 1,
		"transfer":   2,
		"refund":     3,
	}
)

// Field defaults applied when the input omits a field.
const (
	defaultHourOfDay       = 12
	defaultDayOfWeek       = 0
	defaultPaymentMethod   = "other"
	defaultTransactionType = "purchase"
	defaultCountry         = "unknown"
)

// Encoder maps transactions to feature vectors. It is stateless and safe
// for concurrent use.
type Encoder struct{}

// NewEncoder creates a feature encoder.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// Encode produces the feature vector for a transaction. Missing fields
// take their documented defaults; fields of the wrong type return an
// error, surfaced to the caller as a scoring failure.
func (e *Encoder) Encode(tx domain.Transaction) (domain.FeatureVector, error) {
	var v domain.FeatureVector

	amount, err := numberField(tx, "amount", 0)
	if err != nil {
		return v, err
	}

	hour, err := numberField(tx, "hour_of_day", defaultHourOfDay)
	if err != nil {
		return v, err
	}

	day, err := numberField(tx, "day_of_week", defaultDayOfWeek)
	if err != nil {
		return v, err
	}

	payment, err := stringField(tx, "payment_method", defaultPaymentMethod)
	if err != nil {
		return v, err
	}

	txType, err := stringField(tx, "transaction_type", defaultTransactionType)
	if err != nil {
		return v, err
	}

	country, err := stringField(tx, "location_country", defaultCountry)
	if err != nil {
		return v, err
	}

	v[domain.FeatureAmount] = amount
	v[domain.FeatureHourOfDay] = hour
	v[domain.FeatureDayOfWeek] = day
	v[domain.FeaturePaymentMethod] = paymentMethodCode(payment)
	v[domain.FeatureTransactionType] = transactionTypeCode(txType)
	v[domain.FeatureLocation] = float64(LocationCode(country))

	return v, nil
}

// LocationCode hashes a country string into one of LocationBuckets
// buckets using FNV-1a over the UTF-8 bytes. The encoding is stable
// across processes and platforms.
func LocationCode(country string) int {
	h := fnv.New64a()
	h.Write([]byte(country))
	return int(h.Sum64() % LocationBuckets)
}

func paymentMethodCode(method string) float64 {
	if code, ok := paymentMethods[strings.ToLower(method)]; ok {
		return code
	}
	return paymentMethods["other"]
}

func transactionTypeCode(txType string) float64 {
	if code, ok := transactionTypes[strings.ToLower(txType)]; ok {
		return code
	}
	return transactionTypes["purchase"]
}

// numberField reads a numeric field, accepting the types a JSON decode
// can produce plus numeric strings.
func numberField(tx domain.Transaction, key string, def float64) (float64, error) {
	raw, ok := tx[key]
	if !ok || raw == nil {
		return def, nil
	}

	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("field %s: invalid number %q", key, n.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: cannot convert %q to number", key, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %s: unsupported type %T", key, raw)
	}
}

func stringField(tx domain.Transaction, key string, def string) (string, error) {
	raw, ok := tx[key]
	if !ok || raw == nil {
		return def, nil
	}

	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", key, raw)
	}
	return s, nil
}
