package model

import (
	"math"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// UnusualHours is the set of hours fraud perturbation forces amounts
// into, and the set the unusual-hours reason rule checks against.
var UnusualHours = []int{0, 1, 2, 3, 22, 23}

// IsUnusualHour reports whether an hour falls in the unusual set.
func IsUnusualHour(hour int) bool {
	for _, h := range UnusualHours {
		if h == hour {
			return true
		}
	}
	return false
}

// GenerateTrainingSet synthesizes a seeded training set of plausible
// transactions with a fraction perturbed to resemble fraud. Pure: the
// same seed and parameters always produce the same rows.
//
// Baseline distribution per row:
//   - amount: log-normal, mean 5, sigma 1
//   - hour_of_day: uniform over [0,24)
//   - day_of_week: uniform over [0,7)
//   - payment/type/location codes: uniform over their code ranges
//
// Fraud perturbation (applied to a fixed random selection of rows):
// amount multiplied by a uniform factor in [5,20), hour forced into the
// unusual-hours set.
func GenerateTrainingSet(samples int, fraudFraction float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))

	data := make([][]float64, samples)
	for i := range data {
		row := make([]float64, domain.FeatureCount)
		row[domain.FeatureAmount] = math.Exp(5 + rng.NormFloat64())
		row[domain.FeatureHourOfDay] = float64(rng.Intn(24))
		row[domain.FeatureDayOfWeek] = float64(rng.Intn(7))
		row[domain.FeaturePaymentMethod] = float64(rng.Intn(5))
		row[domain.FeatureTransactionType] = float64(rng.Intn(4))
		row[domain.FeatureLocation] = float64(rng.Intn(10))
		data[i] = row
	}

	// Fixed random selection of rows to perturb
	fraudCount := int(float64(samples) * fraudFraction)
	perm := rng.Perm(samples)
	for _, idx := range perm[:fraudCount] {
		row := data[idx]
		row[domain.FeatureAmount] *= 5 + rng.Float64()*15
		row[domain.FeatureHourOfDay] = float64(UnusualHours[rng.Intn(len(UnusualHours))])
	}

	return data
}
