package model

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestGenerateTrainingSetDeterministic(t *testing.T) {
	a := GenerateTrainingSet(1000, 0.1, 42)
	b := GenerateTrainingSet(1000, 0.1, 42)

	if len(a) != 1000 || len(b) != 1000 {
		t.Fatalf("expected 1000 rows, got %d and %d", len(a), len(b))
	}

	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("row %d col %d differs: %v vs %v", i, j, a[i][j], b[i][j])
			}
		}
	}
}

func TestGenerateTrainingSetSeedMatters(t *testing.T) {
	a := GenerateTrainingSet(100, 0.1, 42)
	b := GenerateTrainingSet(100, 0.1, 43)

	same := true
	for i := range a {
		if a[i][domain.FeatureAmount] != b[i][domain.FeatureAmount] {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced identical amounts")
	}
}

func TestGenerateTrainingSetBounds(t *testing.T) {
	data := GenerateTrainingSet(5000, 0.1, 42)

	for i, row := range data {
		if len(row) != domain.FeatureCount {
			t.Fatalf("row %d has %d features", i, len(row))
		}
		if row[domain.FeatureAmount] <= 0 {
			t.Errorf("row %d amount %v not positive", i, row[domain.FeatureAmount])
		}
		if h := row[domain.FeatureHourOfDay]; h < 0 || h > 23 {
			t.Errorf("row %d hour %v out of range", i, h)
		}
		if d := row[domain.FeatureDayOfWeek]; d < 0 || d > 6 {
			t.Errorf("row %d day %v out of range", i, d)
		}
		if p := row[domain.FeaturePaymentMethod]; p < 0 || p > 4 {
			t.Errorf("row %d payment code %v out of range", i, p)
		}
		if tt := row[domain.FeatureTransactionType]; tt < 0 || tt > 3 {
			t.Errorf("row %d type code %v out of range", i, tt)
		}
		if l := row[domain.FeatureLocation]; l < 0 || l > 9 {
			t.Errorf("row %d location code %v out of range", i, l)
		}
	}
}

func TestIsUnusualHour(t *testing.T) {
	for _, h := range UnusualHours {
		if !IsUnusualHour(h) {
			t.Errorf("expected hour %d to be unusual", h)
		}
	}
	for _, h := range []int{4, 9, 12, 17, 21} {
		if IsUnusualHour(h) {
			t.Errorf("expected hour %d to be usual", h)
		}
	}
}
