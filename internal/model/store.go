package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store owns the lifecycle of the fitted (forest, scaler) pair. Init
// runs exactly once per process, before the server accepts traffic;
// afterwards the pair is immutable and reads need no locking.
type Store struct {
	cfg domain.ModelConfig

	ready  atomic.Bool
	forest *IsolationForest
	scaler *StandardScaler

	trainedAt time.Time
	loaded    bool // true when artifacts were loaded rather than trained
}

// NewStore creates an uninitialized model store.
func NewStore(cfg domain.ModelConfig) *Store {
	return &Store{cfg: cfg}
}

// Init loads persisted artifacts if both exist, otherwise trains a new
// model on the synthetic set and persists both artifacts. Any failure
// is fatal to startup: the returned error is an *domain.InitError and
// the store never becomes ready.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()

	if artifactsExist(s.cfg.ModelPath, s.cfg.ScalerPath) {
		if err := s.load(); err != nil {
			return err
		}
		s.loaded = true
		slog.Info("model artifacts loaded",
			"model_path", s.cfg.ModelPath,
			"scaler_path", s.cfg.ScalerPath,
			"estimators", s.forest.Estimators,
		)
	} else {
		if err := s.train(ctx); err != nil {
			return err
		}
		slog.Info("model trained and saved",
			"samples", s.cfg.Samples,
			"estimators", s.cfg.Estimators,
			"contamination", s.cfg.Contamination,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	s.trainedAt = time.Now().UTC()
	s.ready.Store(true)
	return nil
}

// Ready reports whether initialization has completed successfully.
func (s *Store) Ready() bool {
	return s.ready.Load()
}

// Score standardizes a feature vector and runs it through the forest.
// Returns the binary prediction (-1 anomaly, +1 normal) and the
// continuous anomaly score.
func (s *Store) Score(v domain.FeatureVector) (prediction int, anomalyScore float64, err error) {
	if !s.ready.Load() {
		return 0, 0, domain.ErrModelNotReady
	}

	scaled, err := s.scaler.TransformOne(v[:])
	if err != nil {
		return 0, 0, &domain.ScoringError{Err: err}
	}

	return s.forest.Predict(scaled), s.forest.ScoreSamples(scaled), nil
}

// Info describes the loaded model for logs and diagnostics.
type Info struct {
	Estimators     int       `json:"estimators"`
	SubsampleSize  int       `json:"subsampleSize"`
	Contamination  float64   `json:"contamination"`
	Seed           int64     `json:"seed"`
	LoadedFromDisk bool      `json:"loadedFromDisk"`
	ReadyAt        time.Time `json:"readyAt"`
}

// Info returns model metadata. Zero value until ready.
func (s *Store) Info() Info {
	if !s.ready.Load() {
		return Info{}
	}
	return Info{
		Estimators:     s.forest.Estimators,
		SubsampleSize:  s.forest.SubsampleSize,
		Contamination:  s.forest.Contamination,
		Seed:           s.forest.Seed,
		LoadedFromDisk: s.loaded,
		ReadyAt:        s.trainedAt,
	}
}

func (s *Store) train(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &domain.InitError{Stage: "generate", Err: err}
	}

	data := GenerateTrainingSet(s.cfg.Samples, s.cfg.FraudFraction, s.cfg.Seed)
	if len(data) == 0 {
		return &domain.InitError{Stage: "generate", Err: errors.New("empty training set")}
	}

	scaler := NewStandardScaler()
	scaled, err := scaler.FitTransform(data)
	if err != nil {
		return &domain.InitError{Stage: "fit", Err: err}
	}

	forest := NewIsolationForest(s.cfg.Estimators, s.cfg.Contamination, s.cfg.Seed)
	if err := forest.Fit(scaled); err != nil {
		return &domain.InitError{Stage: "fit", Err: err}
	}

	if err := writeArtifact(s.cfg.ModelPath, forest); err != nil {
		return &domain.InitError{Stage: "persist", Err: err}
	}
	if err := writeArtifact(s.cfg.ScalerPath, scaler); err != nil {
		return &domain.InitError{Stage: "persist", Err: err}
	}

	s.forest = forest
	s.scaler = scaler
	return nil
}

func (s *Store) load() error {
	forest := &IsolationForest{}
	if err := readArtifact(s.cfg.ModelPath, forest); err != nil {
		return &domain.InitError{Stage: "load", Err: err}
	}

	scaler := &StandardScaler{}
	if err := readArtifact(s.cfg.ScalerPath, scaler); err != nil {
		return &domain.InitError{Stage: "load", Err: err}
	}

	s.forest = forest
	s.scaler = scaler
	return nil
}

func artifactsExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

func writeArtifact(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}

func readArtifact(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse artifact %s: %w", path, err)
	}
	return nil
}
