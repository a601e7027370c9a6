package zonepredictor

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/scoring"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// MinTrainingSamples is the smallest lifecycle history a model is fit on
const MinTrainingSamples = 20

const (
	outcomeHold  = "HOLD"
	outcomeBreak = "BREAK"
)

// Model is the persisted form of a trained predictor
type Model struct {
	Logistic
	Scaler
	FeatureNames []string `json:"feature_names"`
}

// TrainResult summarizes a training run
type TrainResult struct {
	TrainAccuracy float64 `json:"train_accuracy"`
	NSamples      int     `json:"n_samples"`
	HoldRatio     float64 `json:"hold_ratio"`
}

// Predictor estimates whether a zone will hold or break when revisited
type Predictor struct {
	mu    sync.RWMutex
	model *Model
	log   *logger.Logger
}

// New creates an untrained predictor
func New() *Predictor {
	return &Predictor{log: logger.Component("zone_predictor")}
}

// IsTrained reports whether Predict can be called
func (p *Predictor) IsTrained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.model != nil
}

// Train fits the scaler and classifier on labelled lifecycle records
func (p *Predictor) Train(records []zone.LifecycleRecord) (TrainResult, error) {
	if len(records) < MinTrainingSamples {
		return TrainResult{}, errors.NewKindValidationError(
			errors.ErrInsufficientSamples,
			"records",
			"need at least 20 zone lifecycle records for training",
			len(records),
		)
	}

	x := make([][]float64, len(records))
	y := make([]int, len(records))
	holds := 0
	for i, r := range records {
		x[i] = recordFeatures(r)
		y[i] = r.Outcome
		if r.Held() {
			holds++
		}
	}

	scaler := FitScaler(x)
	scaled := scaler.TransformAll(x)

	clf, err := FitLogistic(scaled, y, regularizationC)
	if err != nil {
		return TrainResult{}, errors.Wrap(err, "failed to fit zone predictor")
	}

	correct := 0
	for i, row := range scaled {
		pred := 0
		if clf.Probability(row) > 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
	}

	p.mu.Lock()
	p.model = &Model{Logistic: clf, Scaler: scaler, FeatureNames: append([]string(nil), FeatureNames...)}
	p.mu.Unlock()

	res := TrainResult{
		TrainAccuracy: float64(correct) / float64(len(records)),
		NSamples:      len(records),
		HoldRatio:     float64(holds) / float64(len(records)),
	}
	p.log.Infow("Zone predictor trained",
		"samples", res.NSamples,
		"accuracy", res.TrainAccuracy,
		"hold_ratio", res.HoldRatio,
	)
	return res, nil
}

// Predict returns the hold/break forecast for one zone
func (p *Predictor) Predict(z zone.Zone, ctx Context) (zone.Prediction, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	if m == nil {
		return zone.Prediction{}, errors.ErrModelNotTrained
	}

	prob := m.Probability(m.Transform(ExtractFeatures(z, ctx)))
	hold := scoring.Round(prob*100, 1)
	brk := scoring.Round((1-prob)*100, 1)

	outcome := outcomeBreak
	if hold > brk {
		outcome = outcomeHold
	}

	return zone.Prediction{
		HoldProbability:  hold,
		BreakProbability: brk,
		Confidence:       scoring.Round(math.Abs(hold-50)*2, 1),
		Outcome:          outcome,
	}, nil
}

// PredictZones attaches a prediction to a copy of every zone
func (p *Predictor) PredictZones(zones []zone.Zone, currentPrice float64, now time.Time, touches map[string]int, fundingRate float64) ([]zone.Zone, error) {
	out := make([]zone.Zone, len(zones))
	for i, z := range zones {
		pred, err := p.Predict(z, Context{
			CurrentPrice: currentPrice,
			CurrentTime:  now,
			TouchCount:   touches[zone.PriceKey(z.PriceMean)],
			FundingRate:  fundingRate,
		})
		if err != nil {
			return nil, err
		}
		z.Prediction = &pred
		out[i] = z
	}
	return out, nil
}

// MarshalModel serializes the trained model
func (p *Predictor) MarshalModel() ([]byte, error) {
	p.mu.RLock()
	m := p.model
	p.mu.RUnlock()
	if m == nil {
		return nil, errors.ErrModelNotTrained
	}
	return json.Marshal(m)
}

// UnmarshalModel replaces the model with a serialized one
func (p *Predictor) UnmarshalModel(data []byte) error {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "failed to decode zone predictor model")
	}
	if len(m.Weights) != len(FeatureNames) || len(m.Means) != len(FeatureNames) || len(m.Stds) != len(FeatureNames) {
		return errors.NewValidationError("model", "feature count mismatch", len(m.Weights))
	}

	p.mu.Lock()
	p.model = &m
	p.mu.Unlock()
	return nil
}

// Save writes the model to path as JSON
func (p *Predictor) Save(path string) error {
	data, err := p.MarshalModel()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create model dir %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write model %s", path)
	}
	p.log.Infow("Zone predictor saved", "path", path)
	return nil
}

// Load reads a model saved by Save
func (p *Predictor) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(errors.ErrNotFound, "model %s", path)
		}
		return errors.Wrapf(err, "failed to read model %s", path)
	}
	if err := p.UnmarshalModel(data); err != nil {
		return err
	}
	p.log.Infow("Zone predictor loaded", "path", path)
	return nil
}
