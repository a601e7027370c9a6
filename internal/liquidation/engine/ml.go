package engine

import (
	"fmt"

	"liqzones/internal/domain/zone"
	"liqzones/internal/metrics"
	"liqzones/internal/ml/zonepredictor"
	"liqzones/pkg/errors"
)

// DefaultSyntheticSamples is the synthetic set size used when real outcomes are scarce
const DefaultSyntheticSamples = 200

// Training data sources
const (
	SourceReal      = "real"
	SourceSynthetic = "synthetic"
)

// TrainReport is a training result tagged with where the data came from
type TrainReport struct {
	zonepredictor.TrainResult
	DataSource string `json:"data_source"`
	Warning    string `json:"warning,omitempty"`
}

// EnableML attaches a predictor. A nil predictor creates a fresh untrained one.
func (e *Engine) EnableML(p *zonepredictor.Predictor) {
	if p == nil {
		p = zonepredictor.New()
	}
	e.mu.Lock()
	e.predictor = p
	e.mu.Unlock()
}

// Predictor returns the attached predictor, nil when ML is disabled
func (e *Engine) Predictor() *zonepredictor.Predictor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.predictor
}

func (e *Engine) requirePredictor() (*zonepredictor.Predictor, error) {
	p := e.Predictor()
	if p == nil {
		return nil, errors.NewKindValidationError(errors.ErrMLDisabled, "predictor", "call EnableML first", nil)
	}
	return p, nil
}

// TrainPredictor fits the predictor on recorded outcomes when at least
// MinTrainingSamples exist. Otherwise it falls back to nSynthetic generated
// records if useSynthetic is set, and fails if not.
func (e *Engine) TrainPredictor(useSynthetic bool, nSynthetic int) (TrainReport, error) {
	p, err := e.requirePredictor()
	if err != nil {
		return TrainReport{}, err
	}

	records := e.Records()
	if len(records) >= zonepredictor.MinTrainingSamples {
		res, err := p.Train(records)
		metrics.RecordTraining(SourceReal, res.TrainAccuracy, err)
		if err != nil {
			return TrainReport{}, err
		}
		return TrainReport{TrainResult: res, DataSource: SourceReal}, nil
	}

	if !useSynthetic {
		return TrainReport{}, errors.NewKindValidationError(
			errors.ErrInsufficientSamples,
			"records",
			fmt.Sprintf("need at least %d zone lifecycle records for training, have %d", zonepredictor.MinTrainingSamples, len(records)),
			len(records),
		)
	}

	if nSynthetic <= 0 {
		nSynthetic = DefaultSyntheticSamples
	}
	now := e.clock()
	res, err := p.Train(zonepredictor.GenerateSynthetic(nSynthetic, uint64(now.UnixNano()), now))
	metrics.RecordTraining(SourceSynthetic, res.TrainAccuracy, err)
	if err != nil {
		return TrainReport{}, err
	}

	warning := fmt.Sprintf("Using synthetic data. Need %d more real zones for real training.", zonepredictor.MinTrainingSamples-len(records))
	e.log.Warnw("Zone predictor trained on synthetic data", "real_records", len(records), "synthetic", nSynthetic)
	return TrainReport{TrainResult: res, DataSource: SourceSynthetic, Warning: warning}, nil
}

// ComputeZonesWithPrediction computes zones and attaches hold/break predictions.
// currentPrice defaults to the last trade price, then to the mean zone price.
func (e *Engine) ComputeZonesWithPrediction(opts ComputeOptions, currentPrice *float64) ([]zone.Zone, error) {
	return e.withPrediction(e.ComputeZones, opts, currentPrice)
}

// PreviewZonesWithPrediction is ComputeZonesWithPrediction without recording the zones
func (e *Engine) PreviewZonesWithPrediction(opts ComputeOptions, currentPrice *float64) ([]zone.Zone, error) {
	return e.withPrediction(e.PreviewZones, opts, currentPrice)
}

func (e *Engine) withPrediction(compute func(ComputeOptions) ([]zone.Zone, error), opts ComputeOptions, currentPrice *float64) ([]zone.Zone, error) {
	p, err := e.requirePredictor()
	if err != nil {
		return nil, err
	}
	if !p.IsTrained() {
		return nil, errors.NewKindValidationError(errors.ErrModelNotTrained, "predictor", "call TrainPredictor first", nil)
	}

	zones, err := compute(opts)
	if err != nil || len(zones) == 0 {
		return zones, err
	}

	price := 0.0
	if currentPrice != nil {
		price = *currentPrice
	} else if last, ok := e.LastPrice(); ok {
		price = last
	} else {
		for _, z := range zones {
			price += z.PriceMean
		}
		price /= float64(len(zones))
	}

	return p.PredictZones(zones, price, e.clock(), e.TouchCounts(), e.FundingRate())
}

// MLMetrics summarizes recorded outcomes
func (e *Engine) MLMetrics() (zonepredictor.Metrics, error) {
	if _, err := e.requirePredictor(); err != nil {
		return zonepredictor.Metrics{}, err
	}
	return zonepredictor.ComputeMetrics(e.Records()), nil
}

// SaveModel writes the trained predictor to path
func (e *Engine) SaveModel(path string) error {
	p, err := e.requirePredictor()
	if err != nil {
		return err
	}
	return p.Save(path)
}

// LoadModel reads a predictor from path, enabling ML when it was disabled
func (e *Engine) LoadModel(path string) error {
	p := e.Predictor()
	if p == nil {
		p = zonepredictor.New()
	}
	if err := p.Load(path); err != nil {
		return err
	}
	e.EnableML(p)
	return nil
}
