package zones

import (
	"context"
	"time"

	"liqzones/internal/liquidation/engine"
	"liqzones/internal/ml/zonepredictor"
	"liqzones/internal/workers"
	"liqzones/pkg/errors"
)

// ModelSaver persists a trained predictor
type ModelSaver interface {
	Save(ctx context.Context, p *zonepredictor.Predictor) error
}

// TrainerWorker periodically refits every engine's predictor and stores the model
type TrainerWorker struct {
	*workers.BaseWorker
	engines      []*engine.Engine
	stores       map[string]ModelSaver // by coin, optional
	useSynthetic bool
	nSynthetic   int
}

// NewTrainerWorker creates the trainer worker
func NewTrainerWorker(
	engines []*engine.Engine,
	stores map[string]ModelSaver,
	useSynthetic bool,
	nSynthetic int,
	interval time.Duration,
	enabled bool,
) *TrainerWorker {
	return &TrainerWorker{
		BaseWorker:   workers.NewBaseWorker("trainer_worker", interval, enabled),
		engines:      engines,
		stores:       stores,
		useSynthetic: useSynthetic,
		nSynthetic:   nSynthetic,
	}
}

// Run retrains every engine with ML enabled
func (w *TrainerWorker) Run(ctx context.Context) error {
	var errs errors.MultiError

	for _, eng := range w.engines {
		if ctx.Err() != nil {
			break
		}
		if eng.Predictor() == nil {
			continue
		}

		coin := eng.Coin()
		report, err := eng.TrainPredictor(w.useSynthetic, w.nSynthetic)
		if err != nil {
			if errors.Is(err, errors.ErrInsufficientSamples) {
				w.Log().Infow("Not enough outcomes to train yet", "coin", coin, "records", len(eng.Records()))
				continue
			}
			errs.Add(errors.Wrapf(err, "training failed for %s", coin))
			continue
		}

		w.Log().Infow("Zone predictor trained",
			"coin", coin,
			"source", report.DataSource,
			"samples", report.NSamples,
			"accuracy", report.TrainAccuracy,
			"hold_ratio", report.HoldRatio,
		)

		store, ok := w.stores[coin]
		if !ok || store == nil {
			continue
		}
		if err := store.Save(ctx, eng.Predictor()); err != nil {
			errs.Add(errors.Wrapf(err, "failed to store model for %s", coin))
		}
	}

	return errs.ToError()
}
