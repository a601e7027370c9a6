package engine

import (
	"context"
	"sort"
	"sync"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/scoring"
	"liqzones/pkg/errors"
)

// alignmentTolerance is the relative distance at which zones of two timeframes agree
const alignmentTolerance = 0.005

// MultiTimeframe runs the pipeline once per timeframe, using the timeframe
// length as lookback window, and scores how many other timeframes place a zone
// near the same price. An empty list means every timeframe.
//
// Runs share one snapshot and do not touch history or the last computed zones.
func (e *Engine) MultiTimeframe(ctx context.Context, timeframes []string, opts ComputeOptions) ([]zone.Zone, error) {
	tfs, err := zone.ValidateTimeframes(timeframes)
	if err != nil {
		return nil, err
	}
	opts = e.cfg.resolve(opts)
	if _, _, err := scoring.ParseMinQuality(opts.MinQuality); err != nil {
		return nil, err
	}

	snap := e.snapshot()
	now := e.clock()

	limit := e.cfg.MaxParallelTimeframes
	if limit <= 0 {
		limit = 1
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, limit)
	results := make([][]zone.Zone, len(tfs))
	errs := make([]error, len(tfs))

	for i, tf := range tfs {
		i, tf := i, tf
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				errs[i] = ctx.Err()
				return
			}
			defer func() { <-semaphore }()

			tfOpts := opts
			tfOpts.WindowMinutes, _ = zone.TimeframeMinutes(tf)
			results[i], errs[i] = e.compute(snap, tfOpts, now, tf)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "timeframe %s", tfs[i])
		}
	}

	var combined []zone.Zone
	for _, zs := range results {
		combined = append(combined, zs...)
	}
	if len(combined) == 0 {
		return []zone.Zone{}, nil
	}

	scoreAlignment(combined, tfs, results)
	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].AlignmentScore != combined[j].AlignmentScore {
			return combined[i].AlignmentScore > combined[j].AlignmentScore
		}
		return combined[i].QualityScore > combined[j].QualityScore
	})

	e.log.Debugw("Multi-timeframe zones computed", "timeframes", len(tfs), "zones", len(combined))
	return combined, nil
}

// scoreAlignment sets the share of other timeframes with a zone within tolerance
func scoreAlignment(combined []zone.Zone, tfs []string, perTF [][]zone.Zone) {
	others := len(tfs) - 1
	for i := range combined {
		z := &combined[i]
		if others <= 0 {
			z.AlignmentScore = 0
			continue
		}

		tol := z.PriceMean * alignmentTolerance
		nearby := 0
		for j, tf := range tfs {
			if tf == z.Timeframe {
				continue
			}
			for _, o := range perTF[j] {
				if o.PriceMean >= z.PriceMean-tol && o.PriceMean <= z.PriceMean+tol {
					nearby++
					break
				}
			}
		}
		z.AlignmentScore = float64(nearby) / float64(others) * 100
	}
}
