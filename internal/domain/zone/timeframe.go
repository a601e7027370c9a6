package zone

import (
	"strings"

	"liqzones/pkg/errors"
)

// timeframeMinutes maps the fixed lookback names to minutes
var timeframeMinutes = map[string]int{
	"1m":  1,
	"3m":  3,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"2h":  120,
	"4h":  240,
	"6h":  360,
	"8h":  480,
	"12h": 720,
	"1d":  1440,
	"3d":  4320,
	"1w":  10080,
	"1M":  43200,
}

// Timeframes lists every supported timeframe from shortest to longest
var Timeframes = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M"}

// TimeframeMinutes returns the lookback in minutes for a timeframe name
func TimeframeMinutes(name string) (int, bool) {
	m, ok := timeframeMinutes[name]
	return m, ok
}

// ValidateTimeframes checks every name and returns the list to run.
// An empty list selects all timeframes.
func ValidateTimeframes(names []string) ([]string, error) {
	if len(names) == 0 {
		out := make([]string, len(Timeframes))
		copy(out, Timeframes)
		return out, nil
	}

	for _, name := range names {
		if _, ok := timeframeMinutes[name]; !ok {
			return nil, errors.NewKindValidationError(errors.ErrUnknownTimeframe, "timeframe", "must be one of "+strings.Join(Timeframes, ", "), name)
		}
	}
	return names, nil
}
