package zones

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/engine"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// Handler serves read-only zone queries against the running engines
type Handler struct {
	engines map[string]*engine.Engine
	log     *logger.Logger
}

// NewHandler indexes engines by coin
func NewHandler(engines []*engine.Engine, log *logger.Logger) *Handler {
	byCoin := make(map[string]*engine.Engine, len(engines))
	for _, e := range engines {
		byCoin[strings.ToUpper(e.Coin())] = e
	}
	return &Handler{engines: byCoin, log: log}
}

// Register mounts the zone routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/zones", h.HandleZones)
	mux.HandleFunc("/api/v1/zones/nearest", h.HandleNearest)
	mux.HandleFunc("/api/v1/zones/regime", h.HandleRegime)
	mux.HandleFunc("/api/v1/ml/metrics", h.HandleMLMetrics)
}

type zonesResponse struct {
	Coin  string      `json:"coin"`
	Count int         `json:"count"`
	Zones []zone.Zone `json:"zones"`
}

// HandleZones computes zones on demand. Queries never change engine state.
//
// Query: coin (required), window, pct_merge, min_quality, skip_atr,
// timeframes (comma separated, switches to multi-timeframe), predict.
func (h *Handler) HandleZones(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	opts, err := parseOptions(q.Get("window"), q.Get("pct_merge"), q.Get("min_quality"), q.Get("skip_atr"))
	if err != nil {
		h.fail(w, err)
		return
	}

	var result []zone.Zone
	switch {
	case q.Has("timeframes"):
		var tfs []string
		if raw := strings.TrimSpace(q.Get("timeframes")); raw != "" {
			tfs = strings.Split(raw, ",")
		}
		result, err = e.MultiTimeframe(r.Context(), tfs, opts)
	case q.Get("predict") == "true":
		result, err = e.PreviewZonesWithPrediction(opts, nil)
	default:
		result, err = e.PreviewZones(opts)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if result == nil {
		result = []zone.Zone{}
	}
	writeJSON(w, http.StatusOK, zonesResponse{Coin: e.Coin(), Count: len(result), Zones: result})
}

// HandleNearest returns the last computed zone closest to price, or to the last trade
func (h *Handler) HandleNearest(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}

	var price float64
	if raw := r.URL.Query().Get("price"); raw != "" {
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil || p <= 0 {
			h.fail(w, errors.NewValidationError("price", "must be a positive number", raw))
			return
		}
		price = p
	} else if last, found := e.LastPrice(); found {
		price = last
	} else {
		h.fail(w, errors.Wrap(errors.ErrNotFound, "no price available"))
		return
	}

	z, found := e.NearestZone(price)
	if !found {
		h.fail(w, errors.Wrapf(errors.ErrNotFound, "no zones for %s", e.Coin()))
		return
	}
	writeJSON(w, http.StatusOK, z)
}

// HandleRegime reports the band width regime
func (h *Handler) HandleRegime(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.WidthRegime())
}

// HandleMLMetrics summarizes recorded zone outcomes
func (h *Handler) HandleMLMetrics(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	m, err := e.MLMetrics()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*engine.Engine, bool) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	coin := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("coin")))
	if coin == "" {
		writeError(w, http.StatusBadRequest, "coin is required")
		return nil, false
	}
	e, ok := h.engines[coin]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown coin "+coin)
		return nil, false
	}
	return e, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.log.Errorw("Zone query failed", "error", err)
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrMLDisabled), errors.Is(err, errors.ErrModelNotTrained):
		return http.StatusConflict
	case errors.IsValidation(err), errors.Is(err, errors.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseOptions(window, pctMerge, minQuality, skipATR string) (engine.ComputeOptions, error) {
	var opts engine.ComputeOptions
	if window != "" {
		v, err := strconv.Atoi(window)
		if err != nil || v <= 0 {
			return opts, errors.NewValidationError("window", "must be a positive integer", window)
		}
		opts.WindowMinutes = v
	}
	if pctMerge != "" {
		v, err := strconv.ParseFloat(pctMerge, 64)
		if err != nil || v <= 0 {
			return opts, errors.NewValidationError("pct_merge", "must be a positive number", pctMerge)
		}
		opts.PctMerge = v
	}
	if skipATR != "" {
		v, err := strconv.ParseBool(skipATR)
		if err != nil {
			return opts, errors.NewValidationError("skip_atr", "must be a boolean", skipATR)
		}
		opts.SkipATR = v
	}
	opts.MinQuality = minQuality
	return opts, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
