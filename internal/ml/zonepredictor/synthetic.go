package zonepredictor

import (
	"math"
	"math/rand/v2"
	"time"

	"liqzones/internal/domain/zone"
	"liqzones/internal/liquidation/scoring"
)

// GenerateSynthetic produces labelled lifecycle records for bootstrapping a model
// before enough real outcomes exist. The label follows a noisy weighted rule over
// quality, age, alignment, touches and tightness. Output is deterministic per seed.
func GenerateSynthetic(n int, seed uint64, now time.Time) []zone.LifecycleRecord {
	g := &sampler{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
	records := make([]zone.LifecycleRecord, 0, n)

	for i := 0; i < n; i++ {
		quality := g.beta(2, 2) * 100
		usd := math.Exp(13 + 1.5*g.r.NormFloat64())
		count := int(g.gamma(3, 2))
		spread := g.gamma(2, 0.002)

		pm := 80000 + g.r.NormFloat64()*2000
		ageHours := g.r.ExpFloat64() * 12
		alignment := g.beta(1.5, 2) * 100
		touches := g.poisson(1.5)

		lastTs := now.Add(-time.Duration(ageHours * float64(time.Hour)))
		z := zone.Zone{
			PriceMean:      pm,
			PriceMin:       pm - spread*pm/2,
			PriceMax:       pm + spread*pm/2,
			TotalUSD:       usd,
			Count:          count,
			FirstTs:        lastTs,
			LastTs:         lastTs,
			QualityScore:   quality,
			QualityLabel:   scoring.Label(quality),
			AlignmentScore: alignment,
		}

		hold := quality/100*0.4 +
			(100-ageHours)/100*0.2 +
			alignment/100*0.2 +
			(5-float64(touches))/5*0.1 +
			1/(spread*100+1)*0.1 +
			g.r.NormFloat64()*0.15

		outcome := zone.OutcomeBroke
		if hold > 0.5 {
			outcome = zone.OutcomeHeld
		}

		records = append(records, zone.LifecycleRecord{
			Zone:         z,
			CurrentPrice: pm + g.r.NormFloat64()*500,
			CurrentTime:  now,
			Outcome:      outcome,
			TouchCount:   touches,
			FundingRate:  g.r.NormFloat64() * 0.0005,
		})
	}
	return records
}

type sampler struct {
	r *rand.Rand
}

// gamma samples Gamma(shape, scale) with Marsaglia and Tsang
func (s *sampler) gamma(shape, scale float64) float64 {
	if shape < 1 {
		u := s.r.Float64()
		return s.gamma(shape+1, scale) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3
	c := 1 / math.Sqrt(9*d)
	for {
		x := s.r.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

func (s *sampler) beta(a, b float64) float64 {
	x := s.gamma(a, 1)
	y := s.gamma(b, 1)
	return x / (x + y)
}

// poisson uses Knuth's multiplication method, fine for small lambda
func (s *sampler) poisson(lambda float64) int {
	l := math.Exp(-lambda)
	k := 0
	p := 1.0
	for {
		p *= s.r.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
