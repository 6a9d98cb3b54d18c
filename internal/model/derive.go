package model

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CurveDerivation adds derived attributes to a curve or its points. Curves
// must be sorted before derivations run.
type CurveDerivation func(c *Curve)

// Growth statistic attribute names.
const (
	KeyGrowthRate        = "Growth Rate"
	KeyIntercept         = "Intercept"
	KeyInitialMass       = "Initial Mass"
	KeyExponentialGrowth = "Exponential Growth Constant"
	KeyRSquared          = "r_squared"
)

var averagedAttributes = []string{
	"Mass (pg)",
	"Mass_norm",
	"fluor",
	"p1",
	"p2",
	"fpredict",
	"Mean Intensity",
	"Area",
}

// PointDerivations normalizes mass to the first sample (ratio) and time to
// the first sample (offset).
func PointDerivations(timeKey, massKey string) []CurveDerivation {
	return []CurveDerivation{
		func(c *Curve) { normalize(c, "Mass_norm", massKey, false) },
		func(c *Curve) { normalize(c, "Time_norm", timeKey, true) },
	}
}

// TrackDerivations computes the per-curve summary attributes: track length,
// per-attribute averages and growth-rate statistics.
func TrackDerivations(timeKey, massKey string) []CurveDerivation {
	out := []CurveDerivation{func(c *Curve) { trackLength(c, timeKey) }}
	for _, attr := range averagedAttributes {
		out = append(out, func(c *Curve) { averageAttribute(c, attr+" (avg)", attr) })
	}
	out = append(out, func(c *Curve) { GrowthRateStats(timeKey, massKey, c).apply(c) })
	return out
}

func normalize(c *Curve, newKey, refKey string, offset bool) {
	if len(c.points) == 0 {
		return
	}
	first := c.points[0].Value(refKey)
	for _, p := range c.points {
		v := p.Value(refKey)
		if offset {
			p.Set(newKey, v-first)
		} else {
			p.Set(newKey, v/first)
		}
	}
}

func trackLength(c *Curve, timeKey string) {
	if len(c.points) == 0 {
		c.Set(KeyTrackLength, math.NaN())
		return
	}
	first := c.points[0].Value(timeKey)
	last := c.points[len(c.points)-1].Value(timeKey)
	c.Set(KeyTrackLength, last-first)
}

// averageAttribute stores NaN when the points do not carry refKey.
func averageAttribute(c *Curve, newKey, refKey string) {
	if len(c.points) == 0 || !c.points[0].values.Has(refKey) {
		c.Set(newKey, math.NaN())
		return
	}
	xs := make([]float64, len(c.points))
	for i, p := range c.points {
		xs[i] = p.Value(refKey)
	}
	c.Set(newKey, stat.Mean(xs, nil))
}

// GrowthStats is the ordinary least squares fit of mass over time.
type GrowthStats struct {
	Slope                     float64
	Intercept                 float64
	InitialValue              float64
	ExponentialGrowthConstant float64
	RSquared                  float64
}

func (g GrowthStats) apply(c *Curve) {
	c.Set(KeyGrowthRate, g.Slope)
	c.Set(KeyIntercept, g.Intercept)
	c.Set(KeyInitialMass, g.InitialValue)
	c.Set(KeyExponentialGrowth, g.ExponentialGrowthConstant)
	c.Set(KeyRSquared, g.RSquared)
}

// GrowthRateStats regresses massKey on timeKey over c's points. The initial
// value is the fit evaluated at the first sample's time. Fewer than two
// points give NaN for every statistic.
func GrowthRateStats(timeKey, massKey string, c *Curve) GrowthStats {
	n := len(c.points)
	if n < 2 {
		nan := math.NaN()
		return GrowthStats{nan, nan, nan, nan, nan}
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range c.points {
		xs[i] = p.Value(timeKey)
		ys[i] = p.Value(massKey)
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	initial := xs[0]*slope + intercept
	return GrowthStats{
		Slope:                     slope,
		Intercept:                 intercept,
		InitialValue:              initial,
		ExponentialGrowthConstant: slope / initial,
		RSquared:                  stat.RSquared(xs, ys, nil, intercept, slope),
	}
}
