package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGrowthRateStats(t *testing.T) {
	t.Run("singlePointIsNaN", func(t *testing.T) {
		c := newTestCurve("one", sample{t: 0, mass: 1})
		g := GrowthRateStats(KeyTime, KeyMass, c)
		for _, v := range []float64{g.Slope, g.Intercept, g.InitialValue, g.ExponentialGrowthConstant, g.RSquared} {
			assert.True(t, math.IsNaN(v))
		}
	})

	t.Run("twoPoints", func(t *testing.T) {
		c := newTestCurve("two", sample{t: 0, mass: 1}, sample{t: 1, mass: 3})
		g := GrowthRateStats(KeyTime, KeyMass, c)
		assert.InDelta(t, 2.0, g.Slope, 1e-12)
		assert.InDelta(t, 1.0, g.Intercept, 1e-12)
		assert.InDelta(t, 1.0, g.InitialValue, 1e-12)
		assert.InDelta(t, 2.0, g.ExponentialGrowthConstant, 1e-12)
		assert.InDelta(t, 1.0, g.RSquared, 1e-12)
	})

	t.Run("initialValueAtFirstSample", func(t *testing.T) {
		c := newTestCurve("late", sample{t: 10, mass: 25}, sample{t: 12, mass: 29}, sample{t: 14, mass: 33})
		g := GrowthRateStats(KeyTime, KeyMass, c)
		assert.InDelta(t, 2.0, g.Slope, 1e-9)
		assert.InDelta(t, 5.0, g.Intercept, 1e-9)
		assert.InDelta(t, 25.0, g.InitialValue, 1e-9)
		assert.InDelta(t, 0.08, g.ExponentialGrowthConstant, 1e-9)
	})
}

func TestTrackDerivations(t *testing.T) {
	c := newTestCurve("c",
		sample{t: 2, mass: 10},
		sample{t: 4, mass: 20},
		sample{t: 6, mass: 30},
	)
	for _, d := range PointDerivations(KeyTime, KeyMass) {
		d(c)
	}
	for _, d := range TrackDerivations(KeyTime, KeyMass) {
		d(c)
	}

	assert.Equal(t, 4.0, c.Value(KeyTrackLength))
	assert.Equal(t, 20.0, c.Value("Mass (pg) (avg)"))
	assert.InDelta(t, 2.0, c.Value("Mass_norm (avg)"), 1e-12)
	assert.True(t, math.IsNaN(c.Value("fluor (avg)")), "missing attribute averages to NaN")
	assert.InDelta(t, 5.0, c.Value(KeyGrowthRate), 1e-9)
	assert.InDelta(t, 1.0, c.Value(KeyRSquared), 1e-9)

	last := c.Points()[2]
	assert.Equal(t, 3.0, last.Value("Mass_norm"))
	assert.Equal(t, 4.0, last.Value("Time_norm"))
}
