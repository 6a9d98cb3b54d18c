package model

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinarySearchIndex(t *testing.T) {
	list := []float64{1, 3, 5, 7}
	search := func(q float64) SearchResult {
		return BinarySearchIndex(len(list), func(i int) int { return CompareFloat(list[i], q) })
	}

	tests := []struct {
		name  string
		query float64
		want  SearchResult
	}{
		{"between", 4, SearchResult{Low: 1, High: 2}},
		{"belowRange", 0, SearchResult{Low: -1, High: 0}},
		{"aboveRange", 8, SearchResult{Low: 3, High: -1}},
		{"exactMiddle", 5, SearchResult{Exact: true, Index: 2}},
		{"exactFirst", 1, SearchResult{Exact: true, Index: 0}},
		{"exactLast", 7, SearchResult{Exact: true, Index: 3}},
		{"betweenFirstPair", 2, SearchResult{Low: 0, High: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, search(tt.query)); diff != "" {
				t.Fatalf("BinarySearchIndex(%v) mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}

	t.Run("empty", func(t *testing.T) {
		r := BinarySearchIndex(0, func(int) int { return 0 })
		assert.False(t, r.Exact)
		assert.False(t, r.Bracketed())
	})
}

func TestCompareFloat(t *testing.T) {
	nan := math.NaN()
	assert.Equal(t, -1, CompareFloat(1, 2))
	assert.Equal(t, 1, CompareFloat(2, 1))
	assert.Equal(t, 0, CompareFloat(2, 2))
	assert.Equal(t, 1, CompareFloat(nan, 2))
	assert.Equal(t, -1, CompareFloat(2, nan))
	assert.Equal(t, 0, CompareFloat(nan, nan))
}

func TestCurveSortAndInterpolation(t *testing.T) {
	c := NewCurve("c")
	keys := []string{KeyTime, KeyMass}
	for _, s := range [][2]float64{{2, 20}, {0, 0}, {1, 10}, {4, 40}} {
		c.AddPoint(NewPoint(keys, map[string]float64{KeyTime: s[0], KeyMass: s[1]}))
	}

	_, ok := c.PointValue(1, KeyMass)
	assert.False(t, ok, "unsorted curve must not interpolate")

	c.Sort(KeyTime)
	assert.Equal(t, KeyTime, c.InputKey())

	t.Run("exactSample", func(t *testing.T) {
		for _, p := range c.Points() {
			v, ok := c.PointValue(p.Value(KeyTime), KeyMass)
			require.True(t, ok)
			assert.Equal(t, p.Value(KeyMass), v)
		}
	})

	t.Run("midpointIsMean", func(t *testing.T) {
		v, ok := c.PointValue(0.5, KeyMass)
		require.True(t, ok)
		assert.InDelta(t, 5.0, v, 1e-12)
		v, ok = c.PointValue(3, KeyMass)
		require.True(t, ok)
		assert.InDelta(t, 30.0, v, 1e-12)
	})

	t.Run("outOfRange", func(t *testing.T) {
		_, ok := c.PointValue(-1, KeyMass)
		assert.False(t, ok)
		_, ok = c.PointValue(4.5, KeyMass)
		assert.False(t, ok)
		_, ok = c.PointAt(10)
		assert.False(t, ok)
	})

	t.Run("pointAt", func(t *testing.T) {
		p, ok := c.PointAt(1)
		require.True(t, ok)
		assert.Same(t, c.Points()[1], p)

		c.Points()[2].SetInBrush(false)
		p, ok = c.PointAt(1.5)
		require.True(t, ok)
		assert.Equal(t, 1.5, p.Value(KeyTime))
		assert.InDelta(t, 15.0, p.Value(KeyMass), 1e-12)
		assert.False(t, p.InBrush())
		assert.Equal(t, "c", p.CurveID())

		p, _ = c.PointAt(0.5)
		assert.True(t, p.InBrush())
	})
}

func TestPointWeight(t *testing.T) {
	c := newTestCurve("w",
		sample{t: 0}, sample{t: 1}, sample{t: 3}, sample{t: 4},
	)
	assert.Equal(t, 0.5, c.PointWeight(0))
	assert.Equal(t, 1.5, c.PointWeight(1))
	assert.Equal(t, 1.5, c.PointWeight(2))
	assert.Equal(t, 0.5, c.PointWeight(3))
}

func TestCurveSetInBrushCascades(t *testing.T) {
	c := linearCurve("c", 1, 3, 1, 0)
	c.SetInBrush(false)
	for _, p := range c.Points() {
		assert.False(t, p.InBrush())
	}
	c.SetInBrush(true)
	for _, p := range c.Points() {
		assert.True(t, p.InBrush())
	}
}

func TestSingleCurveBrushes(t *testing.T) {
	c := linearCurve("c", 1, 5, 1, 0)
	ix := c.Brushes()
	assert.Same(t, ix, c.Brushes())

	var events []BrushEvent
	unsubscribe := ix.Bus().Subscribe(func(ev BrushEvent) { events = append(events, ev) })
	defer unsubscribe()

	ix.AddBrush("w", Filter{Key: KeyMass, Bound: Bound{Low: 1, High: 2}})
	assert.Equal(t, 2, ix.InBrushCount())

	ix.AddBrush("w", Filter{Key: KeyMass, Bound: Bound{Low: 0, High: 3}})
	assert.Equal(t, 4, ix.InBrushCount(), "re-registering an owner replaces its bound")

	ix.RemoveBrush("w")
	assert.Equal(t, 5, ix.InBrushCount())

	require.Len(t, events, 3)
	assert.Equal(t, BrushEvent{Level: LevelCell, Owner: "w", BrushApplied: true}, events[0])
	assert.Equal(t, BrushEvent{Level: LevelCell, Owner: "w", Removed: true}, events[2])
}
