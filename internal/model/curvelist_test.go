package model

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brushSnapshot(cl *CurveList) []bool {
	out := make([]bool, 0, cl.Len()+len(cl.Curves()))
	for _, c := range cl.Curves() {
		out = append(out, c.InBrush())
	}
	for _, p := range cl.Points() {
		out = append(out, p.InBrush())
	}
	return out
}

func TestNewCurveList(t *testing.T) {
	a := linearCurve("a", 3, 2, 1, 0)
	b := linearCurve("b", 1, 3, 1, 0)
	cl := testList(a, b)

	assert.Equal(t, 5, cl.Len())
	assert.Equal(t, KeyTime, cl.InputKey())
	assert.Equal(t, []int{1, 3}, cl.Locations())
	assert.Equal(t, 2, cl.Collection().Len())
	assert.Same(t, cl, cl.Collection().CurveList())

	got, ok := cl.CurveByID(cl.Points()[0].CurveID())
	require.True(t, ok)
	assert.Same(t, a, got)

	assert.Equal(t, []string{KeyTime, KeyMass, KeyLocationID, KeyFrameID, KeySegmentLabel}, cl.Attributes())
	assert.Contains(t, cl.Collection().Attributes(), KeyTrackLength)
}

func TestOnBrushChangeCascade(t *testing.T) {
	a := linearCurve("a", 1, 4, 1, 0)  // mass 0..3
	b := linearCurve("b", 2, 4, 1, 10) // mass 10..13
	c := linearCurve("c", 3, 4, 2, 0)  // mass 0,2,4,6
	cl := testList(a, b, c)

	t.Run("curveSurvivesIfAnyPointSurvives", func(t *testing.T) {
		cl.AddBrush("w", Filter{Key: KeyMass, Bound: Bound{Low: 3, High: 4}})
		assert.Equal(t, []string{"a", "c"}, inBrushIDs(cl))
		assert.True(t, cl.BrushApplied())
		assert.Equal(t, 1, a.Brushes().InBrushCount())
		cl.RemoveBrush("w")
		assert.Equal(t, []string{"a", "b", "c"}, inBrushIDs(cl))
		assert.False(t, cl.BrushApplied())
	})

	t.Run("trackBrushHidesPoints", func(t *testing.T) {
		cl.Collection().AddBrush("len", Filter{Key: KeyGrowthRate, Bound: Bound{Low: 1.5, High: 3}})
		assert.Equal(t, []string{"c"}, inBrushIDs(cl))
		for _, p := range a.Points() {
			assert.False(t, p.InBrush())
		}
		cl.Collection().RemoveBrush("len")
	})

	t.Run("curveBrushOverridesPoints", func(t *testing.T) {
		cl.AddCurveBrush("region",
			Filter{Key: KeyTime, Bound: Bound{Low: 2, High: 3}},
			Filter{Key: KeyMass, Bound: Bound{Low: 11, High: 13}},
		)
		assert.Equal(t, []string{"b"}, inBrushIDs(cl))
		for _, p := range c.Points() {
			assert.False(t, p.InBrush())
		}
		assert.True(t, cl.BrushApplied())

		cl.RemoveCurveBrush("region")
		assert.Equal(t, []string{"a", "b", "c"}, inBrushIDs(cl))
	})

	t.Run("curveBrushNoMatchHidesAll", func(t *testing.T) {
		cl.AddCurveBrush("none", Filter{Key: KeyMass, Bound: Bound{Low: 100, High: 200}})
		assert.Empty(t, inBrushIDs(cl))
		assert.Zero(t, cl.InBrushCount())
		cl.RemoveCurveBrush("none")
	})
}

func TestOnBrushChangeIdempotent(t *testing.T) {
	cl := testList(
		linearCurve("a", 1, 5, 1, 0),
		linearCurve("b", 2, 5, 3, 0),
	)
	cl.AddBrush("p", Filter{Key: KeyMass, Bound: Bound{Low: 2, High: 9}})
	cl.Collection().AddBrush("t", Filter{Key: KeyTrackLength, Bound: Bound{Low: 0, High: 10}})
	cl.AddCurveBrush("r", Filter{Key: KeyTime, Bound: Bound{Low: 3, High: 4}})

	cl.OnBrushChange()
	first, applied := brushSnapshot(cl), cl.BrushApplied()
	cl.OnBrushChange()
	if diff := cmp.Diff(first, brushSnapshot(cl)); diff != "" {
		t.Fatalf("second pass changed brush state (-first +second):\n%s", diff)
	}
	assert.Equal(t, applied, cl.BrushApplied())
}

func TestBrushEvents(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0))
	var got []BrushEvent
	unsubscribe := cl.Bus().Subscribe(func(ev BrushEvent) { got = append(got, ev) })

	cl.AddBrush("p", Filter{Key: KeyMass, Bound: Bound{Low: 0, High: 0}})
	cl.Collection().AddBrush("t", Filter{Key: KeyTrackLength, Bound: Bound{Low: 0, High: 10}})
	cl.AddCurveBrush("c", Filter{Key: KeyMass, Bound: Bound{Low: 0, High: 10}})
	cl.RemoveBrush("p")
	cl.Recompute()

	want := []BrushEvent{
		{Level: LevelCell, Owner: "p", BrushApplied: true},
		{Level: LevelTrack, Owner: "t", BrushApplied: true},
		{Level: LevelCurve, Owner: "c", BrushApplied: true},
		{Level: LevelCell, Owner: "p", Removed: true},
		{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	unsubscribe()
	assert.Zero(t, cl.Bus().Len())
	cl.RemoveCurveBrush("c")
	assert.Len(t, got, len(want))
}

func TestCellLookup(t *testing.T) {
	a := linearCurve("a", 1, 3, 1, 0)
	b := linearCurve("b", 1, 3, 1, 5)
	cl := testList(a, b)

	cells := cl.CellsAtFrame(1, 2)
	require.Len(t, cells, 1, "both curves share labels at location 1, last writer wins")

	ref, ok := cl.CellFromLabel(1, 0, 101)
	require.True(t, ok)
	assert.Same(t, b.Points()[0], ref.Point)
	assert.Equal(t, 4, ref.Index)

	_, ok = cl.CellFromLabel(9, 0, 101)
	assert.False(t, ok)
	assert.Nil(t, cl.CellsAtFrame(9, 0))
}

func TestFilterRoundTrip(t *testing.T) {
	src := testList(linearCurve("a", 1, 4, 1, 0), linearCurve("b", 2, 4, 1, 10))
	src.AddBrush("hist", Filter{Key: KeyMass, Bound: Bound{Low: 0, High: 2}})
	src.Collection().AddBrush("len", Filter{Key: KeyTrackLength, Bound: Bound{Low: 1, High: 5}})
	src.AddCurveBrush("path", Filter{Key: KeyTime, Bound: Bound{Low: 0, High: 1}})

	filters := src.GetAllFilters()
	levels := []Level{}
	for _, f := range filters {
		levels = append(levels, f.Level)
	}
	assert.Equal(t, []Level{LevelCurve, LevelCell, LevelTrack}, levels)

	dst := testList(linearCurve("a", 1, 4, 1, 0), linearCurve("b", 2, 4, 1, 10))
	require.NoError(t, dst.ConsumeFilters(filters))
	assert.Equal(t, dst.Len(), dst.InBrushCount(), "consumed filters wait for Recompute")

	dst.Recompute()
	assert.Equal(t, inBrushIDs(src), inBrushIDs(dst))
	assert.Equal(t, src.InBrushCount(), dst.InBrushCount())

	owners := dst.Brushes().Owners()
	require.Len(t, owners, 1)
	assert.True(t, strings.HasPrefix(owners[0], "hist@"))

	err := dst.ConsumeFilters([]DataFilter{{Level: "pixel", Owner: "x"}})
	assert.ErrorIs(t, err, ErrInvalidLevel)

	t.Run("invalidLevelRegistersNothing", func(t *testing.T) {
		fresh := testList(linearCurve("a", 1, 4, 1, 0), linearCurve("b", 2, 4, 1, 10))
		err := fresh.ConsumeFilters(append(filters, DataFilter{Level: "pixel", Owner: "x"}))
		assert.ErrorIs(t, err, ErrInvalidLevel)
		assert.Empty(t, fresh.GetAllFilters())
	})
}

func TestApplyDefaultFilters(t *testing.T) {
	cl := testList(
		linearCurve("long", 1, 11, 1, 0), // length 10
		linearCurve("mid", 2, 6, 1, 0),   // length 5
		linearCurve("short", 3, 3, 1, 0), // length 2
	)
	cl.ApplyDefaultFilters()
	assert.Equal(t, []string{"long", "mid", "short"}, inBrushIDs(cl))

	cl.Recompute()
	assert.Equal(t, []string{"long", "mid"}, inBrushIDs(cl))
}

func TestCreateFilteredCurveList(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0), linearCurve("b", 2, 3, 1, 10))
	cl.AddBrush("w", Filter{Key: KeyMass, Bound: Bound{Low: 10, High: 20}})

	filtered := cl.CreateFilteredCurveList()
	require.Len(t, filtered.Curves(), 1)
	assert.Equal(t, "b", filtered.Curves()[0].ID())
	assert.Equal(t, cl.InputKey(), filtered.InputKey())
	assert.Zero(t, filtered.Brushes().Len())
}

func TestAverageGrowthCurve(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0), linearCurve("b", 2, 2, 1, 10))
	got := cl.AverageGrowthCurve()
	assert.Equal(t, []FrameMass{{Frame: 0, Mass: 5}, {Frame: 1, Mass: 6}, {Frame: 2, Mass: 2}}, got)

	t.Run("sparseFrames", func(t *testing.T) {
		cl := testList(newTestCurve("far",
			sample{t: 0, mass: 4, loc: 1, frame: 1},
			sample{t: 1, mass: 8, loc: 1, frame: 1_000_000_000},
		))
		got := cl.AverageGrowthCurve()
		assert.Equal(t, []FrameMass{{Frame: 1, Mass: 4}, {Frame: 1_000_000_000, Mass: 8}}, got)
	})
}

func TestPointsAtInput(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0), linearCurve("b", 2, 2, 1, 10))
	pts := cl.PointsAtInput(1.5)
	require.Len(t, pts, 1)
	assert.Equal(t, "a", pts[0].CurveID())
	assert.InDelta(t, 1.5, pts[0].Value(KeyMass), 1e-12)
}

func TestSortCurves(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0), linearCurve("b", 2, 3, 3, 0), linearCurve("c", 3, 3, 2, 0))
	cl.SortCurves(KeyGrowthRate, false)
	assert.Equal(t, []string{"b", "c", "a"}, inBrushIDs(cl))
}

func TestMinMaxMap(t *testing.T) {
	cl := testList(linearCurve("a", 1, 3, 1, 0), linearCurve("b", 4, 2, 1, 10))
	m := cl.MinMaxMap()
	assert.Equal(t, Bound{Low: 0, High: 11}, m[KeyMass])
	assert.Equal(t, Bound{Low: 1, High: 4}, m[KeyLocationID])
	assert.False(t, math.IsNaN(m[KeyTime].High))
}
