package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameIndex(t *testing.T) {
	a := newTestCurve("a",
		sample{t: 0, mass: 1, loc: 2, frame: 1},
		sample{t: 1, mass: 2, loc: 2, frame: 0},
	)
	b := newTestCurve("b",
		sample{t: 0, mass: 5, loc: 1, frame: 0},
		sample{t: 1, mass: 6, loc: 1, frame: 1},
	)
	cl := testList(a, b)

	fi := NewFrameIndex(cl, KeyLocationID, KeyFrameID)
	require.Len(t, fi.Locations(), 2)
	loc2, ok := fi.Location(2)
	require.True(t, ok)
	assert.Equal(t, 0, loc2.Frames[0].FrameID, "frames are sorted")
	assert.Equal(t, []int{2, 1}, fi.BrushedLocations())
	assert.Equal(t, 4, fi.BrushedImageCount())

	cl.AddBrush("w", Filter{Key: KeyMass, Bound: Bound{Low: 0, High: 1}})
	fi.Update(cl)
	assert.Equal(t, []int{2}, fi.BrushedLocations())
	assert.Equal(t, 1, fi.BrushedImageCount())
	assert.Equal(t, 0.5, loc2.InBrushPercent())

	f, ok := loc2.Frame(1)
	require.True(t, ok)
	assert.True(t, f.InBrush)
}
