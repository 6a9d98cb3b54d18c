package model

// sample is one row of a synthetic track.
type sample struct {
	t, mass    float64
	loc, frame int
	label      int
}

func newTestCurve(id string, samples ...sample) *Curve {
	c := NewCurve(id)
	keys := []string{KeyTime, KeyMass, KeyLocationID, KeyFrameID, KeySegmentLabel}
	for _, s := range samples {
		c.AddPoint(NewPoint(keys, map[string]float64{
			KeyTime:         s.t,
			KeyMass:         s.mass,
			KeyLocationID:   float64(s.loc),
			KeyFrameID:      float64(s.frame),
			KeySegmentLabel: float64(s.label),
		}))
	}
	c.Sort(KeyTime)
	return c
}

// linearCurve has n samples at t = 0..n-1 with mass = slope*t + offset.
func linearCurve(id string, loc, n int, slope, offset float64) *Curve {
	samples := make([]sample, n)
	for i := range samples {
		t := float64(i)
		samples[i] = sample{t: t, mass: slope*t + offset, loc: loc, frame: i, label: loc*100 + i + 1}
	}
	return newTestCurve(id, samples...)
}

func testList(curves ...*Curve) *CurveList {
	cl := NewCurveList(curves, DatasetSpec{UniqueID: "test"})
	for _, c := range curves {
		for _, d := range TrackDerivations(KeyTime, KeyMass) {
			d(c)
		}
	}
	return cl
}

func inBrushIDs(cl *CurveList) []string {
	var out []string
	for _, c := range cl.Curves() {
		if c.InBrush() {
			out = append(out, c.ID())
		}
	}
	return out
}
