package model

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CalculateDepth computes a band depth for every curve and stores it under
// depthKey. Curves that already carry depthKey are left alone.
func (cl *CurveList) CalculateDepth(ctx context.Context, depthKey, valueKey string) error {
	if cl.isKeySet(depthKey) {
		return nil
	}
	depth, err := BandDepths(ctx, cl.curves, cl.inputKey, valueKey)
	if err != nil {
		return err
	}
	for ci, c := range cl.curves {
		c.Set(depthKey, depth[ci])
	}
	return nil
}

// BandDepths returns the band depth of each curve without storing it. For
// each unordered pair of curves, a curve earns the weight of every sample
// whose valueKey lies between the pair's interpolated values at that
// sample's input.
//
// Work is spread over curves; each curve sums its pairs in a fixed order so
// the result does not depend on scheduling. Only point values are read.
func BandDepths(ctx context.Context, curves []*Curve, inputKey, valueKey string) ([]float64, error) {
	depth := make([]float64, len(curves))
	bands := AllBands(curves)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for ci := range curves {
		g.Go(func() error {
			curve := curves[ci]
			total := 0.0
			for _, band := range bands {
				if err := ctx.Err(); err != nil {
					return err
				}
				total += depthContribution(curve, band[0], band[1], inputKey, valueKey)
			}
			depth[ci] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return depth, nil
}

func depthContribution(curve, b1, b2 *Curve, inputKey, valueKey string) float64 {
	depth := 0.0
	for i, p := range curve.points {
		t := p.Value(inputKey)
		v1, ok1 := b1.PointValue(t, valueKey)
		v2, ok2 := b2.PointValue(t, valueKey)
		if !ok1 || !ok2 {
			continue
		}
		lo, hi := min(v1, v2), max(v1, v2)
		if v := p.Value(valueKey); lo <= v && v <= hi {
			depth += curve.PointWeight(i)
		}
	}
	return depth
}

func (cl *CurveList) isKeySet(key string) bool {
	for _, c := range cl.curves {
		if !c.values.Has(key) {
			return false
		}
	}
	return true
}

// AllBands returns every unordered pair of curves.
func AllBands(curves []*Curve) [][2]*Curve {
	n := len(curves)
	out := make([][2]*Curve, 0, n*(n-1)/2)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, [2]*Curve{curves[i], curves[j]})
		}
	}
	return out
}
