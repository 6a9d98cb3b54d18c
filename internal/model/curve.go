package model

import (
	"sort"
	"sync"
)

// Curve is the ordered sequence of points of one tracked entity, plus its
// own derived attributes. A Curve is itself an Element, so curve-level
// collections can brush it like a point.
type Curve struct {
	id       string
	values   *Values
	points   []*Point
	inputKey string
	sorted   bool
	inBrush  bool

	indexOnce sync.Once
	index     *Index
}

// NewCurve returns an empty curve.
func NewCurve(id string) *Curve {
	return &Curve{id: id, values: NewValues(8), inBrush: true}
}

func (c *Curve) ID() string { return c.id }

// Values returns the curve-level attributes.
func (c *Curve) Values() *Values { return c.values }

func (c *Curve) Value(key string) float64 { return c.values.Get(key) }
func (c *Curve) Lookup(key string) (float64, bool) { return c.values.Lookup(key) }
func (c *Curve) Keys() []string { return c.values.Keys() }

// Set adds or overwrites a curve-level attribute.
func (c *Curve) Set(key string, v float64) { c.values.Set(key, v) }

func (c *Curve) InBrush() bool { return c.inBrush }

// SetInBrush sets the curve flag and forces every point of the curve to the
// same value.
func (c *Curve) SetInBrush(v bool) {
	c.inBrush = v
	for _, p := range c.points {
		p.inBrush = v
	}
}

// Len returns the number of points.
func (c *Curve) Len() int { return len(c.points) }

// At returns point i as an Element.
func (c *Curve) At(i int) Element { return c.points[i] }

// Points returns the points in their current order. The slice must not be modified.
func (c *Curve) Points() []*Point { return c.points }

// AddPoint appends p and makes this curve its owner.
func (c *Curve) AddPoint(p *Point) {
	p.curveID = c.id
	c.points = append(c.points, p)
	c.sorted = false
}

// Sort orders points ascending by key and makes key the input key used for
// interpolation.
func (c *Curve) Sort(key string) {
	sort.SliceStable(c.points, func(i, j int) bool {
		return CompareFloat(c.points[i].Value(key), c.points[j].Value(key)) < 0
	})
	c.inputKey = key
	c.sorted = true
}

// InputKey returns the key the points were last sorted by.
func (c *Curve) InputKey() string { return c.inputKey }

func (c *Curve) search(t float64) SearchResult {
	return BinarySearchIndex(len(c.points), func(i int) int {
		return CompareFloat(c.points[i].Value(c.inputKey), t)
	})
}

// PointValue returns key's value at input t, interpolating linearly between
// the two samples that bracket t. ok is false if the curve is unsorted or t
// lies outside the sampled range.
func (c *Curve) PointValue(t float64, key string) (v float64, ok bool) {
	if !c.sorted {
		return 0, false
	}
	r := c.search(t)
	if r.Exact {
		return c.points[r.Index].Value(key), true
	}
	if !r.Bracketed() {
		return 0, false
	}
	p1, p2 := c.points[r.Low], c.points[r.High]
	t1, t2 := p1.Value(c.inputKey), p2.Value(c.inputKey)
	portion := (t - t1) / (t2 - t1)
	v1 := p1.Value(key)
	return v1 + (p2.Value(key)-v1)*portion, true
}

// PointAt returns the sample at input t. Between samples a new point is
// built with every attribute interpolated; it is in brush only if both
// neighbours are.
func (c *Curve) PointAt(t float64) (*Point, bool) {
	if !c.sorted {
		return nil, false
	}
	r := c.search(t)
	if r.Exact {
		return c.points[r.Index], true
	}
	if !r.Bracketed() {
		return nil, false
	}
	p1, p2 := c.points[r.Low], c.points[r.High]
	t1, t2 := p1.Value(c.inputKey), p2.Value(c.inputKey)
	portion := (t - t1) / (t2 - t1)

	vals := NewValues(p1.values.Len())
	for _, k := range p1.Keys() {
		v1 := p1.Value(k)
		vals.Set(k, v1+(p2.Value(k)-v1)*portion)
	}
	vals.Set(c.inputKey, t)

	p := NewPointFromValues(vals)
	p.curveID = c.id
	p.inBrush = p1.inBrush && p2.inBrush
	return p, true
}

// PointWeight is half the input gap between the neighbours of point i, the
// width point i covers in a Riemann sum over the curve.
func (c *Curve) PointWeight(i int) float64 {
	left := max(i-1, 0)
	right := min(i+1, len(c.points)-1)
	return (c.points[right].Value(c.inputKey) - c.points[left].Value(c.inputKey)) / 2
}

// Brushes returns the curve viewed as a point collection of its own. Its
// brushes reset and filter only this curve's points.
func (c *Curve) Brushes() *Index {
	c.indexOnce.Do(func() {
		var ix *Index
		ix = newIndex(c, LevelCell, NewBus(), func() bool {
			ResetBrush(c)
			return ix.SetBrushValues()
		})
		c.index = ix
	})
	return c.index
}
