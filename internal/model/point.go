package model

// Element is the capability shared by everything a brush can be evaluated
// against: Points, and Curves when a collection treats them as items.
type Element interface {
	// Value returns the attribute value, NaN if the attribute is missing.
	Value(key string) float64
	Lookup(key string) (float64, bool)
	Keys() []string
	InBrush() bool
	SetInBrush(v bool)
}

// Point is one time sample of one track.
type Point struct {
	values  *Values
	inBrush bool
	curveID string
}

// NewPoint creates a point from an attribute map. The map is iterated in the
// order given by keys; keys not present in m are skipped.
func NewPoint(keys []string, m map[string]float64) *Point {
	p := &Point{values: NewValues(len(keys)), inBrush: true}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			p.values.Set(k, v)
		}
	}
	return p
}

// NewPointFromValues wraps vals without copying.
func NewPointFromValues(vals *Values) *Point {
	if vals == nil {
		vals = NewValues(0)
	}
	return &Point{values: vals, inBrush: true}
}

func (p *Point) Value(key string) float64 { return p.values.Get(key) }
func (p *Point) Lookup(key string) (float64, bool) { return p.values.Lookup(key) }
func (p *Point) Keys() []string { return p.values.Keys() }
func (p *Point) InBrush() bool { return p.inBrush }
func (p *Point) SetInBrush(v bool) { p.inBrush = v }
func (p *Point) Values() *Values { return p.values }

// Set adds or overwrites an attribute.
func (p *Point) Set(key string, v float64) { p.values.Set(key, v) }

// CurveID identifies the owning curve. It is a lookup key, not an owning
// reference: resolve it with CurveList.CurveByID.
func (p *Point) CurveID() string { return p.curveID }
