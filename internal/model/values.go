// Package model holds the shared curve data model and the brushing engine.
//
// A CurveList owns Curves, a Curve owns its Points. Every container exposes
// the same attribute/brush capability (Element) so one brush algorithm
// serves point-level, curve-level and single-curve collections.
package model

import "math"

// Values is an insertion-ordered string -> float64 map. Column order of the
// input is preserved so attribute discovery is stable.
type Values struct {
	keys []string
	vals map[string]float64
}

// NewValues returns an empty Values with room for n attributes.
func NewValues(n int) *Values {
	return &Values{
		keys: make([]string, 0, n),
		vals: make(map[string]float64, n),
	}
}

// Set stores v under key, appending key if it is new.
func (v *Values) Set(key string, val float64) {
	if _, ok := v.vals[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.vals[key] = val
}

// Lookup returns the value for key and whether it is present.
func (v *Values) Lookup(key string) (float64, bool) {
	val, ok := v.vals[key]
	return val, ok
}

// Get returns the value for key, or NaN when absent.
func (v *Values) Get(key string) float64 {
	if val, ok := v.vals[key]; ok {
		return val
	}
	return math.NaN()
}

// Has reports whether key is present.
func (v *Values) Has(key string) bool {
	_, ok := v.vals[key]
	return ok
}

// Keys returns the attribute names in insertion order. The slice must not be modified.
func (v *Values) Keys() []string {
	return v.keys
}

// Len returns the number of attributes.
func (v *Values) Len() int {
	return len(v.keys)
}

// Clone returns a deep copy.
func (v *Values) Clone() *Values {
	out := NewValues(len(v.keys))
	for _, k := range v.keys {
		out.Set(k, v.vals[k])
	}
	return out
}
