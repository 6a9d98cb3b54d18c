package model

import (
	"math"
	"sync"
)

// Index carries the state every point collection shares: the brush list,
// the per-key min/max cache and attribute discovery. The recompute hook is
// supplied by the owner of the elements (CurveList, CurveCollection or a
// single Curve), so the same brush list can drive different cascades.
type Index struct {
	src     Collection
	level   Level
	brushes *BrushList
	bus     *Bus

	recompute func() bool

	mu         sync.Mutex
	minMax     map[string]Bound
	attributes []string
}

func newIndex(src Collection, level Level, bus *Bus, recompute func() bool) *Index {
	return &Index{
		src:       src,
		level:     level,
		brushes:   NewBrushList(),
		bus:       bus,
		recompute: recompute,
		minMax:    make(map[string]Bound),
	}
}

// Len returns the number of elements.
func (ix *Index) Len() int { return ix.src.Len() }

// At returns element i.
func (ix *Index) At(i int) Element { return ix.src.At(i) }

// Brushes exposes the brush list. Mutate it only through AddBrush and RemoveBrush.
func (ix *Index) Brushes() *BrushList { return ix.brushes }

// Bus returns the bus brush events are published on.
func (ix *Index) Bus() *Bus { return ix.bus }

// AddBrush registers filters under owner, recomputes brush state and
// notifies subscribers.
func (ix *Index) AddBrush(owner string, filters ...Filter) {
	ix.brushes.Add(owner, filters...)
	ix.update(owner, false)
}

// AddBrushNoUpdate registers filters without recomputing or notifying.
func (ix *Index) AddBrushNoUpdate(owner string, filters ...Filter) {
	ix.brushes.Add(owner, filters...)
}

// RemoveBrush drops owner's filters, recomputes and notifies.
func (ix *Index) RemoveBrush(owner string) {
	ix.brushes.Remove(owner)
	ix.update(owner, true)
}

// SetBrushValues applies this index's brush list to its elements without
// resetting them first.
func (ix *Index) SetBrushValues() bool {
	return ApplyBrushes(ix.src, ix.brushes)
}

func (ix *Index) update(owner string, removed bool) {
	applied := ix.recompute()
	if ix.bus != nil {
		ix.bus.publish(BrushEvent{Level: ix.level, Owner: owner, Removed: removed, BrushApplied: applied})
	}
}

// MinMax returns the smallest and largest value of key over all elements.
// The result is computed once per key and cached for the life of the index.
// NaN values are ignored; a key with no numeric values yields (+Inf, -Inf).
func (ix *Index) MinMax(key string) (float64, float64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if b, ok := ix.minMax[key]; ok {
		return b.Low, b.High
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for i := 0; i < ix.src.Len(); i++ {
		v := ix.src.At(i).Value(key)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	ix.minMax[key] = Bound{Low: lo, High: hi}
	return lo, hi
}

// Attributes returns the attribute names of the first element.
func (ix *Index) Attributes() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.attributes == nil && ix.src.Len() > 0 {
		keys := ix.src.At(0).Keys()
		ix.attributes = make([]string, len(keys))
		copy(ix.attributes, keys)
	}
	return ix.attributes
}

// InBrushCount returns how many elements are currently in brush.
func (ix *Index) InBrushCount() int {
	n := 0
	for i := 0; i < ix.src.Len(); i++ {
		if ix.src.At(i).InBrush() {
			n++
		}
	}
	return n
}
