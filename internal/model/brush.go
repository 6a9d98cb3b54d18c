package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// Bound is an inclusive numeric range. It serializes as a two-element array.
type Bound struct {
	Low  float64
	High float64
}

// Contains reports whether v lies in [Low, High]. NaN is never contained.
func (b Bound) Contains(v float64) bool {
	if math.IsNaN(v) {
		return false
	}
	return b.Low <= v && v <= b.High
}

func (b Bound) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{b.Low, b.High})
}

func (b *Bound) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("bound must be [low, high]: %w", err)
	}
	b.Low, b.High = pair[0], pair[1]
	return nil
}

// Filter bounds one attribute.
type Filter struct {
	Key   string `json:"key"`
	Bound Bound  `json:"bound"`
}

// Accepts reports whether e's value for the filter key is inside the bound.
// Unknown keys read as NaN and are never accepted.
func (f Filter) Accepts(e Element) bool {
	return f.Bound.Contains(e.Value(f.Key))
}

type ownerFilters struct {
	keys   []string
	bounds map[string]Bound
}

// BrushList maps a brush owner to its per-attribute bounds. Owners compose
// conjunctively, as do the keys within one owner. Owner and key order is
// registration order.
type BrushList struct {
	owners  []string
	byOwner map[string]*ownerFilters
}

// NewBrushList returns an empty brush list.
func NewBrushList() *BrushList {
	return &BrushList{byOwner: make(map[string]*ownerFilters)}
}

// Add registers filters under owner, overwriting any bound the owner already
// holds for the same key.
func (bl *BrushList) Add(owner string, filters ...Filter) {
	of, ok := bl.byOwner[owner]
	if !ok {
		of = &ownerFilters{bounds: make(map[string]Bound)}
		bl.byOwner[owner] = of
		bl.owners = append(bl.owners, owner)
	}
	for _, f := range filters {
		if _, exists := of.bounds[f.Key]; !exists {
			of.keys = append(of.keys, f.Key)
		}
		of.bounds[f.Key] = f.Bound
	}
}

// Remove deletes every filter of owner. It reports whether owner existed.
func (bl *BrushList) Remove(owner string) bool {
	if _, ok := bl.byOwner[owner]; !ok {
		return false
	}
	delete(bl.byOwner, owner)
	for i, o := range bl.owners {
		if o == owner {
			bl.owners = append(bl.owners[:i], bl.owners[i+1:]...)
			break
		}
	}
	return true
}

// Owners returns the registered owners in registration order.
func (bl *BrushList) Owners() []string {
	out := make([]string, len(bl.owners))
	copy(out, bl.owners)
	return out
}

// Filters returns the filters registered by owner.
func (bl *BrushList) Filters(owner string) []Filter {
	of, ok := bl.byOwner[owner]
	if !ok {
		return nil
	}
	out := make([]Filter, 0, len(of.keys))
	for _, k := range of.keys {
		out = append(out, Filter{Key: k, Bound: of.bounds[k]})
	}
	return out
}

// Len returns the number of owners.
func (bl *BrushList) Len() int { return len(bl.owners) }

// Accepts reports whether e satisfies every bound of every owner.
func (bl *BrushList) Accepts(e Element) bool {
	for _, owner := range bl.owners {
		of := bl.byOwner[owner]
		for _, k := range of.keys {
			if !of.bounds[k].Contains(e.Value(k)) {
				return false
			}
		}
	}
	return true
}

// Collection is an indexable set of brushable elements.
type Collection interface {
	Len() int
	At(i int) Element
}

// ApplyBrushes marks every element of c that fails the brush list as out of
// brush. It never sets an element back in brush; callers reset first. The
// result reports whether any element was excluded.
func ApplyBrushes(c Collection, bl *BrushList) bool {
	if bl.Len() == 0 {
		return false
	}
	applied := false
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		if !bl.Accepts(e) {
			e.SetInBrush(false)
			applied = true
		}
	}
	return applied
}

// ResetBrush sets every element of c in brush.
func ResetBrush(c Collection) {
	for i := 0; i < c.Len(); i++ {
		c.At(i).SetInBrush(true)
	}
}
