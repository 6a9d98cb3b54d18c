package model

import (
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// CellRef locates a point in a CurveList. Index is 1-based, matching the
// row numbering used by the image/label cross reference.
type CellRef struct {
	Point *Point
	Index int
}

type frameKey struct {
	location int
	frame    int
}

type frameCells struct {
	labels  []int
	byLabel map[int]CellRef
}

// CurveBrushList holds curve-granularity brushes: a curve stays visible only
// if at least one of its points satisfies every filter of every owner.
type CurveBrushList struct {
	owners  []string
	byOwner map[string][]Filter
}

func newCurveBrushList() *CurveBrushList {
	return &CurveBrushList{byOwner: make(map[string][]Filter)}
}

// Set replaces owner's filters.
func (cb *CurveBrushList) Set(owner string, filters []Filter) {
	if _, ok := cb.byOwner[owner]; !ok {
		cb.owners = append(cb.owners, owner)
	}
	cb.byOwner[owner] = append([]Filter(nil), filters...)
}

// Remove drops owner. It reports whether owner existed.
func (cb *CurveBrushList) Remove(owner string) bool {
	if _, ok := cb.byOwner[owner]; !ok {
		return false
	}
	delete(cb.byOwner, owner)
	for i, o := range cb.owners {
		if o == owner {
			cb.owners = append(cb.owners[:i], cb.owners[i+1:]...)
			break
		}
	}
	return true
}

func (cb *CurveBrushList) Owners() []string { return append([]string(nil), cb.owners...) }

func (cb *CurveBrushList) Filters(owner string) []Filter { return cb.byOwner[owner] }

func (cb *CurveBrushList) Len() int { return len(cb.owners) }

// Accepts reports whether p satisfies every curve brush.
func (cb *CurveBrushList) Accepts(p Element) bool {
	for _, owner := range cb.owners {
		for _, f := range cb.byOwner[owner] {
			if !f.Accepts(p) {
				return false
			}
		}
	}
	return true
}

// CurveList is the point-level collection of every point of a set of curves.
// It owns the curves, the curve-level view, the curve brushes and the
// location/frame/segment lookup.
type CurveList struct {
	*Index

	curves []*Curve
	byID   map[string]*Curve
	points []*Point
	spec   DatasetSpec

	inputKey   string
	SourceKey  string
	PostfixKey string

	bus          *Bus
	collection   *CurveCollection
	curveBrushes *CurveBrushList
	brushApplied bool

	cells     map[frameKey]*frameCells
	locations []int

	cacheMu       sync.Mutex
	minMaxMap     map[string]Bound
	averageGrowth []FrameMass
}

// NewCurveList builds a list over curves. The curves (and their points) are
// shared, not copied; brush lists are fresh.
func NewCurveList(curves []*Curve, spec DatasetSpec) *CurveList {
	cl := &CurveList{
		curves:       curves,
		byID:         make(map[string]*Curve, len(curves)),
		spec:         spec,
		bus:          NewBus(),
		curveBrushes: newCurveBrushList(),
		cells:        make(map[frameKey]*frameCells),
	}
	n := 0
	for _, c := range curves {
		cl.byID[c.id] = c
		n += len(c.points)
	}
	cl.points = make([]*Point, 0, n)
	for _, c := range curves {
		cl.points = append(cl.points, c.points...)
		if cl.inputKey == "" && c.sorted {
			cl.inputKey = c.inputKey
		}
	}
	recompute := func() bool {
		cl.OnBrushChange()
		return cl.brushApplied
	}
	cl.Index = newIndex(cl, LevelCell, cl.bus, recompute)
	cl.collection = newCurveCollection(cl, recompute)
	cl.buildCellLookup()
	return cl
}

func (cl *CurveList) buildCellLookup() {
	locSet := make(map[int]struct{})
	for i, p := range cl.points {
		loc, ok := intValue(p, KeyLocationID)
		if !ok {
			continue
		}
		locSet[loc] = struct{}{}
		frame, ok := intValue(p, KeyFrameID)
		if !ok {
			continue
		}
		label, ok := intValue(p, KeySegmentLabel)
		if !ok {
			continue
		}
		fk := frameKey{location: loc, frame: frame}
		fc, ok := cl.cells[fk]
		if !ok {
			fc = &frameCells{byLabel: make(map[int]CellRef)}
			cl.cells[fk] = fc
		}
		if _, exists := fc.byLabel[label]; !exists {
			fc.labels = append(fc.labels, label)
		}
		fc.byLabel[label] = CellRef{Point: p, Index: i + 1}
	}
	cl.locations = make([]int, 0, len(locSet))
	for loc := range locSet {
		cl.locations = append(cl.locations, loc)
	}
	sort.Ints(cl.locations)
}

func intValue(e Element, key string) (int, bool) {
	v := e.Value(key)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int(math.Round(v)), true
}

// Len returns the total number of points over all curves.
func (cl *CurveList) Len() int { return len(cl.points) }

// At returns point i of the flattened point list.
func (cl *CurveList) At(i int) Element { return cl.points[i] }

// Points returns the flattened point list. The slice must not be modified.
func (cl *CurveList) Points() []*Point { return cl.points }

// Curves returns the curves. The slice must not be modified except through SortCurves.
func (cl *CurveList) Curves() []*Curve { return cl.curves }

// CurveByID resolves a point's CurveID.
func (cl *CurveList) CurveByID(id string) (*Curve, bool) {
	c, ok := cl.byID[id]
	return c, ok
}

// Collection returns the curve-level view.
func (cl *CurveList) Collection() *CurveCollection { return cl.collection }

// Spec returns the dataset specification the list was built with.
func (cl *CurveList) Spec() DatasetSpec { return cl.spec }

// InputKey returns the key curves are sorted by.
func (cl *CurveList) InputKey() string { return cl.inputKey }

// Locations returns the distinct location ids in ascending order.
func (cl *CurveList) Locations() []int { return cl.locations }

// BrushApplied reports whether the last recomputation excluded anything at
// any level.
func (cl *CurveList) BrushApplied() bool { return cl.brushApplied }

// CurveBrushes exposes the curve brush list. Mutate it only through
// AddCurveBrush and RemoveCurveBrush.
func (cl *CurveList) CurveBrushes() *CurveBrushList { return cl.curveBrushes }

// SetInputKey sorts every curve by key.
func (cl *CurveList) SetInputKey(key string) {
	cl.inputKey = key
	for _, c := range cl.curves {
		c.Sort(key)
	}
}

// SortCurves orders curves by a curve-level attribute.
func (cl *CurveList) SortCurves(key string, ascend bool) {
	sort.SliceStable(cl.curves, func(i, j int) bool {
		c := CompareFloat(cl.curves[i].Value(key), cl.curves[j].Value(key))
		if ascend {
			return c < 0
		}
		return c > 0
	})
}

// OnBrushChange recomputes every in-brush flag from the three brush lists:
//
//  1. reset every curve and point in brush;
//  2. apply the point-level brushes;
//  3. hide curves whose points are all hidden;
//  4. apply the curve-collection brushes (hiding a curve hides its points);
//  5. hide curves with no point inside the curve brushes;
//  6. record whether any step excluded something.
func (cl *CurveList) OnBrushChange() {
	for _, c := range cl.curves {
		c.SetInBrush(true)
	}

	pointApplied := cl.SetBrushValues()

	for _, c := range cl.curves {
		hidden := true
		for _, p := range c.points {
			if p.inBrush {
				hidden = false
				break
			}
		}
		if hidden {
			c.SetInBrush(false)
		}
	}

	collectionApplied := cl.collection.SetBrushValues()
	curveApplied := cl.setCurveBrushValues()
	cl.brushApplied = pointApplied || collectionApplied || curveApplied
}

func (cl *CurveList) setCurveBrushValues() bool {
	if cl.curveBrushes.Len() == 0 {
		return false
	}
	applied := false
	for _, c := range cl.curves {
		inside := false
		for _, p := range c.points {
			if cl.curveBrushes.Accepts(p) {
				inside = true
				break
			}
		}
		if !inside {
			c.SetInBrush(false)
			applied = true
		}
	}
	return applied
}

// AddCurveBrush registers (or replaces) owner's curve brush, recomputes and
// notifies subscribers.
func (cl *CurveList) AddCurveBrush(owner string, filters ...Filter) {
	cl.curveBrushes.Set(owner, filters)
	cl.OnBrushChange()
	cl.bus.publish(BrushEvent{Level: LevelCurve, Owner: owner, BrushApplied: cl.brushApplied})
}

// RemoveCurveBrush drops owner's curve brush, recomputes and notifies.
func (cl *CurveList) RemoveCurveBrush(owner string) {
	cl.curveBrushes.Remove(owner)
	cl.OnBrushChange()
	cl.bus.publish(BrushEvent{Level: LevelCurve, Owner: owner, Removed: true, BrushApplied: cl.brushApplied})
}

// Recompute runs OnBrushChange and notifies subscribers with an ownerless
// event. Use it after AddBrushNoUpdate or ConsumeFilters.
func (cl *CurveList) Recompute() {
	cl.OnBrushChange()
	cl.bus.publish(BrushEvent{BrushApplied: cl.brushApplied})
}

// CellsAtFrame returns the points segmented in one frame of one location, in
// ingestion order.
func (cl *CurveList) CellsAtFrame(location, frame int) []*Point {
	fc, ok := cl.cells[frameKey{location: location, frame: frame}]
	if !ok {
		return nil
	}
	out := make([]*Point, 0, len(fc.labels))
	for _, label := range fc.labels {
		out = append(out, fc.byLabel[label].Point)
	}
	return out
}

// CellFromLabel resolves a segmentation label to its point.
func (cl *CurveList) CellFromLabel(location, frame, label int) (CellRef, bool) {
	fc, ok := cl.cells[frameKey{location: location, frame: frame}]
	if !ok {
		return CellRef{}, false
	}
	ref, ok := fc.byLabel[label]
	return ref, ok
}

// MinMaxMap returns the extent of every point attribute. It is built once.
func (cl *CurveList) MinMaxMap() map[string]Bound {
	cl.cacheMu.Lock()
	defer cl.cacheMu.Unlock()
	if cl.minMaxMap != nil {
		return cl.minMaxMap
	}
	m := make(map[string]Bound)
	for _, p := range cl.points {
		for _, k := range p.Keys() {
			v := p.Value(k)
			if math.IsNaN(v) {
				continue
			}
			b, ok := m[k]
			if !ok {
				m[k] = Bound{Low: v, High: v}
				continue
			}
			m[k] = Bound{Low: math.Min(b.Low, v), High: math.Max(b.High, v)}
		}
	}
	cl.minMaxMap = m
	return m
}

// FrameMass is the mean mass of every sample taken in one frame.
type FrameMass struct {
	Frame int     `json:"frame"`
	Mass  float64 `json:"mass"`
}

// AverageGrowthCurve returns the mean mass per frame, ordered by frame id.
// Only frames with at least one mass sample appear.
func (cl *CurveList) AverageGrowthCurve() []FrameMass {
	cl.cacheMu.Lock()
	defer cl.cacheMu.Unlock()
	if cl.averageGrowth != nil {
		return cl.averageGrowth
	}
	type acc struct {
		sum   float64
		count int
	}
	byFrame := make(map[int]*acc)
	for _, p := range cl.points {
		frame, mass := p.Value(KeyFrameID), p.Value(KeyMass)
		if math.IsNaN(frame) || math.IsNaN(mass) {
			continue
		}
		a, ok := byFrame[int(frame)]
		if !ok {
			a = &acc{}
			byFrame[int(frame)] = a
		}
		a.sum += mass
		a.count++
	}
	out := make([]FrameMass, 0, len(byFrame))
	for frame, a := range byFrame {
		out = append(out, FrameMass{Frame: frame, Mass: a.sum / float64(a.count)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	cl.averageGrowth = out
	return out
}

// PointsAtInput returns each curve's (possibly interpolated) point at t,
// skipping curves that do not span t.
func (cl *CurveList) PointsAtInput(t float64) []*Point {
	out := make([]*Point, 0, len(cl.curves))
	for _, c := range cl.curves {
		if p, ok := c.PointAt(t); ok {
			out = append(out, p)
		}
	}
	return out
}

// CreateFilteredCurveList returns a new list holding only in-brush curves.
func (cl *CurveList) CreateFilteredCurveList() *CurveList {
	filtered := make([]*Curve, 0, len(cl.curves))
	for _, c := range cl.curves {
		if c.inBrush {
			filtered = append(filtered, c)
		}
	}
	out := NewCurveList(filtered, cl.spec)
	out.inputKey = cl.inputKey
	out.SourceKey = cl.SourceKey
	out.PostfixKey = cl.PostfixKey
	return out
}

// ApplyDefaultFilters hides tracks shorter than half the longest track. The
// brush is registered without recomputing.
func (cl *CurveList) ApplyDefaultFilters() {
	_, maxLength := cl.collection.MinMax(KeyTrackLength)
	if math.IsInf(maxLength, 0) || math.IsNaN(maxLength) {
		return
	}
	cl.collection.AddBrushNoUpdate("default", Filter{
		Key:   KeyTrackLength,
		Bound: Bound{Low: maxLength / 2, High: maxLength},
	})
}

// DataFilter is one owner's brush at one level, in a portable form.
type DataFilter struct {
	Level   Level    `json:"type"`
	Owner   string   `json:"filter_key"`
	Filters []Filter `json:"filters"`
}

// GetAllFilters lists every registered brush: curve brushes, then cell
// brushes, then track brushes.
func (cl *CurveList) GetAllFilters() []DataFilter {
	var out []DataFilter
	for _, owner := range cl.curveBrushes.Owners() {
		out = append(out, DataFilter{Level: LevelCurve, Owner: owner, Filters: cl.curveBrushes.Filters(owner)})
	}
	for _, owner := range cl.Brushes().Owners() {
		out = append(out, DataFilter{Level: LevelCell, Owner: owner, Filters: cl.Brushes().Filters(owner)})
	}
	for _, owner := range cl.collection.Brushes().Owners() {
		out = append(out, DataFilter{Level: LevelTrack, Owner: owner, Filters: cl.collection.Brushes().Filters(owner)})
	}
	return out
}

// ConsumeFilters registers filters taken from another list (or a saved
// snapshot). Each owner gets a unique suffix so it cannot merge with a live
// widget's brush. Nothing is recomputed; call Recompute afterwards. An
// unknown level rejects the whole set before anything is registered.
func (cl *CurveList) ConsumeFilters(filters []DataFilter) error {
	for _, df := range filters {
		if _, err := ParseLevel(string(df.Level)); err != nil {
			return err
		}
	}
	for _, df := range filters {
		owner := df.Owner + "@" + uuid.NewString()[:8]
		switch df.Level {
		case LevelCurve:
			cl.curveBrushes.Set(owner, df.Filters)
		case LevelCell:
			cl.AddBrushNoUpdate(owner, df.Filters...)
		case LevelTrack:
			cl.collection.AddBrushNoUpdate(owner, df.Filters...)
		}
	}
	return nil
}

// GetFacetOptions lists one option per location map of the dataset, plus one
// composite option per pair of maps. Facets are computed only when an
// option's Facets is called.
func (cl *CurveList) GetFacetOptions() []FacetOption {
	names := cl.spec.LocationMapNames()
	opts := make([]FacetOption, 0, len(names))
	for _, name := range names {
		lm := cl.spec.LocationMaps[name]
		opts = append(opts, FacetOption{
			Name:   name,
			Facets: func() FacetResult { return CreateFacetedDatasets(cl, lm) },
		})
	}
	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := cl.spec.LocationMaps[names[i]], cl.spec.LocationMaps[names[j]]
			opts = append(opts, FacetOption{
				Name:   compositeLabel(names[i], names[j]),
				Facets: func() FacetResult { return CreateCompositeFacets(cl, a, b) },
			})
		}
	}
	return opts
}
