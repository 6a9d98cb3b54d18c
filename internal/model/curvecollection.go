package model

// CurveCollection views a CurveList's curves as the items of a collection,
// one element per curve. Its brushes form their own owner namespace and are
// applied as step 4 of CurveList.OnBrushChange.
type CurveCollection struct {
	*Index
	parent *CurveList
}

func newCurveCollection(parent *CurveList, recompute func() bool) *CurveCollection {
	cc := &CurveCollection{parent: parent}
	cc.Index = newIndex(cc, LevelTrack, parent.bus, recompute)
	return cc
}

// Len returns the number of curves.
func (cc *CurveCollection) Len() int { return len(cc.parent.curves) }

// At returns curve i.
func (cc *CurveCollection) At(i int) Element { return cc.parent.curves[i] }

// CurveList returns the list this view belongs to.
func (cc *CurveCollection) CurveList() *CurveList { return cc.parent }

// GetFacetOptions returns the parent's options; callers use each facet's
// Data.Collection() for curve-level distributions.
func (cc *CurveCollection) GetFacetOptions() []FacetOption {
	return cc.parent.GetFacetOptions()
}
