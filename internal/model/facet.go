package model

import (
	"fmt"
	"log"
)

// Facet is one category's sub-dataset. Data is an independent CurveList that
// shares Curve and Point objects with the list it was cut from.
type Facet struct {
	Name string
	Data *CurveList
}

// FacetResult is a partition plus the curves it could not place.
type FacetResult struct {
	Facets  []Facet
	Dropped []string
}

// FacetOption is a named way of partitioning a dataset. Facets computes the
// partition on demand; nothing is cached.
type FacetOption struct {
	Name   string
	Facets func() FacetResult
}

func compositeLabel(a, b string) string {
	return fmt.Sprintf("%s × %s", a, b)
}

// curveLocation prefers the curve's own Location ID attribute and falls back
// to its first point.
func curveLocation(c *Curve) (int, bool) {
	if _, ok := c.Lookup(KeyLocationID); ok {
		return intValue(c, KeyLocationID)
	}
	if len(c.points) == 0 {
		return 0, false
	}
	return intValue(c.points[0], KeyLocationID)
}

// CreateFacetedDatasets partitions cl's curves by location category. Curves
// whose location matches no range are left out of every facet and reported
// in Dropped. Facets are ordered by category label; empty categories are
// omitted.
func CreateFacetedDatasets(cl *CurveList, lm LocationMap) FacetResult {
	return partition(cl, func(c *Curve) (string, bool) {
		loc, ok := curveLocation(c)
		if !ok {
			return "", false
		}
		return lm.Category(loc)
	}, lm.Categories())
}

// CreateCompositeFacets partitions by the pair of categories a curve falls
// into under two location maps, labelled "a × b".
func CreateCompositeFacets(cl *CurveList, a, b LocationMap) FacetResult {
	var order []string
	for _, la := range a.Categories() {
		for _, lb := range b.Categories() {
			order = append(order, compositeLabel(la, lb))
		}
	}
	return partition(cl, func(c *Curve) (string, bool) {
		loc, ok := curveLocation(c)
		if !ok {
			return "", false
		}
		ca, ok := a.Category(loc)
		if !ok {
			return "", false
		}
		cb, ok := b.Category(loc)
		if !ok {
			return "", false
		}
		return compositeLabel(ca, cb), true
	}, order)
}

func partition(cl *CurveList, categorize func(*Curve) (string, bool), order []string) FacetResult {
	groups := make(map[string][]*Curve)
	var res FacetResult
	for _, c := range cl.curves {
		label, ok := categorize(c)
		if !ok {
			res.Dropped = append(res.Dropped, c.id)
			continue
		}
		groups[label] = append(groups[label], c)
	}
	for _, label := range order {
		curves, ok := groups[label]
		if !ok {
			continue
		}
		data := NewCurveList(curves, cl.spec)
		data.inputKey = cl.inputKey
		data.SourceKey = cl.SourceKey
		data.PostfixKey = cl.PostfixKey
		res.Facets = append(res.Facets, Facet{Name: label, Data: data})
	}
	if len(res.Dropped) > 0 {
		log.Printf("[Facet] %d of %d curves matched no location category", len(res.Dropped), len(cl.curves))
	}
	return res
}
