package model

// SearchResult is the outcome of BinarySearchIndex: either an exact index,
// or the pair of indices bracketing the insertion point. A bracket side is
// -1 when the query lies outside the list on that side.
type SearchResult struct {
	Exact bool
	Index int
	Low   int
	High  int
}

// Bracketed reports whether both bracket sides are inside the list.
func (r SearchResult) Bracketed() bool {
	return !r.Exact && r.Low >= 0 && r.High >= 0
}

// BinarySearchIndex searches a sorted list of n elements. cmp(i) compares
// element i against the query captured by the caller and returns a negative
// value if the element sorts before the query, zero on a match and a positive
// value if it sorts after.
func BinarySearchIndex(n int, cmp func(i int) int) SearchResult {
	if n == 0 {
		return SearchResult{Low: -1, High: -1}
	}
	if c := cmp(0); c > 0 {
		return SearchResult{Low: -1, High: 0}
	} else if c == 0 {
		return SearchResult{Exact: true, Index: 0}
	}
	if c := cmp(n - 1); c < 0 {
		return SearchResult{Low: n - 1, High: -1}
	} else if c == 0 {
		return SearchResult{Exact: true, Index: n - 1}
	}

	// Invariant: cmp(lo) < 0 < cmp(hi).
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := int(uint(lo+hi) >> 1)
		switch c := cmp(mid); {
		case c == 0:
			return SearchResult{Exact: true, Index: mid}
		case c > 0:
			hi = mid
		default:
			lo = mid
		}
	}
	return SearchResult{Low: lo, High: hi}
}

// CompareFloat is a three-way comparison suitable for BinarySearchIndex.
// NaN compares as equal to nothing and sorts after every number.
func CompareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	case a == b:
		return 0
	case a != a && b != b:
		return 0
	case a != a:
		return 1
	default:
		return -1
	}
}
