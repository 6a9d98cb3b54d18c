package model

import "sort"

// ImageFrame is one imaged frame of a location.
type ImageFrame struct {
	FrameID int  `json:"frameId"`
	InBrush bool `json:"inBrush"`
}

// ImageLocation is one imaged location and the frames it has samples in.
type ImageLocation struct {
	LocationID   int           `json:"locationId"`
	InBrush      bool          `json:"inBrush"`
	InBrushCount int           `json:"inBrushCount"`
	TotalCount   int           `json:"totalCount"`
	Frames       []*ImageFrame `json:"frames"`

	byFrame map[int]*ImageFrame
}

// InBrushPercent is the fraction of the location's points that are in brush.
func (l *ImageLocation) InBrushPercent() float64 {
	if l.TotalCount == 0 {
		return 0
	}
	return float64(l.InBrushCount) / float64(l.TotalCount)
}

// Frame looks up a frame by id.
func (l *ImageLocation) Frame(id int) (*ImageFrame, bool) {
	f, ok := l.byFrame[id]
	return f, ok
}

// FrameIndex is the location/frame inventory of a collection, with in-brush
// flags derived from the points it was built from. A location or frame is in
// brush when at least one of its points is.
type FrameIndex struct {
	locationKey string
	frameKey    string
	locations   []*ImageLocation
	byLocation  map[int]*ImageLocation
}

// NewFrameIndex scans c once for location and frame ids. Elements without a
// numeric location or frame are skipped. Locations keep first-seen order;
// frames are sorted by id.
func NewFrameIndex(c Collection, locationKey, frameKey string) *FrameIndex {
	fi := &FrameIndex{
		locationKey: locationKey,
		frameKey:    frameKey,
		byLocation:  make(map[int]*ImageLocation),
	}
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		loc, ok := intValue(e, locationKey)
		if !ok {
			continue
		}
		frame, ok := intValue(e, frameKey)
		if !ok {
			continue
		}
		l, ok := fi.byLocation[loc]
		if !ok {
			l = &ImageLocation{LocationID: loc, byFrame: make(map[int]*ImageFrame)}
			fi.byLocation[loc] = l
			fi.locations = append(fi.locations, l)
		}
		if _, ok := l.byFrame[frame]; !ok {
			f := &ImageFrame{FrameID: frame}
			l.byFrame[frame] = f
			l.Frames = append(l.Frames, f)
		}
	}
	for _, l := range fi.locations {
		sort.Slice(l.Frames, func(i, j int) bool { return l.Frames[i].FrameID < l.Frames[j].FrameID })
	}
	fi.Update(c)
	return fi
}

// Update recomputes the in-brush flags and counts from c's current state.
func (fi *FrameIndex) Update(c Collection) {
	for _, l := range fi.locations {
		l.InBrush = false
		l.InBrushCount = 0
		l.TotalCount = 0
		for _, f := range l.Frames {
			f.InBrush = false
		}
	}
	for i := 0; i < c.Len(); i++ {
		e := c.At(i)
		loc, ok := intValue(e, fi.locationKey)
		if !ok {
			continue
		}
		frame, ok := intValue(e, fi.frameKey)
		if !ok {
			continue
		}
		l, ok := fi.byLocation[loc]
		if !ok {
			continue
		}
		l.TotalCount++
		if !e.InBrush() {
			continue
		}
		l.InBrush = true
		l.InBrushCount++
		if f, ok := l.byFrame[frame]; ok {
			f.InBrush = true
		}
	}
}

// Locations returns every location in first-seen order.
func (fi *FrameIndex) Locations() []*ImageLocation { return fi.locations }

// Location looks up a location by id.
func (fi *FrameIndex) Location(id int) (*ImageLocation, bool) {
	l, ok := fi.byLocation[id]
	return l, ok
}

// BrushedLocations returns the ids of the in-brush locations.
func (fi *FrameIndex) BrushedLocations() []int {
	var out []int
	for _, l := range fi.locations {
		if l.InBrush {
			out = append(out, l.LocationID)
		}
	}
	return out
}

// BrushedImageCount returns the number of in-brush frames over all locations.
func (fi *FrameIndex) BrushedImageCount() int {
	n := 0
	for _, l := range fi.locations {
		for _, f := range l.Frames {
			if f.InBrush {
				n++
			}
		}
	}
	return n
}
