package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Attribute names the model itself depends on.
const (
	KeyLocationID   = "Location ID"
	KeyFrameID      = "Frame ID"
	KeySegmentLabel = "segmentLabel"
	KeyTime         = "Time (h)"
	KeyMass         = "Mass (pg)"
	KeyTrackLength  = "Track Length"
)

// LocationRange is an inclusive range of location ids, encoded as [low, high].
type LocationRange struct {
	Low  int
	High int
}

func (r LocationRange) Contains(loc int) bool { return r.Low <= loc && loc <= r.High }

func (r LocationRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Low, r.High})
}

func (r *LocationRange) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("location range must be [low, high]: %w", err)
	}
	r.Low, r.High = pair[0], pair[1]
	return nil
}

// LocationMap assigns location id ranges to category labels.
type LocationMap map[string][]LocationRange

// Categories returns the category labels in sorted order.
func (lm LocationMap) Categories() []string {
	out := make([]string, 0, len(lm))
	for label := range lm {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

// Category returns the first category, in label order, whose ranges contain loc.
func (lm LocationMap) Category(loc int) (string, bool) {
	for _, label := range lm.Categories() {
		for _, r := range lm[label] {
			if r.Contains(loc) {
				return label, true
			}
		}
	}
	return "", false
}

// DatasetSpec describes one dataset as published in the dataset list.
type DatasetSpec struct {
	UniqueID      string                 `json:"uniqueId"`
	DisplayName   string                 `json:"displayName"`
	GoogleDriveID string                 `json:"googleDriveId"`
	FolderPath    string                 `json:"folder"`
	LocationMaps  map[string]LocationMap `json:"locationMaps"`
}

// LocationMapNames returns the facet names in sorted order.
func (s DatasetSpec) LocationMapNames() []string {
	out := make([]string, 0, len(s.LocationMaps))
	for name := range s.LocationMaps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
