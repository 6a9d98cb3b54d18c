// Package imagestack serves per-frame image tiles and segmentation labels
// out of bundled tile images. A bundle packs tilesPerFile frames of one
// location in a grid of numberOfColumns columns.
package imagestack

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Metadata is the per-dataset tile layout, decoded from imageMetaData.json.
type Metadata struct {
	TileWidth       int     `json:"tileWidth"`
	TileHeight      int     `json:"tileHeight"`
	NumberOfColumns int     `json:"numberOfColumns"`
	TilesPerFile    int     `json:"tilesPerFile"`
	ScaleFactor     float64 `json:"scaleFactor,omitempty"`
}

// ParseMetadata decodes and validates imageMetaData.json. A missing
// scaleFactor defaults to 1.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, fmt.Errorf("decode image metadata: %w", err)
	}
	if m.ScaleFactor == 0 {
		m.ScaleFactor = 1
	}
	if err := m.Validate(); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// Validate rejects layouts the coordinate math cannot use.
func (m Metadata) Validate() error {
	var errs []error
	if m.TileWidth <= 0 || m.TileHeight <= 0 {
		errs = append(errs, fmt.Errorf("tile size %dx%d must be positive", m.TileWidth, m.TileHeight))
	}
	if m.NumberOfColumns <= 0 {
		errs = append(errs, fmt.Errorf("numberOfColumns %d must be positive", m.NumberOfColumns))
	}
	if m.TilesPerFile <= 0 {
		errs = append(errs, fmt.Errorf("tilesPerFile %d must be positive", m.TilesPerFile))
	}
	if m.ScaleFactor < 0 {
		errs = append(errs, fmt.Errorf("scaleFactor %v must not be negative", m.ScaleFactor))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid image metadata: %w", errors.Join(errs...))
	}
	return nil
}

// TileTopLeft returns the pixel offset of frame's tile within its bundle.
func (m Metadata) TileTopLeft(frame int) (top, left int) {
	left = (frame % m.NumberOfColumns) * m.TileWidth
	top = ((frame % m.TilesPerFile) / m.NumberOfColumns) * m.TileHeight
	return top, left
}

// BundleIndex returns the bundle holding frame.
func (m Metadata) BundleIndex(frame int) int {
	return frame / m.TilesPerFile
}
