package service

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"

	"github.com/trackviz/server/internal/cache"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/render"
)

const (
	// maxMontageCells bounds a montage; longer tracks are sampled evenly.
	maxMontageCells = 64
	// montagePadding surrounds each cell's bounding box, in output pixels.
	montagePadding = 8
)

// FrameOptions selects what is drawn over a frame.
type FrameOptions struct {
	Outline bool
	// ColorBy colors outlines by a point attribute instead of by label.
	ColorBy  string
	Colormap string
}

// frameIndex converts a Frame ID attribute value, which counts from 1, to
// the image stack's frame index.
func frameIndex(frameID int) (int, error) {
	if frameID < 1 {
		return 0, fmt.Errorf("%w: frame id %d", ErrInvalidArgument, frameID)
	}
	return frameID - 1, nil
}

// Metadata returns the image stack layout.
func (s *DatasetService) Metadata(ctx context.Context) (imagestack.Metadata, error) {
	if s.images == nil {
		return imagestack.Metadata{}, ErrNoImages
	}
	return s.images.Metadata(ctx)
}

// FrameImage renders one frame of one location as PNG.
func (s *DatasetService) FrameImage(ctx context.Context, location, frameID int, opts FrameOptions) ([]byte, error) {
	if s.images == nil {
		return nil, ErrNoImages
	}
	idx, err := frameIndex(frameID)
	if err != nil {
		return nil, err
	}

	variant := ""
	if opts.Outline {
		variant = fmt.Sprintf("outline:g%d:%s:%s", s.generation.Load(), opts.ColorBy, opts.Colormap)
	}
	key := cache.FrameKey(s.datasetID, location, frameID, variant)
	if s.cache != nil {
		if data, ok := s.cache.GetFrame(key); ok {
			return data, nil
		}
	}

	img, err := s.images.Frame(ctx, location, idx)
	if err != nil {
		return nil, err
	}
	var outline *render.Outline
	if opts.Outline {
		outline, err = s.outline(ctx, location, frameID, opts)
		if err != nil {
			return nil, err
		}
	}

	data, err := s.renderer.RenderFrame(img, outline)
	if err != nil {
		return nil, fmt.Errorf("render frame %d of location %d: %w", frameID, location, err)
	}
	s.storeFrame(key, data)
	return data, nil
}

func (s *DatasetService) storeFrame(key string, data []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetFrame(key, data); err != nil {
		log.Printf("[DatasetService] %s: cache %s: %v", s.datasetID, key, err)
	}
}

func (s *DatasetService) outline(ctx context.Context, location, frameID int, opts FrameOptions) (*render.Outline, error) {
	idx := frameID - 1
	meta, err := s.images.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	labels, err := s.images.Labels(ctx, location, idx)
	if err != nil {
		return nil, err
	}

	inBrush := make(map[int]bool)
	var values map[int]float64

	s.mu.RLock()
	var lo, hi float64
	if opts.ColorBy != "" {
		if !hasNumber(s.curves, opts.ColorBy) {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: attribute %q", ErrNotFound, opts.ColorBy)
		}
		lo, hi = s.curves.MinMax(opts.ColorBy)
		values = make(map[int]float64)
	}
	for _, p := range s.curves.CellsAtFrame(location, frameID) {
		label, ok := intAttr(p, model.KeySegmentLabel)
		if !ok {
			continue
		}
		inBrush[label] = p.InBrush()
		if values != nil {
			values[label] = normalize(p.Value(opts.ColorBy), lo, hi)
		}
	}
	s.mu.RUnlock()

	top, left := meta.TileTopLeft(idx)
	return &render.Outline{
		Labels:   labels,
		Tile:     image.Rect(left, top, left+meta.TileWidth, top+meta.TileHeight),
		Scale:    meta.ScaleFactor,
		InBrush:  func(label int) bool { return inBrush[label] },
		Values:   values,
		Colormap: opts.Colormap,
	}, nil
}

func normalize(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return v
	}
	if hi <= lo {
		return 0.5
	}
	return (v - lo) / (hi - lo)
}

// LabelHit is what lies under one pixel of a rendered frame.
type LabelHit struct {
	Label  int       `json:"label"`
	Border bool      `json:"border"`
	Cell   *CellInfo `json:"cell,omitempty"`
}

// LabelAt resolves pixel (x, y) of a rendered frame, in output pixels, to
// its segment and cell.
func (s *DatasetService) LabelAt(ctx context.Context, location, frameID, x, y int) (LabelHit, error) {
	if s.images == nil {
		return LabelHit{}, ErrNoImages
	}
	idx, err := frameIndex(frameID)
	if err != nil {
		return LabelHit{}, err
	}
	meta, err := s.images.Metadata(ctx)
	if err != nil {
		return LabelHit{}, err
	}
	tx := int(math.Floor(float64(x) / meta.ScaleFactor))
	ty := int(math.Floor(float64(y) / meta.ScaleFactor))

	label, err := s.images.LabelValueAt(ctx, location, idx, tx, ty)
	if err != nil {
		return LabelHit{}, err
	}
	border, err := s.images.IsBorderAt(ctx, location, idx, tx, ty)
	if err != nil {
		return LabelHit{}, err
	}
	hit := LabelHit{Label: label, Border: border}
	if label == 0 {
		return hit, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if ref, ok := s.curves.CellFromLabel(location, frameID, label); ok {
		info := s.cellInfo(ref, label)
		hit.Cell = &info
	}
	return hit, nil
}

type montageSample struct {
	location int
	frameID  int
	label    int
	inBrush  bool
}

// Montage renders crops of one curve's cell across its frames, columns per
// row.
func (s *DatasetService) Montage(ctx context.Context, curveID string, columns int) ([]byte, error) {
	if s.images == nil {
		return nil, ErrNoImages
	}

	s.mu.RLock()
	c, ok := s.curves.CurveByID(curveID)
	if !ok {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: curve %q", ErrNotFound, curveID)
	}
	var samples []montageSample
	for _, p := range c.Points() {
		loc, ok1 := intAttr(p, model.KeyLocationID)
		frame, ok2 := intAttr(p, model.KeyFrameID)
		label, ok3 := intAttr(p, model.KeySegmentLabel)
		if ok1 && ok2 && ok3 && frame >= 1 {
			samples = append(samples, montageSample{location: loc, frameID: frame, label: label, inBrush: p.InBrush()})
		}
	}
	gen := s.generation.Load()
	s.mu.RUnlock()

	samples = sampleEvenly(samples, maxMontageCells)
	key := cache.MontageKey(s.datasetID, curveID, gen, columns)
	if s.cache != nil {
		if data, ok := s.cache.GetFrame(key); ok {
			return data, nil
		}
	}

	cells, err := s.montageCells(ctx, samples)
	if err != nil {
		return nil, err
	}
	data, err := s.renderer.RenderMontage(cells, columns)
	if err != nil {
		return nil, fmt.Errorf("render montage of %q: %w", curveID, err)
	}
	s.storeFrame(key, data)
	return data, nil
}

func (s *DatasetService) montageCells(ctx context.Context, samples []montageSample) ([]render.Cell, error) {
	meta, err := s.images.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	byLocation := make(map[int][]int)
	for i, sm := range samples {
		byLocation[sm.location] = append(byLocation[sm.location], i)
	}

	cells := make([]render.Cell, len(samples))
	for loc, which := range byLocation {
		idxs := make([]int, len(which))
		for j, i := range which {
			idxs[j] = samples[i].frameID - 1
		}
		frames, err := s.images.Frames(ctx, loc, idxs)
		if err != nil {
			return nil, err
		}
		for j, i := range which {
			sm := samples[i]
			labels, err := s.images.Labels(ctx, loc, idxs[j])
			if err != nil {
				return nil, err
			}
			top, left := meta.TileTopLeft(idxs[j])
			tile := image.Rect(left, top, left+meta.TileWidth, top+meta.TileHeight)
			cell := render.Cell{Frame: frames[j], Label: sm.label, InBrush: sm.inBrush}
			if box, ok := labels.BoundingBox(sm.label, tile); ok {
				cell.Box = scaleRect(box.Sub(tile.Min), meta.ScaleFactor).Inset(-montagePadding)
			}
			cells[i] = cell
		}
	}
	return cells, nil
}

func scaleRect(r image.Rectangle, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(float64(r.Min.X)*scale)),
		int(math.Floor(float64(r.Min.Y)*scale)),
		int(math.Ceil(float64(r.Max.X)*scale)),
		int(math.Ceil(float64(r.Max.Y)*scale)),
	)
}

// sampleEvenly keeps at most n items, spread over the whole slice and
// including both ends.
func sampleEvenly[T any](items []T, n int) []T {
	if len(items) <= n || n < 2 {
		return items
	}
	out := make([]T, n)
	step := float64(len(items)-1) / float64(n-1)
	for i := range out {
		out[i] = items[int(math.Round(float64(i)*step))]
	}
	return out
}
