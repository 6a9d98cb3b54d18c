package imagestack

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// Frame decodes the bundle holding frame and returns the frame's tile, scaled
// by the metadata scale factor.
func (d *DataRequest) Frame(ctx context.Context, location, frame int) (*image.RGBA, error) {
	frames, err := d.Frames(ctx, location, []int{frame})
	if err != nil {
		return nil, err
	}
	return frames[0], nil
}

// Frames returns several frames of one location. Each bundle involved is
// fetched and decoded once; tiles are cut out in parallel.
func (d *DataRequest) Frames(ctx context.Context, location int, frames []int) ([]*image.RGBA, error) {
	m, err := d.Metadata(ctx)
	if err != nil {
		return nil, err
	}

	bundles := make(map[int]image.Image)
	for _, f := range frames {
		b := m.BundleIndex(f)
		if _, ok := bundles[b]; ok {
			continue
		}
		tile, err := d.Image(ctx, location, f)
		if err != nil {
			return nil, err
		}
		img, err := jpeg.Decode(bytes.NewReader(tile.Blob))
		if err != nil {
			return nil, fmt.Errorf("decode bundle %d of location %d: %w", b, location, err)
		}
		bundles[b] = img
	}

	out := make([]*image.RGBA, len(frames))
	g, ctx := errgroup.WithContext(ctx)
	for i, f := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			top, left := m.TileTopLeft(f)
			rect := image.Rect(left, top, left+m.TileWidth, top+m.TileHeight)
			tile, err := cropScale(bundles[m.BundleIndex(f)], rect, m.ScaleFactor)
			if err != nil {
				return fmt.Errorf("frame %d: %w", f, err)
			}
			out[i] = tile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func cropScale(src image.Image, rect image.Rectangle, scale float64) (*image.RGBA, error) {
	if !rect.In(src.Bounds()) {
		return nil, fmt.Errorf("%w: tile %v outside bundle %v", ErrOutOfRange, rect, src.Bounds())
	}
	if scale <= 0 {
		scale = 1
	}
	w := int(math.Round(float64(rect.Dx()) * scale))
	h := int(math.Round(float64(rect.Dy()) * scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Copy(dst, image.Point{}, src, rect, draw.Src, nil)
		return dst, nil
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)
	return dst, nil
}
