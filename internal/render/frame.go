// Package render draws frame images, segment outlines and track montages
// using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/pkg/colormap"
	"golang.org/x/image/draw"
)

// Config contains renderer configuration.
type Config struct {
	// TileSize is the edge length of one montage cell.
	TileSize        int
	DefaultColormap string
}

// Dimmed is the outline color of segments outside the brush.
var Dimmed = color.RGBA{R: 128, G: 128, B: 128, A: 160}

// Renderer renders frames and montages to PNG.
type Renderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	r := &Renderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
	if !r.HasColormap(cfg.DefaultColormap) {
		r.config.DefaultColormap = "categorical"
	}
	return r
}

// Colormap returns the named colormap, or the default one.
func (r *Renderer) Colormap(name string) colormap.Colormap {
	if c, ok := colormap.Lookup(name); ok {
		return c
	}
	c, _ := colormap.Lookup(r.config.DefaultColormap)
	return c
}

// HasColormap reports whether name is a known colormap.
func (r *Renderer) HasColormap(name string) bool {
	_, ok := colormap.Lookup(name)
	return ok
}

// Outline describes the segment borders drawn over one frame.
type Outline struct {
	Labels *imagestack.ImageLabels
	// Tile is the frame's rectangle in label bundle coordinates.
	Tile image.Rectangle
	// Scale maps one label pixel to Scale output pixels.
	Scale float64
	// InBrush reports whether a label's cell is in brush. Nil means every
	// label is.
	InBrush func(label int) bool
	// Values colors labels by a normalized value instead of by label.
	Values   map[int]float64
	Colormap string
}

func (o *Outline) color(r *Renderer, label int) color.Color {
	if o.InBrush != nil && !o.InBrush(label) {
		return Dimmed
	}
	if v, ok := o.Values[label]; ok && !math.IsNaN(v) {
		return r.Colormap(o.Colormap).At(v)
	}
	return colormap.Categorical.AtIndex(label)
}

// RenderFrame encodes frame, with outline drawn over it when non-nil. The
// outline is drawn into frame itself.
func (r *Renderer) RenderFrame(frame *image.RGBA, outline *Outline) ([]byte, error) {
	dc := gg.NewContextForRGBA(frame)
	if outline != nil && outline.Labels != nil {
		r.drawOutline(dc, outline)
	}
	return r.encodeContext(dc)
}

func (r *Renderer) drawOutline(dc *gg.Context, o *Outline) {
	scale := o.Scale
	if scale <= 0 {
		scale = 1
	}
	for y := o.Tile.Min.Y; y < o.Tile.Max.Y; y++ {
		for x := o.Tile.Min.X; x < o.Tile.Max.X; x++ {
			if !o.Labels.IsBorder(y, x) {
				continue
			}
			dc.SetColor(o.color(r, o.Labels.Value(y, x)))
			dc.DrawRectangle(float64(x-o.Tile.Min.X)*scale, float64(y-o.Tile.Min.Y)*scale, scale, scale)
			dc.Fill()
		}
	}
}

// Cell is one crop of a track montage.
type Cell struct {
	Frame *image.RGBA
	// Box is the cell's bounding box in Frame coordinates.
	Box     image.Rectangle
	Label   int
	InBrush bool
}

// RenderMontage lays cells out left to right, top to bottom, columns per
// row, each scaled to fit a TileSize square. A column count of zero puts
// every cell on one row.
func (r *Renderer) RenderMontage(cells []Cell, columns int) ([]byte, error) {
	if len(cells) == 0 {
		return r.encodeImage(image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize)))
	}
	if columns <= 0 || columns > len(cells) {
		columns = len(cells)
	}
	rows := (len(cells) + columns - 1) / columns
	ts := r.config.TileSize

	dc := gg.NewContext(columns*ts, rows*ts)
	dc.SetColor(color.White)
	dc.Clear()

	cellCtx := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(cellCtx)

	for i, c := range cells {
		r.drawCell(cellCtx, c)
		dc.DrawImage(cellCtx.Image(), (i%columns)*ts, (i/columns)*ts)
	}
	return r.encodeContext(dc)
}

func (r *Renderer) drawCell(dc *gg.Context, c Cell) {
	dc.SetColor(color.White)
	dc.Clear()

	box := c.Box.Intersect(c.Frame.Bounds())
	if box.Empty() {
		return
	}
	ts := float64(r.config.TileSize)
	fit := math.Min(ts/float64(box.Dx()), ts/float64(box.Dy()))
	w := max(int(float64(box.Dx())*fit), 1)
	h := max(int(float64(box.Dy())*fit), 1)

	crop := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(crop, crop.Bounds(), c.Frame, box, draw.Src, nil)
	offX, offY := (r.config.TileSize-w)/2, (r.config.TileSize-h)/2
	dc.DrawImage(crop, offX, offY)

	if c.InBrush {
		dc.SetColor(colormap.Categorical.AtIndex(c.Label))
	} else {
		dc.SetColor(Dimmed)
	}
	dc.SetLineWidth(2)
	dc.DrawRectangle(float64(offX)+1, float64(offY)+1, float64(w)-2, float64(h)-2)
	dc.Stroke()
}

func (r *Renderer) encodeContext(dc *gg.Context) ([]byte, error) {
	return r.encodeImage(dc.Image())
}

func (r *Renderer) encodeImage(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
