// Package colormap maps normalized values and segment labels to colors.
package colormap

import (
	"image/color"
	"sort"
	"strings"
)

// Colormap maps normalized values [0, 1] and category indexes to colors.
type Colormap interface {
	At(t float64) color.Color
	AtIndex(i int) color.Color
}

// Gradient interpolates linearly between evenly spaced color stops.
type Gradient struct {
	stops []color.RGBA
}

// At returns the color at position t, clamped to [0, 1].
func (g Gradient) At(t float64) color.Color {
	if !(t > 0) {
		return g.stops[0]
	}
	if t >= 1 {
		return g.stops[len(g.stops)-1]
	}

	idx := t * float64(len(g.stops)-1)
	lower := int(idx)
	upper := min(lower+1, len(g.stops)-1)
	return interpolate(g.stops[lower], g.stops[upper], idx-float64(lower))
}

// AtIndex returns the i-th stop, wrapping around.
func (g Gradient) AtIndex(i int) color.Color {
	return g.stops[wrap(i, len(g.stops))]
}

// Reversed returns the gradient running from its last stop to its first.
func (g Gradient) Reversed() Gradient {
	out := make([]color.RGBA, len(g.stops))
	for i, c := range g.stops {
		out[len(out)-1-i] = c
	}
	return Gradient{stops: out}
}

func interpolate(c1, c2 color.RGBA, t float64) color.RGBA {
	return color.RGBA{
		R: uint8(float64(c1.R) + t*(float64(c2.R)-float64(c1.R))),
		G: uint8(float64(c1.G) + t*(float64(c2.G)-float64(c1.G))),
		B: uint8(float64(c1.B) + t*(float64(c2.B)-float64(c1.B))),
		A: 255,
	}
}

// Palette is a fixed list of distinct colors for categories such as
// segment labels or facets.
type Palette struct {
	colors []color.RGBA
}

// At buckets t into the palette.
func (p Palette) At(t float64) color.Color {
	idx := int(t * float64(len(p.colors)))
	return p.colors[max(0, min(idx, len(p.colors)-1))]
}

// AtIndex returns the color of category i, wrapping around. Negative
// indexes wrap too.
func (p Palette) AtIndex(i int) color.Color {
	return p.colors[wrap(i, len(p.colors))]
}

// Len returns the number of distinct colors.
func (p Palette) Len() int { return len(p.colors) }

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// Viridis colormap (matplotlib viridis)
var Viridis = Gradient{
	stops: []color.RGBA{
		{68, 1, 84, 255},
		{72, 35, 116, 255},
		{64, 67, 135, 255},
		{52, 94, 141, 255},
		{41, 120, 142, 255},
		{32, 144, 140, 255},
		{34, 167, 132, 255},
		{68, 190, 112, 255},
		{121, 209, 81, 255},
		{189, 222, 38, 255},
		{253, 231, 37, 255},
	},
}

// Plasma colormap
var Plasma = Gradient{
	stops: []color.RGBA{
		{13, 8, 135, 255},
		{75, 3, 161, 255},
		{125, 3, 168, 255},
		{168, 34, 150, 255},
		{203, 70, 121, 255},
		{229, 107, 93, 255},
		{248, 148, 65, 255},
		{253, 195, 40, 255},
		{240, 249, 33, 255},
	},
}

// Inferno colormap
var Inferno = Gradient{
	stops: []color.RGBA{
		{0, 0, 4, 255},
		{40, 11, 84, 255},
		{101, 21, 110, 255},
		{159, 42, 99, 255},
		{212, 72, 66, 255},
		{245, 125, 21, 255},
		{250, 193, 39, 255},
		{252, 255, 164, 255},
	},
}

// Magma colormap
var Magma = Gradient{
	stops: []color.RGBA{
		{0, 0, 4, 255},
		{28, 16, 68, 255},
		{79, 18, 123, 255},
		{129, 37, 129, 255},
		{181, 54, 122, 255},
		{229, 80, 100, 255},
		{251, 135, 97, 255},
		{254, 194, 135, 255},
		{252, 253, 191, 255},
	},
}

// Greys runs from white to black, for mass and intensity maps.
var Greys = Gradient{
	stops: []color.RGBA{
		{255, 255, 255, 255},
		{189, 189, 189, 255},
		{115, 115, 115, 255},
		{0, 0, 0, 255},
	},
}

// Categorical is the ten-color category palette used for segment labels
// and facets.
var Categorical = Palette{
	colors: []color.RGBA{
		{31, 119, 180, 255},  // Blue
		{255, 127, 14, 255},  // Orange
		{44, 160, 44, 255},   // Green
		{214, 39, 40, 255},   // Red
		{148, 103, 189, 255}, // Purple
		{140, 86, 75, 255},   // Brown
		{227, 119, 194, 255}, // Pink
		{127, 127, 127, 255}, // Gray
		{188, 189, 34, 255},  // Olive
		{23, 190, 207, 255},  // Cyan
	},
}

var named = map[string]Colormap{
	"viridis":     Viridis,
	"plasma":      Plasma,
	"inferno":     Inferno,
	"magma":       Magma,
	"greys":       Greys,
	"categorical": Categorical,
}

// Lookup returns a colormap by case-insensitive name. A gradient name with
// an "_r" suffix selects the reversed gradient.
func Lookup(name string) (Colormap, bool) {
	name = strings.ToLower(name)
	if c, ok := named[name]; ok {
		return c, true
	}
	if base, ok := strings.CutSuffix(name, "_r"); ok {
		if g, ok := named[base].(Gradient); ok {
			return g.Reversed(), true
		}
	}
	return nil, false
}

// Names lists the registered colormap names in sorted order.
func Names() []string {
	out := make([]string, 0, len(named))
	for name := range named {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
