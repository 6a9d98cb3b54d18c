package colormap

import (
	"image/color"
	"math"
	"testing"
)

func TestGradientEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		t    float64
		want color.RGBA
	}{
		{"start", 0, color.RGBA{R: 68, G: 1, B: 84, A: 255}},
		{"clampLow", -3, color.RGBA{R: 68, G: 1, B: 84, A: 255}},
		{"nan", math.NaN(), color.RGBA{R: 68, G: 1, B: 84, A: 255}},
		{"end", 1, color.RGBA{R: 253, G: 231, B: 37, A: 255}},
		{"clampHigh", 7, color.RGBA{R: 253, G: 231, B: 37, A: 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Viridis.At(tt.t).(color.RGBA)
			if !ok {
				t.Fatalf("expected color.RGBA")
			}
			if got != tt.want {
				t.Fatalf("Viridis.At(%v) = %#v, want %#v", tt.t, got, tt.want)
			}
		})
	}
}

func TestGradientMidpoint(t *testing.T) {
	t.Parallel()

	got := Greys.At(0.5).(color.RGBA)
	want := interpolate(Greys.stops[1], Greys.stops[2], 0.5)
	if got != want {
		t.Fatalf("Greys.At(0.5) = %#v, want %#v", got, want)
	}
}

func TestPaletteWraps(t *testing.T) {
	t.Parallel()

	if Categorical.AtIndex(11) != Categorical.AtIndex(1) {
		t.Fatal("expected index 11 to wrap to 1")
	}
	if Categorical.AtIndex(-1) != Categorical.AtIndex(Categorical.Len()-1) {
		t.Fatal("expected index -1 to wrap to the last color")
	}
	if Categorical.At(1) != Categorical.AtIndex(Categorical.Len()-1) {
		t.Fatal("expected At(1) to be the last color")
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	if _, ok := Lookup("Magma"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
	rev, ok := Lookup("viridis_r")
	if !ok {
		t.Fatal("expected reversed gradient")
	}
	if rev.At(0) != Viridis.At(1) {
		t.Fatalf("reversed start %#v, want %#v", rev.At(0), Viridis.At(1))
	}
	if _, ok := Lookup("categorical_r"); ok {
		t.Fatal("palettes have no reversed form")
	}
	if _, ok := Lookup("seurat"); ok {
		t.Fatal("unexpected colormap")
	}
	if names := Names(); len(names) != 6 || names[0] != "categorical" {
		t.Fatalf("unexpected names %v", names)
	}
}
