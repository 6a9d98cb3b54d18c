package imagestack

import (
	"fmt"
	"image"

	"google.golang.org/protobuf/encoding/protowire"
)

// LabelRun is a horizontal run of pixels sharing one segment label.
type LabelRun struct {
	Start  int
	Length int
	Label  int
}

// Row is the run list of one pixel row of a bundle image.
type Row []LabelRun

// ImageLabels is the run-length encoded segmentation of one bundle image.
//
// Wire format (protobuf):
//
//	message ImageLabels { repeated Row rowList = 1; }
//	message Row         { repeated LabelRun row = 1; }
//	message LabelRun    { uint32 start = 1; uint32 length = 2; uint32 label = 3; }
type ImageLabels struct {
	Rows []Row
}

// DecodeImageLabels parses a label bundle. Unknown fields are skipped.
func DecodeImageLabels(b []byte) (*ImageLabels, error) {
	out := &ImageLabels{}
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return 0, nil
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		row, err := decodeRow(msg)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", len(out.Rows), err)
		}
		out.Rows = append(out.Rows, row)
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode image labels: %w", err)
	}
	return out, nil
}

func decodeRow(b []byte) (Row, error) {
	var row Row
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != 1 || typ != protowire.BytesType {
			return 0, nil
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n, nil
		}
		run, err := decodeRun(msg)
		if err != nil {
			return 0, err
		}
		row = append(row, run)
		return n, nil
	})
	return row, err
}

func decodeRun(b []byte) (LabelRun, error) {
	var run LabelRun
	err := consumeMessage(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if typ != protowire.VarintType {
			return 0, nil
		}
		x, n := protowire.ConsumeVarint(v)
		if n < 0 {
			return n, nil
		}
		switch num {
		case 1:
			run.Start = int(x)
		case 2:
			run.Length = int(x)
		case 3:
			run.Label = int(x)
		}
		return n, nil
	})
	return run, err
}

// consumeMessage walks the fields of one message. field returns the number of
// bytes it consumed; zero has the field skipped.
func consumeMessage(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return protowire.ParseError(m)
		}
		b = b[m:]
	}
	return nil
}

// EncodeImageLabels is the inverse of DecodeImageLabels.
func EncodeImageLabels(l *ImageLabels) []byte {
	var out []byte
	for _, row := range l.Rows {
		var rb []byte
		for _, run := range row {
			var r []byte
			r = protowire.AppendTag(r, 1, protowire.VarintType)
			r = protowire.AppendVarint(r, uint64(run.Start))
			r = protowire.AppendTag(r, 2, protowire.VarintType)
			r = protowire.AppendVarint(r, uint64(run.Length))
			r = protowire.AppendTag(r, 3, protowire.VarintType)
			r = protowire.AppendVarint(r, uint64(run.Label))
			rb = protowire.AppendTag(rb, 1, protowire.BytesType)
			rb = protowire.AppendBytes(rb, r)
		}
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, rb)
	}
	return out
}

// Value returns the label at (row, col), or 0 for background. Cost is linear
// in the number of runs in the row.
func (l *ImageLabels) Value(row, col int) int {
	if row < 0 || row >= len(l.Rows) {
		return 0
	}
	for _, run := range l.Rows[row] {
		if run.Start <= col && col < run.Start+run.Length {
			return run.Label
		}
	}
	return 0
}

// IsBorder reports whether (row, col) is labelled and at least one of its
// four neighbours carries a different label.
func (l *ImageLabels) IsBorder(row, col int) bool {
	v := l.Value(row, col)
	if v == 0 {
		return false
	}
	return l.Value(row-1, col) != v ||
		l.Value(row+1, col) != v ||
		l.Value(row, col-1) != v ||
		l.Value(row, col+1) != v
}

// BoundingBox returns the extent of label inside the tile rectangle tile, in
// bundle coordinates. ok is false when the label does not occur in the tile.
func (l *ImageLabels) BoundingBox(label int, tile image.Rectangle) (image.Rectangle, bool) {
	box := image.Rectangle{}
	found := false
	for y := max(tile.Min.Y, 0); y < min(tile.Max.Y, len(l.Rows)); y++ {
		for _, run := range l.Rows[y] {
			if run.Label != label {
				continue
			}
			r := image.Rect(run.Start, y, run.Start+run.Length, y+1).Intersect(tile)
			if r.Empty() {
				continue
			}
			if !found {
				box, found = r, true
				continue
			}
			box = box.Union(r)
		}
	}
	return box, found
}
