// Package ingest builds CurveLists from tabular track exports.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/trackviz/server/internal/model"
)

// ErrNoTimeColumn is returned when none of the candidate time columns exist.
var ErrNoTimeColumn = errors.New("dataset has no time column")

// DefaultTimeKeys are tried in order when Options.TimeKeys is empty.
var DefaultTimeKeys = []string{model.KeyTime, "time", "t"}

// Options controls how rows become curves.
type Options struct {
	IDKey      string
	TimeKeys   []string
	MassKey    string
	SourceKey  string
	PostfixKey string
	Spec       model.DatasetSpec

	// SkipDerivations leaves points and curves with their input columns only.
	SkipDerivations bool
}

func (o Options) withDefaults() Options {
	if o.IDKey == "" {
		o.IDKey = "id"
	}
	if len(o.TimeKeys) == 0 {
		o.TimeKeys = DefaultTimeKeys
	}
	if o.MassKey == "" {
		o.MassKey = model.KeyMass
	}
	return o
}

// FromCSV reads a CSV with a header row and builds a CurveList.
func FromCSV(r io.Reader, opts Options) (*model.CurveList, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("read csv: no header row")
	}
	return FromRows(records[0], records[1:], opts)
}

// FromRows builds a CurveList from a header and string rows. Rows are grouped
// into curves by the id column, in first-appearance order. A row whose time
// cell is not numeric carries a curve attribute instead of a point: the time
// cell names the attribute and the first numeric cell after the id and time
// columns is its value.
func FromRows(header []string, rows [][]string, opts Options) (*model.CurveList, error) {
	opts = opts.withDefaults()

	timeKey := ""
	for _, k := range opts.TimeKeys {
		if slices.Contains(header, k) {
			timeKey = k
			break
		}
	}
	if timeKey == "" {
		return nil, fmt.Errorf("%w: allowed keys %v", ErrNoTimeColumn, opts.TimeKeys)
	}
	idCol := slices.Index(header, opts.IDKey)
	timeCol := slices.Index(header, timeKey)

	var curves []*model.Curve
	byID := make(map[string]*model.Curve)
	for n, row := range rows {
		id := ""
		if idCol >= 0 && idCol < len(row) {
			id = row[idCol]
		}
		c, ok := byID[id]
		if !ok {
			c = model.NewCurve(id)
			byID[id] = c
			curves = append(curves, c)
		}

		if timeCol >= len(row) {
			return nil, fmt.Errorf("row %d: missing time column", n+2)
		}
		tCell := strings.TrimSpace(row[timeCol])
		if _, ok := parseNumber(tCell); !ok {
			if tCell == "" {
				continue
			}
			for i, cell := range row {
				if i == idCol || i == timeCol {
					continue
				}
				if v, ok := parseNumber(cell); ok {
					c.Set(tCell, v)
					break
				}
			}
			continue
		}

		vals := model.NewValues(len(header))
		for i, key := range header {
			if i == idCol {
				continue
			}
			v := math.NaN()
			if i < len(row) {
				if f, ok := parseNumber(row[i]); ok {
					v = f
				}
			}
			vals.Set(key, v)
		}
		c.AddPoint(model.NewPointFromValues(vals))
	}

	for _, c := range curves {
		c.Sort(timeKey)
	}
	if !opts.SkipDerivations {
		derive(curves, model.PointDerivations(timeKey, opts.MassKey))
		derive(curves, model.TrackDerivations(timeKey, opts.MassKey))
	}

	cl := model.NewCurveList(curves, opts.Spec)
	cl.SetInputKey(timeKey)
	cl.SourceKey = opts.SourceKey
	cl.PostfixKey = opts.PostfixKey
	log.Printf("[Ingest] %s: %d curves, %d points, time key %q", opts.Spec.UniqueID, len(curves), cl.Len(), timeKey)
	return cl, nil
}

func derive(curves []*model.Curve, fns []model.CurveDerivation) {
	for _, c := range curves {
		for _, fn := range fns {
			fn(c)
		}
	}
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// LoadSpec decodes one dataset specification.
func LoadSpec(r io.Reader) (model.DatasetSpec, error) {
	var spec model.DatasetSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return model.DatasetSpec{}, fmt.Errorf("decode dataset spec: %w", err)
	}
	if spec.UniqueID == "" {
		return model.DatasetSpec{}, errors.New("dataset spec has no uniqueId")
	}
	return spec, nil
}

// LoadSpecList decodes the dataset list, a JSON array of specifications.
func LoadSpecList(r io.Reader) ([]model.DatasetSpec, error) {
	var specs []model.DatasetSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode dataset list: %w", err)
	}
	return specs, nil
}
