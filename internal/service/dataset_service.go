// Package service provides the per-dataset business logic behind the HTTP
// API: brushing, faceting, cell lookup, image rendering and persistence.
package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/trackviz/server/internal/cache"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/render"
	"github.com/trackviz/server/internal/store"
)

var (
	// ErrNotFound is returned for unknown attributes, cells, curves and facets.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned for malformed brush or query input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoImages is returned when a dataset has no image source.
	ErrNoImages = errors.New("dataset has no images")
	// ErrNoStore is returned when persistence is not configured.
	ErrNoStore = errors.New("persistence not configured")
)

// DatasetServiceConfig contains dataset service configuration.
type DatasetServiceConfig struct {
	DatasetID string
	Curves    *model.CurveList
	// Images may be nil for datasets without an image stack.
	Images   *imagestack.DataRequest
	Cache    *cache.Manager
	Renderer *render.Renderer
	Store    *store.Store
}

// Event is a brush event as streamed to clients.
type Event struct {
	model.BrushEvent
	Generation    uint64 `json:"generation"`
	CurvesInBrush int    `json:"curves_in_brush"`
	PointsInBrush int    `json:"points_in_brush"`
}

// DatasetService serves one dataset. The curve list is not safe for
// concurrent mutation: brush changes hold the write lock, everything that
// reads brush state holds the read lock.
type DatasetService struct {
	datasetID string
	images    *imagestack.DataRequest
	cache     *cache.Manager
	renderer  *render.Renderer
	store     *store.Store

	mu     sync.RWMutex
	curves *model.CurveList
	frames *model.FrameIndex
	// depthKeys holds curve attribute keys claimed by running depth jobs.
	depthKeys map[string]bool

	// generation counts brush events; query and frame cache keys carry it.
	generation atomic.Uint64

	watchMu  sync.Mutex
	watchers map[string]chan Event

	unsubscribe func()
}

// NewDatasetService creates a dataset service and subscribes it to the
// list's brush events.
func NewDatasetService(cfg DatasetServiceConfig) *DatasetService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	s := &DatasetService{
		datasetID: datasetID,
		images:    cfg.Images,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
		store:     cfg.Store,
		curves:    cfg.Curves,
		frames:    model.NewFrameIndex(cfg.Curves, model.KeyLocationID, model.KeyFrameID),
		depthKeys: make(map[string]bool),
		watchers:  make(map[string]chan Event),
	}
	s.unsubscribe = cfg.Curves.Bus().Subscribe(s.onBrushEvent)
	return s
}

// Close detaches the service from its curve list and ends every event stream.
func (s *DatasetService) Close() {
	s.unsubscribe()
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

// ID returns the dataset id.
func (s *DatasetService) ID() string { return s.datasetID }

// Generation returns the current brush generation.
func (s *DatasetService) Generation() uint64 { return s.generation.Load() }

// onBrushEvent runs in the mutating goroutine, under the write lock.
func (s *DatasetService) onBrushEvent(ev model.BrushEvent) {
	gen := s.generation.Add(1)
	s.frames.Update(s.curves)
	if s.cache != nil {
		s.cache.PurgeQueries(s.datasetID)
	}

	out := Event{
		BrushEvent:    ev,
		Generation:    gen,
		CurvesInBrush: s.curves.Collection().InBrushCount(),
		PointsInBrush: s.curves.InBrushCount(),
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, ch := range s.watchers {
		select {
		case ch <- out:
		default:
			log.Printf("[DatasetService] %s: dropping event for slow watcher %s", s.datasetID, id)
		}
	}
}

// Watch returns a channel of brush events and a function that stops the
// stream. Events are dropped, not queued, for a watcher that falls behind.
func (s *DatasetService) Watch() (<-chan Event, func()) {
	id := uuid.NewString()
	ch := make(chan Event, 16)
	s.watchMu.Lock()
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			if _, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(ch)
			}
		})
	}
}

// Summary describes a dataset and its brush state.
type Summary struct {
	DatasetID        string            `json:"dataset_id"`
	Name             string            `json:"name"`
	InputKey         string            `json:"input_key"`
	Curves           int               `json:"curves"`
	CurvesInBrush    int               `json:"curves_in_brush"`
	Points           int               `json:"points"`
	PointsInBrush    int               `json:"points_in_brush"`
	BrushApplied     bool              `json:"brush_applied"`
	Locations        []int             `json:"locations"`
	BrushedLocations []int             `json:"brushed_locations"`
	BrushedImages    int               `json:"brushed_images"`
	HasImages        bool              `json:"has_images"`
	AverageGrowth    []model.FrameMass `json:"average_growth"`
	Generation       uint64            `json:"generation"`
}

// Summary returns counts and brush state.
func (s *DatasetService) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec := s.curves.Spec()
	name := spec.DisplayName
	if name == "" {
		name = s.datasetID
	}
	return Summary{
		DatasetID:        s.datasetID,
		Name:             name,
		InputKey:         s.curves.InputKey(),
		Curves:           s.curves.Collection().Len(),
		CurvesInBrush:    s.curves.Collection().InBrushCount(),
		Points:           s.curves.Len(),
		PointsInBrush:    s.curves.InBrushCount(),
		BrushApplied:     s.curves.BrushApplied(),
		Locations:        s.curves.Locations(),
		BrushedLocations: s.frames.BrushedLocations(),
		BrushedImages:    s.frames.BrushedImageCount(),
		HasImages:        s.images != nil,
		AverageGrowth:    s.curves.AverageGrowthCurve(),
		Generation:       s.generation.Load(),
	}
}

// Attributes lists attribute names at point and curve level.
type Attributes struct {
	Point []string `json:"point"`
	Curve []string `json:"curve"`
}

// Attributes returns the attribute names of the first point and first
// curve. Curve attributes are read live because depth jobs add them.
func (s *DatasetService) Attributes() Attributes {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := Attributes{Point: s.curves.Attributes()}
	if curves := s.curves.Curves(); len(curves) > 0 {
		out.Curve = curves[0].Keys()
	}
	return out
}

// MinMax returns the extent of key over the points or the curves. A key no
// element carries a number for is ErrNotFound.
func (s *DatasetService) MinMax(key string, level model.CollectionLevel) (model.Bound, error) {
	params := map[string]string{"key": key, "level": string(level)}
	return cachedQuery(s, "minmax", params, func() (model.Bound, error) {
		var ix interface {
			model.Collection
			MinMax(string) (float64, float64)
		}
		switch level {
		case model.CollectionPoint:
			ix = s.curves
		case model.CollectionCurve:
			ix = s.curves.Collection()
		default:
			return model.Bound{}, fmt.Errorf("%w: level %q", ErrInvalidArgument, level)
		}
		if !hasNumber(ix, key) {
			return model.Bound{}, fmt.Errorf("%w: attribute %q", ErrNotFound, key)
		}
		lo, hi := ix.MinMax(key)
		return model.Bound{Low: lo, High: hi}, nil
	})
}

func hasNumber(c model.Collection, key string) bool {
	for i := 0; i < c.Len(); i++ {
		if v, ok := c.At(i).Lookup(key); ok && !math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Filters lists every registered brush.
func (s *DatasetService) Filters() []model.DataFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curves.GetAllFilters()
}

// SetBrush registers or replaces owner's brush at level. Subscribers are
// notified before SetBrush returns.
func (s *DatasetService) SetBrush(level model.Level, owner string, filters []model.Filter) error {
	if owner == "" {
		return fmt.Errorf("%w: empty brush owner", ErrInvalidArgument)
	}
	if len(filters) == 0 {
		return fmt.Errorf("%w: brush %q has no filters", ErrInvalidArgument, owner)
	}
	for _, f := range filters {
		if f.Key == "" {
			return fmt.Errorf("%w: brush %q has a filter without a key", ErrInvalidArgument, owner)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch level {
	case model.LevelCell:
		s.curves.AddBrush(owner, filters...)
	case model.LevelTrack:
		s.curves.Collection().AddBrush(owner, filters...)
	case model.LevelCurve:
		s.curves.AddCurveBrush(owner, filters...)
	default:
		return fmt.Errorf("%w: %q", model.ErrInvalidLevel, level)
	}
	return nil
}

// RemoveBrush drops owner's brush at level. Removing an unknown owner still
// recomputes and notifies.
func (s *DatasetService) RemoveBrush(level model.Level, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch level {
	case model.LevelCell:
		s.curves.RemoveBrush(owner)
	case model.LevelTrack:
		s.curves.Collection().RemoveBrush(owner)
	case model.LevelCurve:
		s.curves.RemoveCurveBrush(owner)
	default:
		return fmt.Errorf("%w: %q", model.ErrInvalidLevel, level)
	}
	return nil
}

// FacetSummary describes one facet of a partition.
type FacetSummary struct {
	Name          string `json:"name"`
	Curves        int    `json:"curves"`
	CurvesInBrush int    `json:"curves_in_brush"`
	Points        int    `json:"points"`
	PointsInBrush int    `json:"points_in_brush"`
	Locations     []int  `json:"locations"`
}

// Facets is one facet option's partition.
type Facets struct {
	Option  string         `json:"option"`
	Facets  []FacetSummary `json:"facets"`
	Dropped []string       `json:"dropped"`
}

// FacetOptions returns the names of the dataset's facet options.
func (s *DatasetService) FacetOptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opts := s.curves.GetFacetOptions()
	names := make([]string, len(opts))
	for i, o := range opts {
		names[i] = o.Name
	}
	return names
}

// Facets partitions the dataset by the named option.
func (s *DatasetService) Facets(option string) (Facets, error) {
	return cachedQuery(s, "facets", map[string]string{"option": option}, func() (Facets, error) {
		for _, o := range s.curves.GetFacetOptions() {
			if o.Name != option {
				continue
			}
			res := o.Facets()
			out := Facets{Option: option, Dropped: res.Dropped, Facets: make([]FacetSummary, 0, len(res.Facets))}
			if out.Dropped == nil {
				out.Dropped = []string{}
			}
			for _, f := range res.Facets {
				out.Facets = append(out.Facets, FacetSummary{
					Name:          f.Name,
					Curves:        f.Data.Collection().Len(),
					CurvesInBrush: f.Data.Collection().InBrushCount(),
					Points:        f.Data.Len(),
					PointsInBrush: f.Data.InBrushCount(),
					Locations:     f.Data.Locations(),
				})
			}
			return out, nil
		}
		return Facets{}, fmt.Errorf("%w: facet option %q", ErrNotFound, option)
	})
}

// CellInfo describes one segmented cell.
type CellInfo struct {
	Index        int                `json:"index"`
	CurveID      string             `json:"curve_id"`
	Label        int                `json:"label"`
	InBrush      bool               `json:"in_brush"`
	CurveInBrush bool               `json:"curve_in_brush"`
	Values       map[string]float64 `json:"values"`
}

func (s *DatasetService) cellInfo(ref model.CellRef, label int) CellInfo {
	info := CellInfo{
		Index:   ref.Index,
		CurveID: ref.Point.CurveID(),
		Label:   label,
		InBrush: ref.Point.InBrush(),
		Values:  finite(ref.Point.Values()),
	}
	if c, ok := s.curves.CurveByID(info.CurveID); ok {
		info.CurveInBrush = c.InBrush()
	}
	return info
}

// Cells returns the cells segmented in one frame of one location. frameID is
// the Frame ID attribute value.
func (s *DatasetService) Cells(location, frameID int) []CellInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.curves.CellsAtFrame(location, frameID)
	out := make([]CellInfo, 0, len(points))
	for _, p := range points {
		label, _ := intAttr(p, model.KeySegmentLabel)
		ref, ok := s.curves.CellFromLabel(location, frameID, label)
		if !ok {
			continue
		}
		out = append(out, s.cellInfo(ref, label))
	}
	return out
}

// Cell resolves a segmentation label to its cell.
func (s *DatasetService) Cell(location, frameID, label int) (CellInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.curves.CellFromLabel(location, frameID, label)
	if !ok {
		return CellInfo{}, fmt.Errorf("%w: label %d in location %d frame %d", ErrNotFound, label, location, frameID)
	}
	return s.cellInfo(ref, label), nil
}

// CurveInfo describes one curve.
type CurveInfo struct {
	ID      string             `json:"id"`
	InBrush bool               `json:"in_brush"`
	Points  int                `json:"points"`
	Values  map[string]float64 `json:"values"`
}

// Curve returns a curve's attributes.
func (s *DatasetService) Curve(id string) (CurveInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.curves.CurveByID(id)
	if !ok {
		return CurveInfo{}, fmt.Errorf("%w: curve %q", ErrNotFound, id)
	}
	return CurveInfo{ID: c.ID(), InBrush: c.InBrush(), Points: c.Len(), Values: finite(c.Values())}, nil
}

// SaveSnapshot stores the current brushes under name.
func (s *DatasetService) SaveSnapshot(name string) (*store.Snapshot, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	snap := &store.Snapshot{
		ID:        uuid.NewString(),
		DatasetID: s.datasetID,
		Name:      name,
		Filters:   s.Filters(),
		CreatedAt: timeNow(),
	}
	if snap.Filters == nil {
		snap.Filters = []model.DataFilter{}
	}
	if err := s.store.SaveSnapshot(snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return snap, nil
}

// Snapshots lists saved snapshots, newest first.
func (s *DatasetService) Snapshots() ([]*store.Snapshot, error) {
	if s.store == nil {
		return nil, ErrNoStore
	}
	return s.store.ListSnapshots(s.datasetID)
}

// DeleteSnapshot removes a saved snapshot.
func (s *DatasetService) DeleteSnapshot(id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	return s.store.DeleteSnapshot(s.datasetID, id)
}

// ApplySnapshot adds a snapshot's brushes under fresh owner names and
// recomputes once.
func (s *DatasetService) ApplySnapshot(id string) error {
	if s.store == nil {
		return ErrNoStore
	}
	snap, err := s.store.GetSnapshot(s.datasetID, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.curves.ConsumeFilters(snap.Filters); err != nil {
		return fmt.Errorf("apply snapshot %s: %w", id, err)
	}
	s.curves.Recompute()
	log.Printf("[DatasetService] %s: applied snapshot %q (%d filters)", s.datasetID, snap.Name, len(snap.Filters))
	return nil
}

// cachedQuery memoizes compute's JSON under the current brush generation.
// compute runs under the read lock.
func cachedQuery[T any](s *DatasetService, query string, params map[string]string, compute func() (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cache == nil {
		return compute()
	}
	key := cache.QueryKey(s.datasetID, query, s.generation.Load(), params)
	if data, ok := s.cache.GetQuery(key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		s.cache.SetQuery(key, data)
	}
	return v, nil
}

// finite copies the numeric values; NaN and infinities have no JSON form.
func finite(v *model.Values) map[string]float64 {
	out := make(map[string]float64, v.Len())
	for _, k := range v.Keys() {
		if x := v.Get(k); !math.IsNaN(x) && !math.IsInf(x, 0) {
			out[k] = x
		}
	}
	return out
}

func intAttr(e model.Element, key string) (int, bool) {
	v := e.Value(key)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int(math.Round(v)), true
}
