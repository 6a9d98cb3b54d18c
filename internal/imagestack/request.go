package imagestack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnavailable marks a resource whose fetch failed after every retry.
	// The failure is cached until the slot is overwritten.
	ErrUnavailable = errors.New("resource unavailable")
	// ErrOutOfRange is returned for pixel coordinates outside a tile.
	ErrOutOfRange = errors.New("coordinate out of range")
)

// Config bounds the caches and sets the fetch retry policy.
type Config struct {
	MaxBlobCount  int
	MaxLabelCount int
	Attempts      int
	Backoff       time.Duration
	FetchTimeout  time.Duration
}

// DefaultConfig keeps ten bundles of each kind and retries a failed fetch
// twice, 100ms then 200ms later.
func DefaultConfig() Config {
	return Config{
		MaxBlobCount:  10,
		MaxLabelCount: 10,
		Attempts:      3,
		Backoff:       100 * time.Millisecond,
		FetchTimeout:  30 * time.Second,
	}
}

// Tile is a cached bundle image plus the position of one frame inside it.
type Tile struct {
	Location int
	Frame    int
	Bundle   int
	Top      int
	Left     int
	Blob     []byte
}

// DataRequest resolves (location, frame) requests against one dataset's
// bundles. Metadata is loaded once in the background; every request waits
// for it. At most one fetch per bundle is in flight: concurrent requesters
// share it.
type DataRequest struct {
	ctx     context.Context
	fetcher Fetcher
	cfg     Config

	ready   chan struct{}
	meta    Metadata
	metaErr error

	blobs  *ring[[]byte]
	labels *ring[*ImageLabels]
	group  singleflight.Group
}

// NewDataRequest starts loading metadata. ctx bounds the lifetime of every
// fetch the request issues; caller contexts only bound how long a caller
// waits.
func NewDataRequest(ctx context.Context, f Fetcher, cfg Config) *DataRequest {
	def := DefaultConfig()
	if cfg.MaxBlobCount <= 0 {
		cfg.MaxBlobCount = def.MaxBlobCount
	}
	if cfg.MaxLabelCount <= 0 {
		cfg.MaxLabelCount = def.MaxLabelCount
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	d := &DataRequest{
		ctx:     ctx,
		fetcher: f,
		cfg:     cfg,
		ready:   make(chan struct{}),
		blobs:   newRing[[]byte](cfg.MaxBlobCount),
		labels:  newRing[*ImageLabels](cfg.MaxLabelCount),
	}
	go d.loadMetadata()
	return d
}

func (d *DataRequest) loadMetadata() {
	defer close(d.ready)
	data, err := d.fetch(Resource{Kind: KindMetadata})
	if err != nil {
		d.metaErr = err
		log.Printf("[DataRequest] metadata: %v", err)
		return
	}
	d.meta, d.metaErr = ParseMetadata(data)
	if d.metaErr != nil {
		d.metaErr = fmt.Errorf("%w: %w", ErrUnavailable, d.metaErr)
	}
}

// Ready is closed once metadata has loaded or failed.
func (d *DataRequest) Ready() <-chan struct{} { return d.ready }

// Metadata waits for the tile layout.
func (d *DataRequest) Metadata(ctx context.Context) (Metadata, error) {
	select {
	case <-d.ready:
		return d.meta, d.metaErr
	case <-ctx.Done():
		return Metadata{}, ctx.Err()
	}
}

// TileTopLeft returns the offset of frame inside its bundle.
func (d *DataRequest) TileTopLeft(ctx context.Context, frame int) (top, left int, err error) {
	m, err := d.Metadata(ctx)
	if err != nil {
		return 0, 0, err
	}
	top, left = m.TileTopLeft(frame)
	return top, left, nil
}

// Image returns the bundle image holding frame of location, with the
// frame's offset inside it.
func (d *DataRequest) Image(ctx context.Context, location, frame int) (Tile, error) {
	m, err := d.Metadata(ctx)
	if err != nil {
		return Tile{}, err
	}
	top, left := m.TileTopLeft(frame)
	key := bundleKey{location: location, bundle: m.BundleIndex(frame)}
	blob, err := load(ctx, d, d.blobs, KindImage, key, func(b []byte) ([]byte, error) { return b, nil })
	if err != nil {
		return Tile{}, err
	}
	return Tile{Location: location, Frame: frame, Bundle: key.bundle, Top: top, Left: left, Blob: blob}, nil
}

// Labels returns the decoded label bundle holding frame of location.
func (d *DataRequest) Labels(ctx context.Context, location, frame int) (*ImageLabels, error) {
	m, err := d.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	key := bundleKey{location: location, bundle: m.BundleIndex(frame)}
	return load(ctx, d, d.labels, KindLabels, key, DecodeImageLabels)
}

// LabelValueAt returns the segment label at pixel (x, y) of frame's tile.
func (d *DataRequest) LabelValueAt(ctx context.Context, location, frame, x, y int) (int, error) {
	labels, top, left, err := d.labelsAt(ctx, location, frame, x, y)
	if err != nil {
		return 0, err
	}
	return labels.Value(top+y, left+x), nil
}

// IsBorderAt reports whether pixel (x, y) of frame's tile lies on a segment
// border.
func (d *DataRequest) IsBorderAt(ctx context.Context, location, frame, x, y int) (bool, error) {
	labels, top, left, err := d.labelsAt(ctx, location, frame, x, y)
	if err != nil {
		return false, err
	}
	return labels.IsBorder(top+y, left+x), nil
}

func (d *DataRequest) labelsAt(ctx context.Context, location, frame, x, y int) (*ImageLabels, int, int, error) {
	m, err := d.Metadata(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	if x < 0 || y < 0 || x >= m.TileWidth || y >= m.TileHeight {
		return nil, 0, 0, fmt.Errorf("%w: (%d, %d) in %dx%d tile", ErrOutOfRange, x, y, m.TileWidth, m.TileHeight)
	}
	labels, err := d.Labels(ctx, location, frame)
	if err != nil {
		return nil, 0, 0, err
	}
	top, left := m.TileTopLeft(frame)
	return labels, top, left, nil
}

func load[T any](ctx context.Context, d *DataRequest, cache *ring[T], kind Kind, key bundleKey, decode func([]byte) (T, error)) (T, error) {
	if s, ok := cache.get(key); ok {
		if s.err != nil {
			cacheLookups.WithLabelValues(kind.String(), "unavailable").Inc()
		} else {
			cacheLookups.WithLabelValues(kind.String(), "hit").Inc()
		}
		return s.val, s.err
	}
	cacheLookups.WithLabelValues(kind.String(), "miss").Inc()

	flight := fmt.Sprintf("%s/%d/%d", kind, key.location, key.bundle)
	ch := d.group.DoChan(flight, func() (any, error) {
		// A flight for this key may have completed between the lookup above
		// and joining the group.
		if s, ok := cache.get(key); ok {
			return s.val, s.err
		}
		var v T
		data, err := d.fetch(Resource{Kind: kind, Location: key.location, Bundle: key.bundle})
		if err == nil {
			v, err = decode(data)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}
		cache.put(key, v, err)
		return v, err
	})

	select {
	case res := <-ch:
		v, _ := res.Val.(T)
		return v, res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// fetch retries transient failures with exponential backoff. Missing
// resources fail immediately.
func (d *DataRequest) fetch(r Resource) ([]byte, error) {
	kind := r.Kind.String()
	backoff := d.cfg.Backoff
	var lastErr error
	for attempt := 1; attempt <= d.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.FetchTimeout)
		start := time.Now()
		data, err := d.fetcher.Fetch(ctx, r)
		cancel()
		fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err == nil {
			fetchAttempts.WithLabelValues(kind, "ok").Inc()
			return data, nil
		}
		fetchAttempts.WithLabelValues(kind, "error").Inc()
		lastErr = err

		if errors.Is(err, ErrNotFound) || d.ctx.Err() != nil || attempt == d.cfg.Attempts {
			break
		}
		log.Printf("[DataRequest] %s attempt %d/%d failed: %v", r.Name(), attempt, d.cfg.Attempts, err)
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, r.Name(), lastErr)
}

// CachedBundles reports how many image and label bundles are cached.
func (d *DataRequest) CachedBundles() (images, labels int) {
	return d.blobs.len(), d.labels.len()
}
