package model

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Level names the granularity a brush is registered at.
type Level string

const (
	// LevelCell brushes filter individual points.
	LevelCell Level = "cell"
	// LevelTrack brushes filter curves through their derived attributes.
	LevelTrack Level = "track"
	// LevelCurve brushes hide curves that never enter a region.
	LevelCurve Level = "curve"
)

// ErrInvalidLevel is returned for an unknown level or collection level name.
var ErrInvalidLevel = errors.New("invalid level")

// ParseLevel validates a brush level name.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelCell, LevelTrack, LevelCurve:
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

// CollectionLevel selects which collection a distribution is computed over.
type CollectionLevel string

const (
	CollectionPoint CollectionLevel = "Point"
	CollectionCurve CollectionLevel = "Curve"
)

// ParseCollectionLevel accepts "Point" or "Curve" (case-sensitive, as stored
// in widget configurations) and their lower-case forms.
func ParseCollectionLevel(s string) (CollectionLevel, error) {
	switch s {
	case "Point", "point":
		return CollectionPoint, nil
	case "Curve", "curve":
		return CollectionCurve, nil
	}
	return "", fmt.Errorf("%w: collection level %q", ErrInvalidLevel, s)
}

// BrushEvent is published after a brush mutation has been fully applied.
type BrushEvent struct {
	Level        Level  `json:"level"`
	Owner        string `json:"owner"`
	Removed      bool   `json:"removed"`
	BrushApplied bool   `json:"brush_applied"`
}

// Bus fans brush events out to subscribers. Delivery is synchronous, in the
// goroutine that mutated the brush, after recomputation has finished.
type Bus struct {
	mu   sync.Mutex
	subs map[string]func(BrushEvent)
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]func(BrushEvent))}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(BrushEvent)) (unsubscribe func()) {
	id := uuid.NewString()
	b.mu.Lock()
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) publish(ev BrushEvent) {
	b.mu.Lock()
	fns := make([]func(BrushEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
