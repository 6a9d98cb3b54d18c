package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/store"
)

var timeNow = time.Now

// ExecuteDepthJob computes band depths for a queued job, stores them as job
// results and, when the job names a depth key, as a curve attribute.
//
// The depth key is claimed before any work starts, so two jobs naming the
// same key cannot both write it. Depths are computed without holding the
// dataset lock; only point values are read, and brush changes never touch
// them.
func (s *DatasetService) ExecuteDepthJob(ctx context.Context, st *store.Store, job *store.DepthJob) error {
	p := job.Params
	if p.ValueKey == "" {
		return fmt.Errorf("%w: value_key is required", ErrInvalidArgument)
	}

	s.mu.Lock()
	if p.DepthKey != "" {
		if err := s.claimDepthKeyLocked(p.DepthKey); err != nil {
			s.mu.Unlock()
			return err
		}
		defer s.releaseDepthKey(p.DepthKey)
	}
	var curves []*model.Curve
	for _, c := range s.curves.Curves() {
		if !p.Brushed || c.InBrush() {
			curves = append(curves, c)
		}
	}
	inputKey := s.curves.InputKey()
	s.mu.Unlock()

	if err := st.UpdateJobCurves(job.ID, len(curves)); err != nil {
		return fmt.Errorf("record curve count: %w", err)
	}
	log.Printf("[DepthJob] %s: %s over %d curves of %s", job.ID, p.ValueKey, len(curves), s.datasetID)

	start := time.Now()
	depths, err := model.BandDepths(ctx, curves, inputKey, p.ValueKey)
	if err != nil {
		return err
	}

	results := make([]store.CurveDepth, len(curves))
	for i, c := range curves {
		results[i] = store.CurveDepth{CurveID: c.ID(), Depth: depths[i]}
	}
	if err := st.InsertResults(job.ID, results); err != nil {
		return fmt.Errorf("store results: %w", err)
	}

	if p.DepthKey != "" {
		s.mu.Lock()
		for i, c := range curves {
			c.Set(p.DepthKey, depths[i])
		}
		s.mu.Unlock()
	}
	log.Printf("[DepthJob] %s: done in %v", job.ID, time.Since(start))
	return nil
}

// claimDepthKeyLocked reserves key for one depth job. It fails when a curve
// already carries the key or another job holds it. s.mu must be held for
// writing.
func (s *DatasetService) claimDepthKeyLocked(key string) error {
	if s.depthKeys[key] {
		return fmt.Errorf("%w: depth key %q is being computed by another job", ErrInvalidArgument, key)
	}
	for _, c := range s.curves.Curves() {
		if _, ok := c.Lookup(key); ok {
			return fmt.Errorf("%w: curve attribute %q already exists", ErrInvalidArgument, key)
		}
	}
	s.depthKeys[key] = true
	return nil
}

func (s *DatasetService) releaseDepthKey(key string) {
	s.mu.Lock()
	delete(s.depthKeys, key)
	s.mu.Unlock()
}

// DepthKeyAvailable reports whether a new depth job may write key.
func (s *DatasetService) DepthKeyAvailable(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.depthKeys[key] {
		return false
	}
	for _, c := range s.curves.Curves() {
		if _, ok := c.Lookup(key); ok {
			return false
		}
	}
	return true
}
