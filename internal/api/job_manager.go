// Package api provides HTTP handlers for the trackviz server.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/trackviz/server/internal/store"
)

// JobManagerConfig contains configuration for the job manager.
type JobManagerConfig struct {
	Store         *store.Store
	MaxConcurrent int           // concurrent depth jobs (default 1)
	QueueSize     int           // pending jobs before submissions fail (default 100)
	Retention     time.Duration // how long finished jobs are kept (default 24h)
	CleanupPeriod time.Duration
}

// Executor runs one depth job. It is called with the job already marked
// running; its error becomes the job's failure message.
type Executor func(ctx context.Context, st *store.Store, job *store.DepthJob) error

// JobManager runs depth jobs on a fixed pool of workers. Jobs and their
// results live in the store so they survive restarts.
type JobManager struct {
	cfg      JobManagerConfig
	store    *store.Store
	queue    chan string // job IDs
	running  map[string]context.CancelFunc
	mu       sync.Mutex
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	Executor Executor
}

// NewJobManager creates a job manager over a shared store. The store is
// not closed by Stop.
func NewJobManager(cfg JobManagerConfig) (*JobManager, error) {
	if cfg.Store == nil {
		return nil, errors.New("job manager: store is required")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.CleanupPeriod <= 0 {
		cfg.CleanupPeriod = 1 * time.Hour
	}

	return &JobManager{
		cfg:     cfg,
		store:   cfg.Store,
		queue:   make(chan string, cfg.QueueSize),
		running: make(map[string]context.CancelFunc),
		stopCh:  make(chan struct{}),
	}, nil
}

// Store returns the underlying store for direct access.
func (jm *JobManager) Store() *store.Store {
	return jm.store
}

// Start starts the worker goroutines and cleanup ticker.
// Also recovers from previous shutdown.
func (jm *JobManager) Start() {
	// Mark any running jobs as failed (server restart)
	if err := jm.store.MarkRunningAsFailed("server restarted"); err != nil {
		log.Printf("[JobManager] failed to mark running jobs as failed: %v", err)
	}

	// Re-queue any queued jobs
	queued, err := jm.store.ListQueuedJobs()
	if err != nil {
		log.Printf("[JobManager] failed to list queued jobs: %v", err)
	} else {
		for _, job := range queued {
			select {
			case jm.queue <- job.ID:
				log.Printf("[JobManager] re-queued job %s", job.ID)
			default:
				log.Printf("[JobManager] queue full, cannot re-queue job %s", job.ID)
			}
		}
	}

	for i := 0; i < jm.cfg.MaxConcurrent; i++ {
		jm.wg.Add(1)
		go jm.worker()
	}

	go jm.cleaner()
}

// Stop cancels running jobs and waits for the workers to exit.
func (jm *JobManager) Stop() {
	jm.stopOnce.Do(func() {
		close(jm.stopCh)
		jm.mu.Lock()
		for _, cancel := range jm.running {
			cancel()
		}
		jm.mu.Unlock()
		close(jm.queue)
		jm.wg.Wait()
	})
}

func (jm *JobManager) worker() {
	defer jm.wg.Done()
	for jobID := range jm.queue {
		select {
		case <-jm.stopCh:
			continue
		default:
		}
		jm.runJob(jobID)
	}
}

func (jm *JobManager) runJob(jobID string) {
	job, err := jm.store.GetJob(jobID)
	if err != nil {
		log.Printf("[JobManager] job %s: %v", jobID, err)
		return
	}
	// Cancelled while queued.
	if job.Status != store.JobStatusQueued {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jm.mu.Lock()
	jm.running[jobID] = cancel
	jm.mu.Unlock()

	defer func() {
		jm.mu.Lock()
		delete(jm.running, jobID)
		jm.mu.Unlock()
	}()

	if err := jm.store.UpdateJobStarted(jobID); err != nil {
		log.Printf("[JobManager] failed to update job %s as started: %v", jobID, err)
		return
	}
	jobsStarted.Inc()

	var execErr error
	if jm.Executor != nil {
		execErr = jm.Executor(ctx, jm.store, job)
	}

	status, msg := store.JobStatusCompleted, ""
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		status, msg = store.JobStatusCancelled, "cancelled by user"
	case execErr != nil:
		status, msg = store.JobStatusFailed, execErr.Error()
		log.Printf("[JobManager] job %s failed: %v", jobID, execErr)
	}
	jobsFinished.WithLabelValues(string(status)).Inc()
	if err := jm.store.UpdateJobStatus(jobID, status, msg); err != nil {
		log.Printf("[JobManager] failed to finish job %s: %v", jobID, err)
	}
}

func (jm *JobManager) cleaner() {
	ticker := time.NewTicker(jm.cfg.CleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.cleanup()
		}
	}
}

func (jm *JobManager) cleanup() {
	deleted, err := jm.store.DeleteExpiredJobs(jm.cfg.Retention)
	if err != nil {
		log.Printf("[JobManager] cleanup error: %v", err)
	} else if deleted > 0 {
		log.Printf("[JobManager] cleaned up %d expired jobs", deleted)
	}
}

// Submit creates a new job and enqueues it for execution.
func (jm *JobManager) Submit(params store.DepthJobParams) (*store.DepthJob, error) {
	id := generateJobID()
	job := &store.DepthJob{
		ID:        id,
		DatasetID: params.DatasetID,
		Status:    store.JobStatusQueued,
		Params:    params,
		CreatedAt: time.Now(),
	}

	if err := jm.store.CreateJob(job); err != nil {
		return nil, err
	}

	select {
	case jm.queue <- id:
	default:
		// Queue full; mark as failed immediately
		msg := "job queue is full; try again later"
		if err := jm.store.UpdateJobStatus(id, store.JobStatusFailed, msg); err != nil {
			return nil, err
		}
		job.Status, job.Error = store.JobStatusFailed, msg
	}

	return job, nil
}

// Get returns a job by ID, or nil when it does not exist.
func (jm *JobManager) Get(id string) *store.DepthJob {
	job, err := jm.store.GetJob(id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("[JobManager] error getting job %s: %v", id, err)
		}
		return nil
	}
	return job
}

// Cancel attempts to cancel a queued or running job.
func (jm *JobManager) Cancel(id string) bool {
	jm.mu.Lock()
	cancel, ok := jm.running[id]
	jm.mu.Unlock()

	if ok && cancel != nil {
		cancel()
		return true
	}

	job, err := jm.store.GetJob(id)
	if err != nil {
		return false
	}
	if job.Status == store.JobStatusQueued {
		if err := jm.store.UpdateJobStatus(id, store.JobStatusCancelled, "cancelled before start"); err != nil {
			log.Printf("[JobManager] failed to cancel job %s: %v", id, err)
			return false
		}
		return true
	}
	return false
}

// Delete deletes a job and its results.
func (jm *JobManager) Delete(id string) error {
	return jm.store.DeleteJob(id)
}

// DepthExecutor runs depth jobs against the registry's datasets.
func DepthExecutor(registry *DatasetRegistry) Executor {
	return func(ctx context.Context, st *store.Store, job *store.DepthJob) error {
		svc := registry.Get(job.DatasetID)
		if svc == nil {
			return fmt.Errorf("dataset %q is not loaded", job.DatasetID)
		}
		return svc.ExecuteDepthJob(ctx, st, job)
	}
}

func generateJobID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
