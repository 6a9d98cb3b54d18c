package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/service"
	"github.com/trackviz/server/internal/store"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	JobManager  *JobManager
	// Heartbeat is the idle interval between comment lines on event streams.
	Heartbeat time.Duration
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/summary", summaryHandler)
			r.Get("/metadata", metadataHandler)
			r.Get("/attributes", attributesHandler)
			r.Get("/attributes/{key}/minmax", minMaxHandler)
			r.Get("/filters", filtersHandler)
			r.Put("/brushes/{level}/{owner}", setBrushHandler)
			r.Delete("/brushes/{level}/{owner}", removeBrushHandler)

			r.Get("/facets", facetOptionsHandler)
			r.Get("/facets/{option}", facetsHandler)

			r.Get("/cells/{location}/{frame}", cellsHandler)
			r.Get("/cells/{location}/{frame}/{label}", cellHandler)
			r.Get("/curves/{id}", curveHandler)
			r.Get("/curves/{id}/montage.png", montageHandler)

			r.Get("/images/{location}/{frame}.png", frameImageHandler)
			r.Get("/images/{location}/{frame}/label", labelAtHandler)

			r.Get("/events", eventsHandler(cfg.Heartbeat))

			r.Route("/snapshots", func(r chi.Router) {
				r.Get("/", listSnapshotsHandler)
				r.Post("/", saveSnapshotHandler)
				r.Post("/{id}/apply", applySnapshotHandler)
				r.Delete("/{id}", deleteSnapshotHandler)
			})

			r.Route("/depth/jobs", func(r chi.Router) {
				r.Post("/", depthJobSubmitHandler(cfg.JobManager))
				r.Get("/{job_id}", depthJobStatusHandler(cfg.JobManager))
				r.Get("/{job_id}/result", depthJobResultHandler(cfg.JobManager))
				r.Delete("/{job_id}", depthJobCancelHandler(cfg.JobManager))
			})
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects its service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.DatasetService {
	svc, _ := r.Context().Value(datasetServiceKey).(*service.DatasetService)
	return svc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func writePNG(w http.ResponseWriter, data []byte, maxAge int) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	w.Write(data)
}

// statusFor maps service and data-access errors to HTTP status codes.
// Missing resources are checked before unavailable ones: a fetch of a
// missing file fails with both.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, model.ErrInvalidLevel),
		errors.Is(err, imagestack.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound),
		errors.Is(err, service.ErrNoImages),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, imagestack.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoStore):
		return http.StatusNotImplemented
	case errors.Is(err, imagestack.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[API] %v", err)
	}
	http.Error(w, err.Error(), status)
}

func intParam(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidArgument, name)
	}
	return v, nil
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", service.ErrInvalidArgument, name)
	}
	return v, nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

func summaryHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Summary())
}

func metadataHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := getDatasetService(r).Metadata(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func attributesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getDatasetService(r).Attributes())
}

func minMaxHandler(w http.ResponseWriter, r *http.Request) {
	levelName := r.URL.Query().Get("level")
	if levelName == "" {
		levelName = string(model.CollectionPoint)
	}
	level, err := model.ParseCollectionLevel(levelName)
	if err != nil {
		writeError(w, err)
		return
	}
	key := chi.URLParam(r, "key")
	b, err := getDatasetService(r).MinMax(key, level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"level": level,
		"min":   b.Low,
		"max":   b.High,
	})
}

func filtersHandler(w http.ResponseWriter, r *http.Request) {
	filters := getDatasetService(r).Filters()
	if filters == nil {
		filters = []model.DataFilter{}
	}
	writeJSON(w, http.StatusOK, filters)
}

type brushRequest struct {
	Filters []model.Filter `json:"filters"`
}

func setBrushHandler(w http.ResponseWriter, r *http.Request) {
	level, err := model.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req brushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	svc := getDatasetService(r)
	owner := chi.URLParam(r, "owner")
	if err := svc.SetBrush(level, owner, req.Filters); err != nil {
		writeError(w, err)
		return
	}
	brushUpdates.WithLabelValues(svc.ID(), string(level)).Inc()
	writeJSON(w, http.StatusOK, svc.Summary())
}

func removeBrushHandler(w http.ResponseWriter, r *http.Request) {
	level, err := model.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, err)
		return
	}
	svc := getDatasetService(r)
	if err := svc.RemoveBrush(level, chi.URLParam(r, "owner")); err != nil {
		writeError(w, err)
		return
	}
	brushUpdates.WithLabelValues(svc.ID(), string(level)).Inc()
	writeJSON(w, http.StatusOK, svc.Summary())
}

func facetOptionsHandler(w http.ResponseWriter, r *http.Request) {
	opts := getDatasetService(r).FacetOptions()
	writeJSON(w, http.StatusOK, map[string]interface{}{"options": opts})
}

func facetsHandler(w http.ResponseWriter, r *http.Request) {
	facets, err := getDatasetService(r).Facets(chi.URLParam(r, "option"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, facets)
}

func cellsHandler(w http.ResponseWriter, r *http.Request) {
	loc, err := intParam(r, "location")
	if err != nil {
		writeError(w, err)
		return
	}
	frame, err := intParam(r, "frame")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, getDatasetService(r).Cells(loc, frame))
}

func cellHandler(w http.ResponseWriter, r *http.Request) {
	var ids [3]int
	for i, name := range []string{"location", "frame", "label"} {
		v, err := intParam(r, name)
		if err != nil {
			writeError(w, err)
			return
		}
		ids[i] = v
	}
	cell, err := getDatasetService(r).Cell(ids[0], ids[1], ids[2])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

func curveHandler(w http.ResponseWriter, r *http.Request) {
	curve, err := getDatasetService(r).Curve(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

func montageHandler(w http.ResponseWriter, r *http.Request) {
	columns, err := intQuery(r, "columns", 8)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := getDatasetService(r).Montage(r.Context(), chi.URLParam(r, "id"), columns)
	if err != nil {
		writeError(w, err)
		return
	}
	// Highlighting follows the brush.
	writePNG(w, data, 0)
}

func frameImageHandler(w http.ResponseWriter, r *http.Request) {
	loc, err := intParam(r, "location")
	if err != nil {
		writeError(w, err)
		return
	}
	frame, err := intParam(r, "frame")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	opts := service.FrameOptions{
		Outline:  q.Get("outline") == "1" || q.Get("outline") == "true",
		ColorBy:  q.Get("color_by"),
		Colormap: q.Get("colormap"),
	}
	data, err := getDatasetService(r).FrameImage(r.Context(), loc, frame, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	maxAge := 3600
	if opts.Outline {
		maxAge = 0
	}
	writePNG(w, data, maxAge)
}

func labelAtHandler(w http.ResponseWriter, r *http.Request) {
	loc, err := intParam(r, "location")
	if err != nil {
		writeError(w, err)
		return
	}
	frame, err := intParam(r, "frame")
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	if q.Get("x") == "" || q.Get("y") == "" {
		http.Error(w, "missing required query params: x, y", http.StatusBadRequest)
		return
	}
	x, err := intQuery(r, "x", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	y, err := intQuery(r, "y", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	hit, err := getDatasetService(r).LabelAt(r.Context(), loc, frame, x, y)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hit)
}

// eventsHandler streams brush events as server-sent events until the
// client goes away.
func eventsHandler(heartbeat time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		svc := getDatasetService(r)
		events, stop := svc.Watch()
		defer stop()
		eventStreams.Inc()
		defer eventStreams.Dec()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "retry: 2000\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					log.Printf("[API] encode event: %v", err)
					continue
				}
				fmt.Fprintf(w, "id: %d\nevent: brush\ndata: %s\n\n", ev.Generation, data)
				flusher.Flush()
			case <-ticker.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()
			}
		}
	}
}

func listSnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	snaps, err := getDatasetService(r).Snapshots()
	if err != nil {
		writeError(w, err)
		return
	}
	if snaps == nil {
		snaps = []*store.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

type snapshotRequest struct {
	Name string `json:"name"`
}

func saveSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	snap, err := getDatasetService(r).SaveSnapshot(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func applySnapshotHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if err := svc.ApplySnapshot(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, svc.Summary())
}

func deleteSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if err := getDatasetService(r).DeleteSnapshot(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Depth job handlers

type depthJobSubmitRequest struct {
	DepthKey string `json:"depth_key"`
	ValueKey string `json:"value_key"`
	Brushed  bool   `json:"brushed"`
}

func depthJobSubmitHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		svc := getDatasetService(r)

		var req depthJobSubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.ValueKey == "" {
			http.Error(w, "value_key is required", http.StatusBadRequest)
			return
		}
		if !slices.Contains(svc.Attributes().Point, req.ValueKey) {
			http.Error(w, "unknown point attribute: "+req.ValueKey, http.StatusBadRequest)
			return
		}
		if req.DepthKey != "" && !svc.DepthKeyAvailable(req.DepthKey) {
			http.Error(w, "curve attribute already exists: "+req.DepthKey, http.StatusConflict)
			return
		}

		job, err := jm.Submit(store.DepthJobParams{
			DatasetID: svc.ID(),
			DepthKey:  req.DepthKey,
			ValueKey:  req.ValueKey,
			Brushed:   req.Brushed,
		})
		if err != nil {
			http.Error(w, "failed to create job: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// datasetJob returns the job named in the URL if it belongs to the URL's
// dataset.
func datasetJob(jm *JobManager, r *http.Request) *store.DepthJob {
	job := jm.Get(chi.URLParam(r, "job_id"))
	if job == nil || job.DatasetID != chi.URLParam(r, "dataset") {
		return nil
	}
	return job
}

func depthJobStatusHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := datasetJob(jm, r)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func depthJobResultHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := datasetJob(jm, r)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if job.Status != store.JobStatusCompleted {
			http.Error(w, "job not completed (status: "+string(job.Status)+")", http.StatusBadRequest)
			return
		}

		// Parse pagination params
		offset := 0
		limit := 50
		if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
			if v, err := strconv.Atoi(offsetStr); err == nil && v >= 0 {
				offset = v
			}
		}
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			if v, err := strconv.Atoi(limitStr); err == nil && v > 0 {
				limit = min(v, 500)
			}
		}

		items, total, err := jm.Store().QueryResults(job.ID, offset, limit)
		if err != nil {
			http.Error(w, "failed to query results: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if items == nil {
			items = []store.CurveDepth{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"params": job.Params,
			"curves": job.Curves,
			"total":  total,
			"offset": offset,
			"limit":  limit,
			"items":  items,
		})
	}
}

func depthJobCancelHandler(jm *JobManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jm == nil {
			http.Error(w, "job manager not configured", http.StatusNotImplemented)
			return
		}
		job := datasetJob(jm, r)
		if job == nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		cancelled := jm.Cancel(job.ID)
		if r.URL.Query().Get("delete") == "1" && (cancelled || job.Status.Terminal()) {
			if err := jm.Delete(job.ID); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":    job.ID,
			"cancelled": cancelled,
		})
	}
}
