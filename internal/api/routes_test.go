package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackviz/server/internal/cache"
	"github.com/trackviz/server/internal/imagestack"
	"github.com/trackviz/server/internal/model"
	"github.com/trackviz/server/internal/render"
	"github.com/trackviz/server/internal/service"
	"github.com/trackviz/server/internal/store"
)

const testTracks = `id,Time (h),Mass (pg),Location ID,Frame ID,segmentLabel
a,0,10,1,1,1
a,1,12,1,2,1
b,0,20,1,1,2
b,1,30,1,2,2
c,0,5,2,1,1
c,1,6,2,2,1
`

const testSpec = `{
	"uniqueId": "exp",
	"displayName": "Experiment",
	"locationMaps": {"condition": {"ctrl": [[1, 1]], "drug": [[2, 2]]}}
}`

// testServer holds the test server and its dependencies
type testServer struct {
	server *httptest.Server
	jobs   *JobManager
}

// setupTestServer loads a small dataset without images and serves it as
// "exp".
func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "massOverTime.csv")
	specPath := filepath.Join(dir, "spec.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(testTracks), 0644))
	require.NoError(t, os.WriteFile(specPath, []byte(testSpec), 0644))

	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: 8,
		FrameTTL:         time.Minute,
		QueryCacheSize:   64,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheManager.Close() })

	st, err := store.NewStore(filepath.Join(dir, "trackviz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := service.Open(context.Background(), "exp", service.Source{
		CSVPath:  csvPath,
		SpecPath: specPath,
	}, service.Deps{
		Cache:    cacheManager,
		Renderer: render.NewRenderer(render.Config{TileSize: 16}),
		Store:    st,
		Images:   imagestack.DefaultConfig(),
	})
	require.NoError(t, err)

	registry := NewDatasetRegistry("", "")
	registry.Register("exp", svc)
	t.Cleanup(registry.Close)

	jobs, err := NewJobManager(JobManagerConfig{Store: st, MaxConcurrent: 1})
	require.NoError(t, err)
	jobs.Executor = DepthExecutor(registry)
	jobs.Start()
	t.Cleanup(jobs.Stop)

	server := httptest.NewServer(NewRouter(RouterConfig{
		Registry:    registry,
		CORSOrigins: []string{"http://localhost:3000"},
		JobManager:  jobs,
		Heartbeat:   50 * time.Millisecond,
	}))
	t.Cleanup(server.Close)
	return &testServer{server: server, jobs: jobs}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) getJSON(t *testing.T, path string, v any) {
	t.Helper()
	resp, data := ts.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.Unmarshal(data, v))
}

func TestHealthAndDatasets(t *testing.T) {
	ts := setupTestServer(t)

	resp, data := ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(data))

	var got struct {
		Default  string        `json:"default"`
		Datasets []DatasetInfo `json:"datasets"`
		Title    string        `json:"title"`
	}
	ts.getJSON(t, "/api/datasets", &got)
	assert.Equal(t, "exp", got.Default)
	assert.Equal(t, "TrackViz", got.Title)
	if diff := cmp.Diff([]DatasetInfo{{ID: "exp", Name: "Experiment"}}, got.Datasets); diff != "" {
		t.Errorf("datasets mismatch (-want +got):\n%s", diff)
	}

	resp, _ = ts.do(t, http.MethodGet, "/d/missing/api/summary", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = ts.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")
}

func TestBrushEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	var sum service.Summary
	ts.getJSON(t, "/d/exp/api/summary", &sum)
	assert.Equal(t, 3, sum.Curves)
	assert.False(t, sum.BrushApplied)

	t.Run("minmax", func(t *testing.T) {
		var mm struct {
			Min float64 `json:"min"`
			Max float64 `json:"max"`
		}
		ts.getJSON(t, "/d/exp/api/attributes/Mass%20(pg)/minmax?level=point", &mm)
		assert.Equal(t, 5.0, mm.Min)
		assert.Equal(t, 30.0, mm.Max)

		resp, _ := ts.do(t, http.MethodGet, "/d/exp/api/attributes/nope/minmax", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = ts.do(t, http.MethodGet, "/d/exp/api/attributes/Mass%20(pg)/minmax?level=frame", "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("set", func(t *testing.T) {
		resp, data := ts.do(t, http.MethodPut, "/d/exp/api/brushes/cell/scatter",
			`{"filters": [{"key": "Mass (pg)", "bound": [9, 13]}]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &sum))
		assert.True(t, sum.BrushApplied)
		assert.Equal(t, 1, sum.CurvesInBrush)

		var filters []model.DataFilter
		ts.getJSON(t, "/d/exp/api/filters", &filters)
		want := []model.DataFilter{{
			Level:   model.LevelCell,
			Owner:   "scatter",
			Filters: []model.Filter{{Key: model.KeyMass, Bound: model.Bound{Low: 9, High: 13}}},
		}}
		if diff := cmp.Diff(want, filters); diff != "" {
			t.Errorf("filters mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remove", func(t *testing.T) {
		resp, data := ts.do(t, http.MethodDelete, "/d/exp/api/brushes/cell/scatter", "")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
		require.NoError(t, json.Unmarshal(data, &sum))
		assert.Equal(t, 3, sum.CurvesInBrush)
	})

	t.Run("invalid", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodPut, "/d/exp/api/brushes/frame/x", `{"filters": [{"key": "k", "bound": [0, 1]}]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = ts.do(t, http.MethodPut, "/d/exp/api/brushes/cell/x", `{"filters": []}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp, _ = ts.do(t, http.MethodPut, "/d/exp/api/brushes/cell/x", `{"filters": [{"key": "k", "bound": 3}]}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestFacetAndCellEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	var opts struct {
		Options []string `json:"options"`
	}
	ts.getJSON(t, "/d/exp/api/facets", &opts)
	assert.Equal(t, []string{"condition"}, opts.Options)

	var facets service.Facets
	ts.getJSON(t, "/d/exp/api/facets/condition", &facets)
	require.Len(t, facets.Facets, 2)
	assert.Equal(t, "drug", facets.Facets[1].Name)

	var cells []service.CellInfo
	ts.getJSON(t, "/d/exp/api/cells/1/2", &cells)
	require.Len(t, cells, 2)
	assert.Equal(t, "b", cells[1].CurveID)

	var cell service.CellInfo
	ts.getJSON(t, "/d/exp/api/cells/2/1/1", &cell)
	assert.Equal(t, "c", cell.CurveID)

	var curve service.CurveInfo
	ts.getJSON(t, "/d/exp/api/curves/a", &curve)
	assert.Equal(t, 2, curve.Points)

	for path, want := range map[string]int{
		"/d/exp/api/cells/1/x":            http.StatusBadRequest,
		"/d/exp/api/cells/1/2/9":          http.StatusNotFound,
		"/d/exp/api/facets/nope":          http.StatusNotFound,
		"/d/exp/api/curves/zz":            http.StatusNotFound,
		"/d/exp/api/images/1/1.png":       http.StatusNotFound,
		"/d/exp/api/images/1/1/label?x=0": http.StatusBadRequest,
		"/d/exp/api/curves/a/montage.png": http.StatusNotFound,
	} {
		resp, _ := ts.do(t, http.MethodGet, path, "")
		assert.Equal(t, want, resp.StatusCode, path)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp, data := ts.do(t, http.MethodPut, "/d/exp/api/brushes/track/hist",
		`{"filters": [{"key": "Mass (pg) (avg)", "bound": [0, 15]}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	resp, data = ts.do(t, http.MethodPost, "/d/exp/api/snapshots", `{"name": "small"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var snap store.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "small", snap.Name)

	resp, _ = ts.do(t, http.MethodDelete, "/d/exp/api/brushes/track/hist", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = ts.do(t, http.MethodPost, "/d/exp/api/snapshots/"+snap.ID+"/apply", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var sum service.Summary
	require.NoError(t, json.Unmarshal(data, &sum))
	assert.Equal(t, 2, sum.CurvesInBrush)

	var list []store.Snapshot
	ts.getJSON(t, "/d/exp/api/snapshots", &list)
	assert.Len(t, list, 1)

	resp, _ = ts.do(t, http.MethodDelete, "/d/exp/api/snapshots/"+snap.ID, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodPost, "/d/exp/api/snapshots/"+snap.ID+"/apply", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/d/exp/api/snapshots", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDepthJobEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp, data := ts.do(t, http.MethodPost, "/d/exp/api/depth/jobs", `{"value_key": "Mass (pg)", "depth_key": "Band Depth"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(data))
	var submitted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(data, &submitted))

	require.Eventually(t, func() bool {
		job := ts.jobs.Get(submitted.JobID)
		return job != nil && job.Status.Terminal()
	}, 5*time.Second, 20*time.Millisecond)

	var job store.DepthJob
	ts.getJSON(t, "/d/exp/api/depth/jobs/"+submitted.JobID, &job)
	require.Equal(t, store.JobStatusCompleted, job.Status, job.Error)

	var result struct {
		Total int                `json:"total"`
		Items []store.CurveDepth `json:"items"`
	}
	ts.getJSON(t, "/d/exp/api/depth/jobs/"+submitted.JobID+"/result?limit=2", &result)
	assert.Equal(t, 3, result.Total)
	assert.Len(t, result.Items, 2)
	assert.GreaterOrEqual(t, result.Items[0].Depth, result.Items[1].Depth)

	var attrs service.Attributes
	ts.getJSON(t, "/d/exp/api/attributes", &attrs)
	assert.Contains(t, attrs.Curve, "Band Depth")

	t.Run("rejected", func(t *testing.T) {
		for body, want := range map[string]int{
			`{}`:                    http.StatusBadRequest,
			`{"value_key": "nope"}`: http.StatusBadRequest,
			`{"value_key": "Mass (pg)", "depth_key": "Band Depth"}`: http.StatusConflict,
		} {
			resp, _ := ts.do(t, http.MethodPost, "/d/exp/api/depth/jobs", body)
			assert.Equal(t, want, resp.StatusCode, body)
		}
	})

	t.Run("notFound", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/d/exp/api/depth/jobs/missing", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("deleteFinished", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodDelete, "/d/exp/api/depth/jobs/"+submitted.JobID+"?delete=1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Nil(t, ts.jobs.Get(submitted.JobID))
	})
}

func TestEventStream(t *testing.T) {
	ts := setupTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.server.URL+"/d/exp/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for the stream to be registered before brushing.
	require.Equal(t, "retry: 2000", <-lines)
	r, _ := ts.do(t, http.MethodPut, "/d/exp/api/brushes/curve/region",
		`{"filters": [{"key": "Mass (pg)", "bound": [25, 40]}]}`)
	require.Equal(t, http.StatusOK, r.StatusCode)

	for {
		select {
		case line := <-lines:
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var ev service.Event
			require.NoError(t, json.Unmarshal([]byte(data), &ev))
			assert.Equal(t, model.LevelCurve, ev.Level)
			assert.Equal(t, "region", ev.Owner)
			assert.Equal(t, 1, ev.CurvesInBrush)
			return
		case <-ctx.Done():
			t.Fatal("no brush event received")
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", service.ErrInvalidArgument), http.StatusBadRequest},
		{model.ErrInvalidLevel, http.StatusBadRequest},
		{imagestack.ErrOutOfRange, http.StatusBadRequest},
		{service.ErrNoImages, http.StatusNotFound},
		{fmt.Errorf("%w: %w", imagestack.ErrUnavailable, imagestack.ErrNotFound), http.StatusNotFound},
		{imagestack.ErrUnavailable, http.StatusBadGateway},
		{service.ErrNoStore, http.StatusNotImplemented},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
