package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trackviz/server/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "trackviz.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSnapshots(t *testing.T) {
	s := newTestStore(t)

	filters := []model.DataFilter{
		{Level: model.LevelCell, Owner: "scatter", Filters: []model.Filter{{Key: "Mass (pg)", Bound: model.Bound{Low: 1, High: 2}}}},
		{Level: model.LevelTrack, Owner: "hist", Filters: []model.Filter{{Key: "Track Length", Bound: model.Bound{Low: 10, High: 20}}}},
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveSnapshot(&Snapshot{ID: "s1", DatasetID: "exp", Name: "first", Filters: filters, CreatedAt: created}))
	require.NoError(t, s.SaveSnapshot(&Snapshot{ID: "s2", DatasetID: "exp", Name: "second", CreatedAt: created.Add(time.Hour)}))
	require.NoError(t, s.SaveSnapshot(&Snapshot{ID: "s3", DatasetID: "other", Name: "x", CreatedAt: created}))

	got, err := s.GetSnapshot("exp", "s1")
	require.NoError(t, err)
	if diff := cmp.Diff(filters, got.Filters); diff != "" {
		t.Errorf("filters mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, created.Equal(got.CreatedAt))

	list, err := s.ListSnapshots("exp")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s2", list[0].ID)

	_, err = s.GetSnapshot("other", "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteSnapshot("exp", "s1"))
	assert.ErrorIs(t, s.DeleteSnapshot("exp", "s1"), ErrNotFound)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)

	job := &DepthJob{
		ID:        "j1",
		DatasetID: "exp",
		Status:    JobStatusQueued,
		Params:    DepthJobParams{DatasetID: "exp", DepthKey: "depth", ValueKey: "Mass (pg)"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateJob(job))

	queued, err := s.ListQueuedJobs()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "Mass (pg)", queued[0].Params.ValueKey)

	require.NoError(t, s.UpdateJobStarted("j1"))
	require.NoError(t, s.UpdateJobCurves("j1", 3))
	got, err := s.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.Equal(t, 3, got.Curves)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	require.NoError(t, s.InsertResults("j1", []CurveDepth{{"a", 1}, {"b", 4}, {"c", 4}}))
	require.NoError(t, s.UpdateJobStatus("j1", JobStatusCompleted, ""))

	results, total, err := s.QueryResults("j1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, []CurveDepth{{"b", 4}, {"c", 4}}, results)

	got, err = s.GetJob("j1")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)

	jobs, err := s.ListJobsByDataset("exp")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, s.DeleteJob("j1"))
	_, err = s.GetJob("j1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestartRecovery(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"run", "wait"} {
		require.NoError(t, s.CreateJob(&DepthJob{ID: id, DatasetID: "exp", Status: JobStatusQueued, CreatedAt: time.Now()}))
	}
	require.NoError(t, s.UpdateJobStarted("run"))
	require.NoError(t, s.MarkRunningAsFailed("server restarted"))

	got, err := s.GetJob("run")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, "server restarted", got.Error)

	got, err = s.GetJob("wait")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, got.Status)
}

func TestDeleteExpiredJobs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateJob(&DepthJob{ID: "old", DatasetID: "exp", Status: JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, s.CreateJob(&DepthJob{ID: "open", DatasetID: "exp", Status: JobStatusQueued, CreatedAt: time.Now()}))
	require.NoError(t, s.UpdateJobStatus("old", JobStatusFailed, "boom"))
	require.NoError(t, s.InsertResults("old", []CurveDepth{{"a", 1}}))

	// Everything finished before now+1h is expired with a negative retention.
	n, err := s.DeleteExpiredJobs(-time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.GetJob("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, total, err := s.QueryResults("old", 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = s.GetJob("open")
	assert.NoError(t, err)
}
