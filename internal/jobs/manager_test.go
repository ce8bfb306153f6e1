package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/loader"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
	"github.com/herdline/breeding-cli/internal/monitoring"
	"github.com/herdline/breeding-cli/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func score(v float64) *float64 { return &v }

func smallDataset() *loader.Dataset {
	return &loader.Dataset{
		Bulls: []model.Bull{
			{ID: "S1", Class: model.ClassSexed, Count: 4, Score: 90},
			{ID: "S2", Class: model.ClassSexed, Count: 4, Score: 80},
			{ID: "C1", Class: model.ClassConventional, Count: 6, Score: 70},
		},
		Cows: []model.Cow{
			{ID: "K1", Group: "cycle 1", Score: score(85)},
			{ID: "K2", Group: "cycle 1", Score: score(75)},
			{ID: "K3", Group: "cycle 2", Score: score(65)},
		},
		Eligibility: matrix.NewTable(0),
		Warnings:    []model.Warning{{Kind: model.WarnMissingEligibility, Subject: "K3"}},
	}
}

// blockingRun reports one progress step and then waits for release or
// cancellation.
func blockingRun(release <-chan struct{}) RunFunc {
	return func(ctx context.Context, progress allocator.ProgressFunc) (*allocator.Result, error) {
		progress("cohort cycle 1 (1/2)", 0)
		select {
		case <-release:
			return &allocator.Result{Summary: model.RunSummary{Cows: 1}}, nil
		case <-ctx.Done():
			return nil, allocator.ErrCancelled
		}
	}
}

func waitFor(t *testing.T, m *Manager, id string, cond func(Job) bool) Job {
	t.Helper()
	var last Job
	require.Eventually(t, func() bool {
		j, ok := m.Get(id)
		last = j
		return ok && cond(j)
	}, 5*time.Second, 5*time.Millisecond)
	return last
}

func TestManager_CompletesAndPersists(t *testing.T) {
	st := newTestStore(t)
	metrics := monitoring.NewMetrics()
	m := NewManager(Options{Store: st, Metrics: metrics})

	in := BuildInput(smallDataset(), matrix.DefaultPolicy(), nil)
	job, err := m.Start(context.Background(), model.RunParams{Source: "test"}, EngineRun(allocator.DefaultConfig(), in))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, job.Status)

	final, err := m.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, final.Status)
	assert.Equal(t, 100, final.Percent)
	assert.Equal(t, "allocation complete", final.Message)
	require.NotNil(t, final.Summary)
	assert.Equal(t, 3, final.Summary.Cows)

	res, ok := m.Result(job.ID)
	require.True(t, ok)
	assert.NotEmpty(t, res.Assignments)

	stored, err := st.GetRun(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, stored.Status)
	assert.Equal(t, "test", stored.Params.Source)

	as, err := st.ListAssignments(context.Background(), job.ID, store.AssignmentFilter{})
	require.NoError(t, err)
	assert.Equal(t, res.Assignments, as)

	n, err := testutil.GatherAndCount(metrics.Registry(), "breeding_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_NoStore(t *testing.T) {
	m := NewManager(Options{})
	release := make(chan struct{})

	job, err := m.Start(context.Background(), model.RunParams{}, blockingRun(release))
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	running := waitFor(t, m, job.ID, func(j Job) bool { return j.Message != "" })
	assert.Equal(t, model.RunStatusRunning, running.Status)
	assert.Equal(t, "cohort cycle 1 (1/2)", running.Message)

	close(release)
	final, err := m.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, final.Status)
}

func TestManager_Cancel(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(Options{Store: st})

	job, err := m.Start(context.Background(), model.RunParams{}, blockingRun(make(chan struct{})))
	require.NoError(t, err)
	waitFor(t, m, job.ID, func(j Job) bool { return j.Status == model.RunStatusRunning })

	require.NoError(t, m.Cancel(job.ID))
	final, err := m.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, final.Status)
	assert.True(t, final.CancelRequested)
	assert.Nil(t, final.Summary)

	_, ok := m.Result(job.ID)
	assert.False(t, ok, "cancelled runs keep no partial result")

	stored, err := st.GetRun(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, stored.Status)

	assert.ErrorIs(t, m.Cancel(job.ID), ErrFinished)
	assert.ErrorIs(t, m.Cancel("missing"), ErrNotFound)
}

func TestManager_CancelWhileQueued(t *testing.T) {
	m := NewManager(Options{MaxConcurrent: 1})
	release := make(chan struct{})
	defer close(release)

	first, err := m.Start(context.Background(), model.RunParams{}, blockingRun(release))
	require.NoError(t, err)
	waitFor(t, m, first.ID, func(j Job) bool { return j.Status == model.RunStatusRunning })

	second, err := m.Start(context.Background(), model.RunParams{}, blockingRun(release))
	require.NoError(t, err)
	got, ok := m.Get(second.ID)
	require.True(t, ok)
	assert.Equal(t, model.RunStatusQueued, got.Status)

	require.NoError(t, m.Cancel(second.ID))
	final, err := m.Wait(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, final.Status)
	assert.Equal(t, "cancelled while queued", final.Error)
}

func TestManager_Failure(t *testing.T) {
	st := newTestStore(t)
	m := NewManager(Options{Store: st})

	job, err := m.Start(context.Background(), model.RunParams{}, func(context.Context, allocator.ProgressFunc) (*allocator.Result, error) {
		return nil, allocator.ErrNoInventory
	})
	require.NoError(t, err)

	final, err := m.Wait(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, final.Status)
	assert.Contains(t, final.Error, "no bull has inventory")

	stored, err := st.GetRun(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Equal(t, final.Error, stored.Error)
}

func TestManager_WaitContextCancelsRun(t *testing.T) {
	m := NewManager(Options{})
	job, err := m.Start(context.Background(), model.RunParams{}, blockingRun(make(chan struct{})))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	final, err := m.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCancelled, final.Status)

	_, err = m.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ListNewestFirst(t *testing.T) {
	m := NewManager(Options{MaxConcurrent: 2})
	done := func(context.Context, allocator.ProgressFunc) (*allocator.Result, error) {
		return &allocator.Result{}, nil
	}

	a, err := m.Start(context.Background(), model.RunParams{}, done)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := m.Start(context.Background(), model.RunParams{}, done)
	require.NoError(t, err)

	jobs := m.List()
	require.Len(t, jobs, 2)
	assert.Equal(t, b.ID, jobs[0].ID)
	assert.Equal(t, a.ID, jobs[1].ID)
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager(Options{})
	job, err := m.Start(context.Background(), model.RunParams{}, blockingRun(make(chan struct{})))
	require.NoError(t, err)
	waitFor(t, m, job.ID, func(j Job) bool { return j.Status == model.RunStatusRunning })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	got, _ := m.Get(job.ID)
	assert.Equal(t, model.RunStatusCancelled, got.Status)

	_, err = m.Start(context.Background(), model.RunParams{}, blockingRun(nil))
	assert.True(t, errors.Is(err, ErrShuttingDown))
}

func TestBuildInput(t *testing.T) {
	in := BuildInput(smallDataset(), matrix.DefaultPolicy(), []string{"cycle 1"})
	require.NotNil(t, in.Matrix)
	assert.Len(t, in.Matrix.Rows, 3)
	assert.Len(t, in.Bulls, 3)
	assert.Equal(t, []string{"cycle 1"}, in.Cohorts)
	assert.Len(t, in.Warnings, 1)
}
