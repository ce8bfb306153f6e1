package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/config"
	"github.com/herdline/breeding-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func failingRuns(n int) *mockRuns {
	now := time.Now().UTC()
	st := &mockRuns{}
	for i := 0; i < n; i++ {
		st.runs = append(st.runs, model.Run{Status: model.RunStatusFailed, CreatedAt: now.Add(-time.Minute)})
	}
	return st
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		CheckIntervalSecs:    1,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	checker := NewChecker(NewCollector(&mockRuns{}), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CancelledBeforeStart(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.1}
	checker := NewChecker(NewCollector(failingRuns(10)), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker.Run(ctx)

	assert.Equal(t, int32(0), hits.Load())
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.1,
	}
	checker := NewChecker(NewCollector(failingRuns(6)), NewAlerter(cfg), cfg)

	alerts := checker.Check(context.Background())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.1}
	checker := NewChecker(NewCollector(&mockRuns{listErr: assert.AnError}), NewAlerter(cfg), cfg)

	assert.Nil(t, checker.Check(context.Background()))
}
