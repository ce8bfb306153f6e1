package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/herdline/breeding-cli/internal/model"
	"github.com/herdline/breeding-cli/internal/store"
)

// Snapshot holds a point-in-time view of allocation run health.
type Snapshot struct {
	// Run counts (within lookback window).
	RunsTotal     int     `json:"runs_total" yaml:"runs_total"`
	RunsComplete  int     `json:"runs_complete" yaml:"runs_complete"`
	RunsFailed    int     `json:"runs_failed" yaml:"runs_failed"`
	RunsCancelled int     `json:"runs_cancelled" yaml:"runs_cancelled"`
	RunsActive    int     `json:"runs_active" yaml:"runs_active"` // queued or running
	FailRate      float64 `json:"fail_rate" yaml:"fail_rate"`

	// Aggregates over completed runs.
	Assignments    int     `json:"assignments" yaml:"assignments"`
	Shortfalls     int     `json:"shortfalls" yaml:"shortfalls"`
	Unallocated    int     `json:"unallocated" yaml:"unallocated"`
	MeanFillRate   float64 `json:"mean_fill_rate" yaml:"mean_fill_rate"`
	MeanDurationMs int64   `json:"mean_duration_ms" yaml:"mean_duration_ms"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours" yaml:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at" yaml:"collected_at"`
}

// RunLister abstracts the store method needed by the collector.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the store.
type Collector struct {
	runs RunLister
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs}
}

// Collect gathers a snapshot over the given lookback window. A lookback of
// zero covers every stored run.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	filter := store.RunFilter{Limit: 10000}
	if lookbackHours > 0 {
		filter.CreatedAfter = now.Add(-time.Duration(lookbackHours) * time.Hour)
	}
	runs, err := c.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var (
		fillSum     float64
		durationSum int64
		summarized  int
	)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusCancelled:
			snap.RunsCancelled++
		case model.RunStatusQueued, model.RunStatusRunning:
			snap.RunsActive++
		}
		if r.Status != model.RunStatusComplete || r.Summary == nil {
			continue
		}
		summarized++
		snap.Assignments += r.Summary.Assignments
		snap.Shortfalls += r.Summary.Shortfalls
		snap.Unallocated += r.Summary.Unallocated
		fillSum += r.Summary.FillRate()
		durationSum += r.Summary.DurationMs
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if summarized > 0 {
		snap.MeanFillRate = fillSum / float64(summarized)
		snap.MeanDurationMs = durationSum / int64(summarized)
	}

	return snap, nil
}
