package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/allocator"
	"github.com/herdline/breeding-cli/internal/config"
	"github.com/herdline/breeding-cli/internal/jobs"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
	"github.com/herdline/breeding-cli/internal/store"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(max(s.cfg.Server.MaxBodyMB, 1))<<20)

	req, err := decodeRunRequest(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ds, err := req.dataset()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy, engineCfg, err := req.settings(s.cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params := model.RunParams{
		Source:             "api",
		Cohorts:            req.Cohorts,
		RiskCutoff:         policy.RiskCutoff,
		RiskThreshold:      engineCfg.Constraint.RiskThreshold,
		ControlDefectGenes: engineCfg.Constraint.ControlDefectGenes,
		EnsureMinimumQuota: engineCfg.EnsureMinimumQuota,
	}
	in := jobs.BuildInput(ds, policy, req.Cohorts)
	job, err := s.jobs.Start(r.Context(), params, jobs.EngineRun(engineCfg, in))
	if errors.Is(err, jobs.ErrShuttingDown) {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	if err != nil {
		zap.L().Error("api: start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}

	w.Header().Set("Location", "/runs/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.RunFilter{Status: model.RunStatus(q.Get("status"))}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit "+err.Error())
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset "+err.Error())
		return
	}

	if s.store == nil {
		writeJSON(w, http.StatusOK, paginate(filterJobs(s.jobs.List(), filter.Status), filter))
		return
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	out := make([]jobs.Job, 0, len(runs))
	for _, run := range runs {
		out = append(out, s.view(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if job, ok := s.jobs.Get(id); ok {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		zap.L().Error("api: get run", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, fromRun(*run))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.jobs.Cancel(id)
	switch {
	case err == nil:
		job, _ := s.jobs.Get(id)
		writeJSON(w, http.StatusAccepted, job)
	case errors.Is(err, jobs.ErrFinished):
		writeError(w, http.StatusConflict, "run already finished")
	case errors.Is(err, jobs.ErrNotFound):
		if s.store != nil {
			if _, serr := s.store.GetRun(r.Context(), id); serr == nil {
				writeError(w, http.StatusConflict, "run is not active on this server")
				return
			}
		}
		writeError(w, http.StatusNotFound, "run not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filter := store.AssignmentFilter{CowID: r.URL.Query().Get("cow_id")}
	if c := r.URL.Query().Get("class"); c != "" {
		class, ok := model.ParseSemenClass(c)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown class %q", c))
			return
		}
		filter.Class = class
	}

	if job, ok := s.jobs.Get(id); ok {
		res, done := s.jobs.Result(id)
		if !done {
			writeError(w, http.StatusConflict, fmt.Sprintf("run is %s", job.Status))
			return
		}
		writeJSON(w, http.StatusOK, filterAssignments(res.Assignments, filter))
		return
	}
	if s.store == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	if run.Status != model.RunStatusComplete {
		writeError(w, http.StatusConflict, fmt.Sprintf("run is %s", run.Status))
		return
	}
	as, err := s.store.ListAssignments(r.Context(), id, filter)
	if err != nil {
		zap.L().Error("api: list assignments", zap.String("run_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list assignments")
		return
	}
	if as == nil {
		as = []model.Assignment{}
	}
	writeJSON(w, http.StatusOK, as)
}

// view prefers the live state of a run this process is executing.
func (s *Server) view(run model.Run) jobs.Job {
	if job, ok := s.jobs.Get(run.ID); ok {
		return job
	}
	return fromRun(run)
}

func fromRun(run model.Run) jobs.Job {
	j := jobs.Job{
		ID:        run.ID,
		Params:    run.Params,
		Status:    run.Status,
		Error:     run.Error,
		Summary:   run.Summary,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if run.Status == model.RunStatusComplete {
		j.Percent = 100
	}
	return j
}

func filterJobs(all []jobs.Job, status model.RunStatus) []jobs.Job {
	if status == "" {
		return all
	}
	var out []jobs.Job
	for _, j := range all {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

func paginate(all []jobs.Job, f store.RunFilter) []jobs.Job {
	out := []jobs.Job{}
	if f.Offset >= len(all) {
		return out
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return append(out, all...)
}

func filterAssignments(as []model.Assignment, f store.AssignmentFilter) []model.Assignment {
	out := []model.Assignment{}
	for _, a := range as {
		if f.CowID != "" && a.CowID != f.CowID {
			continue
		}
		if f.Class != "" && a.Class != f.Class {
			continue
		}
		out = append(out, a)
	}
	return out
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

// settings merges request overrides onto the configured defaults. Overrides
// are percentages, like the config file.
func (req *runRequest) settings(cfg *config.Config) (matrix.Policy, allocator.Config, error) {
	c := *cfg
	if req.RiskCutoffPercent != nil {
		c.Matrix.RiskCutoffPercent = *req.RiskCutoffPercent
	}
	if req.RiskThresholdPercent != nil {
		c.Allocation.RiskThresholdPercent = *req.RiskThresholdPercent
	}
	if req.ControlDefectGenes != nil {
		c.Allocation.ControlDefectGenes = *req.ControlDefectGenes
	}
	if req.EnsureMinimumQuota != nil {
		c.Allocation.EnsureMinimumQuota = *req.EnsureMinimumQuota
	}
	if req.ExcludeHighDefect != nil {
		c.Matrix.ExcludeHighDefect = *req.ExcludeHighDefect
	}
	if p := c.Matrix.RiskCutoffPercent; p < 0 || p > 100 {
		return matrix.Policy{}, allocator.Config{}, errors.New("risk_cutoff_percent must be between 0 and 100")
	}
	if p := c.Allocation.RiskThresholdPercent; p < 0 || p > 100 {
		return matrix.Policy{}, allocator.Config{}, errors.New("risk_threshold_percent must be between 0 and 100")
	}
	return c.MatrixPolicy(), c.AllocatorConfig(), nil
}
