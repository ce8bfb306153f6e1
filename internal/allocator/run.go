package allocator

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/herdline/breeding-cli/internal/apportion"
	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

type assignKey struct {
	cowID string
	class model.SemenClass
}

// AllocationRun is the state of a single invocation of Engine.Run. The ledger
// is the only inventory state; assignments accumulate and are never revised.
type AllocationRun struct {
	cfg         Config
	ledger      *Ledger
	assignments []model.Assignment
	assigned    map[assignKey]map[string]bool
	shortfalls  []model.Shortfall
	warnings    []model.Warning
}

func newAllocationRun(cfg Config, ledger *Ledger) *AllocationRun {
	return &AllocationRun{
		cfg:      cfg,
		ledger:   ledger,
		assigned: make(map[assignKey]map[string]bool),
	}
}

// allocate runs both phases for one cohort and class. Candidate data is
// validated before anything is consumed, so a failing cohort/class leaves the
// ledger untouched.
func (r *AllocationRun) allocate(c *Cohort, class model.SemenClass) error {
	lists, warnings, err := r.prepare(c, class)
	if err != nil {
		return err
	}
	r.warnings = append(r.warnings, warnings...)

	r.firstChoice(c, class, lists)
	r.progressiveFill(c, class, lists)
	return nil
}

// prepare checks each cow's candidate list for the class. A malformed list is
// treated as empty; when every list that carried data is malformed the whole
// cohort/class is rejected.
func (r *AllocationRun) prepare(c *Cohort, class model.SemenClass) (map[*matrix.Row][]model.CandidateEntry, []model.Warning, error) {
	lists := make(map[*matrix.Row][]model.CandidateEntry, len(c.Rows))
	var warnings []model.Warning
	var withData, malformed int

	for _, row := range c.Rows {
		if row.Cow.Score == nil {
			warnings = append(warnings, model.Warning{
				Kind:    model.WarnMissingScore,
				Subject: row.Cow.ID,
				Detail:  "cow reached the engine without a score",
			})
			continue
		}
		list := row.Candidates[class]
		if len(list) == 0 {
			continue
		}
		withData++
		if w, ok := r.checkList(row.Cow.ID, class, list); !ok {
			malformed++
			warnings = append(warnings, w)
			continue
		}
		lists[row] = list
	}

	if withData > 0 && malformed == withData {
		return nil, nil, eris.Errorf("allocator: all %d %s candidate lists in cohort %q are malformed", malformed, class, c.Label)
	}
	return lists, warnings, nil
}

func (r *AllocationRun) checkList(cowID string, class model.SemenClass, list []model.CandidateEntry) (model.Warning, bool) {
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		bull, ok := r.ledger.Bull(e.BullID)
		if !ok {
			return model.Warning{Kind: model.WarnUnknownBull, Subject: cowID, Detail: "unknown bull " + e.BullID}, false
		}
		if bull.Class != class || (e.Class != "" && e.Class != class) {
			return model.Warning{Kind: model.WarnMalformedField, Subject: cowID, Detail: "bull " + e.BullID + " listed under " + string(class)}, false
		}
		if seen[e.BullID] {
			return model.Warning{Kind: model.WarnMalformedField, Subject: cowID, Detail: "bull " + e.BullID + " listed twice"}, false
		}
		seen[e.BullID] = true
	}
	return model.Warning{}, true
}

// firstChoice hands out rank-1 assignments within the apportioned quotas,
// visiting cows by score, highest first.
func (r *AllocationRun) firstChoice(c *Cohort, class model.SemenClass, lists map[*matrix.Row][]model.CandidateEntry) {
	quota := apportion.Apportion(r.ledger.Available(class), len(c.Rows), r.cfg.EnsureMinimumQuota)
	used := make(map[string]int, len(quota))

	for _, row := range c.Priority() {
		for _, cand := range lists[row] {
			p := cand.BullID
			if quota[p] <= 0 || used[p] >= quota[p] || r.ledger.Remaining(p) <= 0 {
				continue
			}
			if !r.cfg.Constraint.Allows(cand) {
				continue
			}
			if r.record(row.Cow.ID, class, cand, 1) {
				used[p]++
				break
			}
		}
	}
}

// progressiveFill gives every cow, in input order, its remaining ranks from
// the best bulls still in stock.
func (r *AllocationRun) progressiveFill(c *Cohort, class model.SemenClass, lists map[*matrix.Row][]model.CandidateEntry) {
	for _, row := range c.Rows {
		key := assignKey{cowID: row.Cow.ID, class: class}
		next := len(r.assigned[key]) + 1

		candidates := r.rescore(row, lists[row])
		for next <= model.MaxRank {
			avail := r.available(candidates, r.assigned[key])
			if len(avail) == 0 {
				break
			}
			if !r.record(row.Cow.ID, class, avail[0], next) {
				break
			}
			next++
		}

		if next <= model.MaxRank {
			r.shortfalls = append(r.shortfalls, model.Shortfall{
				CowID:    row.Cow.ID,
				Group:    row.Cow.Group,
				Class:    class,
				Assigned: next - 1,
			})
		}
		if next == 1 {
			zap.L().Debug("allocator: cow unallocated",
				zap.String("cow_id", row.Cow.ID),
				zap.String("class", string(class)),
			)
		}
	}
}

// rescore recomputes pair quality from the current scores and re-sorts.
func (r *AllocationRun) rescore(row *matrix.Row, list []model.CandidateEntry) []model.CandidateEntry {
	out := make([]model.CandidateEntry, len(list))
	copy(out, list)
	if row.Cow.Score != nil {
		for i := range out {
			if bull, ok := r.ledger.Bull(out[i].BullID); ok {
				out[i].Quality = model.PairQuality(*row.Cow.Score, bull.Score)
			}
		}
	}
	matrix.SortByQuality(out)
	return out
}

func (r *AllocationRun) available(candidates []model.CandidateEntry, assigned map[string]bool) []model.CandidateEntry {
	var out []model.CandidateEntry
	for _, cand := range candidates {
		if assigned[cand.BullID] || r.ledger.Remaining(cand.BullID) <= 0 {
			continue
		}
		if !r.cfg.Constraint.Allows(cand) {
			continue
		}
		out = append(out, cand)
	}
	return out
}

// record consumes one unit of the candidate's bull and stores the assignment.
func (r *AllocationRun) record(cowID string, class model.SemenClass, cand model.CandidateEntry, rank int) bool {
	key := assignKey{cowID: cowID, class: class}
	if r.assigned[key][cand.BullID] {
		return false
	}
	remaining, ok := r.ledger.Take(cand.BullID)
	if !ok {
		return false
	}
	if r.assigned[key] == nil {
		r.assigned[key] = make(map[string]bool, model.MaxRank)
	}
	r.assigned[key][cand.BullID] = true
	r.assignments = append(r.assignments, model.Assignment{
		CowID:          cowID,
		BullID:         cand.BullID,
		Rank:           rank,
		Class:          class,
		Quality:        cand.Quality,
		Risk:           cand.Risk,
		Defect:         cand.Defect,
		RemainingAfter: remaining,
	})
	return true
}

func (r *AllocationRun) warn(kind model.WarningKind, subject, detail string) {
	r.warnings = append(r.warnings, model.Warning{Kind: kind, Subject: subject, Detail: detail})
}
