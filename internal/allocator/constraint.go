package allocator

import (
	"github.com/herdline/breeding-cli/internal/model"
)

// DefaultRiskThreshold is the engine's own risk limit (6.25%).
const DefaultRiskThreshold = 0.0625

// Constraint is the engine-side eligibility check applied to every assignment.
// It is configured independently of the matrix recommendation policy.
type Constraint struct {
	RiskThreshold      float64 `json:"risk_threshold"` // fraction
	ControlDefectGenes bool    `json:"control_defect_genes"`
}

// Allows reports whether a candidate may be assigned.
func (c Constraint) Allows(e model.CandidateEntry) bool {
	if e.Risk > c.RiskThreshold {
		return false
	}
	if c.ControlDefectGenes && e.Defect.IsHighRisk() {
		return false
	}
	return true
}
