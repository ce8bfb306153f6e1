package allocator

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/herdline/breeding-cli/internal/matrix"
	"github.com/herdline/breeding-cli/internal/model"
)

// CohortKey is the parsed ordering key of a group label.
type CohortKey struct {
	Cycle   int  `json:"cycle"`
	IsCycle bool `json:"is_cycle"`
}

var (
	cyclePattern = regexp.MustCompile(`(?:cycle|サイクル)\s*[-_#:]?\s*(\d+)`)
	ordinalCycle = regexp.MustCompile(`第\s*(\d+)\s*周期`)
)

// NormalizeLabel folds width and case so that "Cycle １" and "cycle 1" compare
// equal. Surrounding whitespace is trimmed.
func NormalizeLabel(label string) string {
	// Casers are stateful; one per call keeps concurrent runs independent.
	return strings.TrimSpace(cases.Fold().String(width.Fold.String(label)))
}

// ParseCohortLabel extracts the cycle number from a group label.
func ParseCohortLabel(label string) CohortKey {
	norm := NormalizeLabel(label)
	for _, re := range []*regexp.Regexp{cyclePattern, ordinalCycle} {
		m := re.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return CohortKey{Cycle: n, IsCycle: true}
	}
	return CohortKey{}
}

// Cohort is a group of cows processed together.
type Cohort struct {
	Label string
	Key   CohortKey
	Rows  []*matrix.Row // input order, used by progressive fill
}

// Priority returns the cohort's rows ordered by cow score, highest first.
// Equal scores keep input order.
func (c *Cohort) Priority() []*matrix.Row {
	rows := append([]*matrix.Row(nil), c.Rows...)
	sort.SliceStable(rows, func(i, j int) bool {
		return cowScore(rows[i]) > cowScore(rows[j])
	})
	return rows
}

func cowScore(r *matrix.Row) float64 {
	if r.Cow.Score == nil {
		return 0
	}
	return *r.Cow.Score
}

// OrderCohorts partitions rows by normalized group label, so "Cycle 1" and
// "cycle 1" share one cohort; Label keeps the first spelling seen. Cycle
// cohorts come first in ascending cycle order; the remaining cohorts follow in
// order of first appearance.
func OrderCohorts(rows []matrix.Row) []*Cohort {
	var cohorts []*Cohort
	byLabel := make(map[string]*Cohort)
	for i := range rows {
		label := rows[i].Cow.Group
		norm := NormalizeLabel(label)
		c, ok := byLabel[norm]
		if !ok {
			c = &Cohort{Label: label, Key: ParseCohortLabel(label)}
			byLabel[norm] = c
			cohorts = append(cohorts, c)
		}
		c.Rows = append(c.Rows, &rows[i])
	}

	sort.SliceStable(cohorts, func(i, j int) bool {
		a, b := cohorts[i].Key, cohorts[j].Key
		switch {
		case a.IsCycle && b.IsCycle:
			return a.Cycle < b.Cycle
		case a.IsCycle:
			return true
		default:
			return false
		}
	})
	return cohorts
}

// DefaultExclusions are the label markers that make a class inapplicable to a
// cohort.
func DefaultExclusions() map[model.SemenClass][]string {
	return map[model.SemenClass][]string{
		model.ClassSexed:        {"conventional only", "no sexed", "non-sexed", "sexed excluded", "性判別なし"},
		model.ClassConventional: {"sexed only", "性判別のみ"},
	}
}

// ApplicableClasses returns the classes a cohort draws from, in processing
// order. A label carrying an exclusion marker for a class drops that class.
func ApplicableClasses(label string, exclusions map[model.SemenClass][]string) []model.SemenClass {
	norm := NormalizeLabel(label)
	var classes []model.SemenClass
	for _, class := range model.Classes() {
		if !hasMarker(norm, exclusions[class]) {
			classes = append(classes, class)
		}
	}
	return classes
}

func hasMarker(normLabel string, markers []string) bool {
	for _, m := range markers {
		m = NormalizeLabel(m)
		if m != "" && strings.Contains(normLabel, m) {
			return true
		}
	}
	return false
}
