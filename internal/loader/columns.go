package loader

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/herdline/breeding-cli/internal/fetcher"
)

// Canonical column names.
const (
	colID     = "id"
	colName   = "name"
	colClass  = "class"
	colCount  = "count"
	colScore  = "score"
	colGroup  = "group"
	colCowID  = "cow_id"
	colBullID = "bull_id"
	colRisk   = "risk"
	colDefect = "defect"
)

var bullAliases = map[string][]string{
	colID:    {"id", "bull_id", "bull", "sire", "sire_id", "種雄牛", "種雄牛id", "種雄牛番号"},
	colName:  {"name", "bull_name", "sire_name", "名号", "名前"},
	colClass: {"class", "type", "semen_class", "semen_type", "種別", "精液種別"},
	colCount: {"count", "inventory", "stock", "units", "straws", "在庫", "在庫数", "本数"},
	colScore: {"score", "index", "value", "評価", "スコア", "育種価"},
}

var cowAliases = map[string][]string{
	colID:    {"id", "cow_id", "cow", "animal_id", "個体識別番号", "個体番号", "牛番号"},
	colGroup: {"group", "cohort", "cycle", "pen", "グループ", "群", "サイクル"},
	colScore: {"score", "index", "value", "評価", "スコア", "育種価"},
}

var eligibilityAliases = map[string][]string{
	colCowID:  {"cow_id", "cow", "animal_id", "個体識別番号", "個体番号"},
	colBullID: {"bull_id", "bull", "sire", "sire_id", "種雄牛", "種雄牛id"},
	colRisk:   {"risk", "inbreeding", "inbreeding_coefficient", "coi", "近交係数"},
	colDefect: {"defect", "defect_status", "遺伝病", "遺伝病リスク"},
}

// normalizeHeader folds width and case and joins words with underscores so
// that "Bull ID", "bull-id" and "ＢＵＬＬ_ＩＤ" compare equal.
func normalizeHeader(s string) string {
	s = strings.TrimSpace(cases.Fold().String(width.Fold.String(s)))
	s = strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

// normalizeValue folds a cell value for set membership tests.
func normalizeValue(s string) string {
	return strings.TrimSpace(cases.Fold().String(width.Fold.String(s)))
}

// columns maps canonical column names to their index in a table header.
type columns struct {
	index   map[string]int
	claimed map[int]bool
}

func resolveColumns(header []string, aliases map[string][]string) columns {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		n := normalizeHeader(h)
		if _, dup := byName[n]; !dup {
			byName[n] = i
		}
	}

	canonicals := make([]string, 0, len(aliases))
	for k := range aliases {
		canonicals = append(canonicals, k)
	}
	sort.Strings(canonicals)

	c := columns{index: make(map[string]int, len(aliases)), claimed: make(map[int]bool)}
	for _, canonical := range canonicals {
		for _, name := range aliases[canonical] {
			if i, ok := byName[normalizeHeader(name)]; ok && !c.claimed[i] {
				c.index[canonical] = i
				c.claimed[i] = true
				break
			}
		}
	}
	return c
}

func (c columns) has(name string) bool {
	_, ok := c.index[name]
	return ok
}

func (c columns) get(t *fetcher.Table, row int, name string) string {
	i, ok := c.index[name]
	if !ok {
		return ""
	}
	return t.Cell(row, i)
}

// missing returns the required canonical columns that are absent.
func (c columns) missing(required ...string) []string {
	var out []string
	for _, r := range required {
		if !c.has(r) {
			out = append(out, r)
		}
	}
	return out
}

// unclaimed returns the header indexes not bound to a canonical column.
func (c columns) unclaimed(header []string) []int {
	var out []int
	for i, h := range header {
		if !c.claimed[i] && strings.TrimSpace(h) != "" {
			out = append(out, i)
		}
	}
	return out
}
