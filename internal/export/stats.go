package export

import (
	"gonum.org/v1/gonum/stat"

	"github.com/herdline/breeding-cli/internal/model"
)

// RankStats summarizes pair quality for one choice rank.
type RankStats struct {
	Rank   int     `json:"rank" yaml:"rank"`
	Count  int     `json:"count" yaml:"count"`
	Mean   float64 `json:"mean_quality" yaml:"mean_quality"`
	StdDev float64 `json:"stddev_quality" yaml:"stddev_quality"`
}

// QualityByRank returns quality statistics for ranks 1..MaxRank. Ranks with no
// assignments report zero counts.
func QualityByRank(as []model.Assignment) []RankStats {
	byRank := make([][]float64, model.MaxRank+1)
	for _, a := range as {
		if a.Rank >= 1 && a.Rank <= model.MaxRank {
			byRank[a.Rank] = append(byRank[a.Rank], a.Quality)
		}
	}

	out := make([]RankStats, 0, model.MaxRank)
	for r := 1; r <= model.MaxRank; r++ {
		rs := RankStats{Rank: r, Count: len(byRank[r])}
		switch rs.Count {
		case 0:
		case 1:
			rs.Mean = byRank[r][0]
		default:
			rs.Mean, rs.StdDev = stat.MeanStdDev(byRank[r], nil)
		}
		out = append(out, rs)
	}
	return out
}
