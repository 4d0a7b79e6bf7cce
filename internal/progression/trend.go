package progression

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/radprogressor-server/internal/domain"
)

// TrendDeadband is the score change a trend must exceed to count as up or down.
const TrendDeadband = 0.02

// Trend compares the last two scores of an ordered history.
func Trend(history []domain.ScorePoint) domain.TrendSummary {
	if len(history) < 2 {
		return domain.FlatTrend()
	}

	// The deadband is compared against the rounded delta that is reported.
	d := round3(history[len(history)-1].Score - history[len(history)-2].Score)
	direction := domain.TrendFlat
	switch {
	case d > TrendDeadband:
		direction = domain.TrendUp
	case d < -TrendDeadband:
		direction = domain.TrendDown
	}

	return domain.TrendSummary{LastDelta: d, Direction: direction}
}

// Summarize returns the trend plus whole-history statistics: study count, mean
// score and least-squares slope of score over study index.
func Summarize(history []domain.ScorePoint) domain.TimelineSummary {
	summary := domain.TimelineSummary{
		TrendSummary: Trend(history),
		StudyCount:   len(history),
	}
	if len(history) == 0 {
		return summary
	}

	xs := make([]float64, len(history))
	ys := make([]float64, len(history))
	for i, p := range history {
		xs[i] = float64(i)
		ys[i] = p.Score
	}

	summary.MeanScore = round3(stat.Mean(ys, nil))
	if len(history) >= 2 {
		_, beta := stat.LinearRegression(xs, ys, nil, false)
		summary.Slope = round3(beta)
	}
	return summary
}

func round3(v float64) float64 {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		return 0
	}
	return r
}
