package threshold

import "github.com/torosent/stampede/internal/metrics"

// Rating is a coarse verdict on a run.
type Rating string

const (
	RatingExcellent        Rating = "EXCELLENT"
	RatingGood             Rating = "GOOD"
	RatingAcceptable       Rating = "ACCEPTABLE"
	RatingNeedsImprovement Rating = "NEEDS IMPROVEMENT"
)

// Rate grades a summary by success rate and p95 latency.
func Rate(s metrics.Summary) Rating {
	switch {
	case s.Total == 0:
		return RatingNeedsImprovement
	case s.SuccessRate >= 99.9 && s.P95LatencyMs < 200:
		return RatingExcellent
	case s.SuccessRate >= 99.0 && s.P95LatencyMs < 500:
		return RatingGood
	case s.SuccessRate >= 95.0:
		return RatingAcceptable
	default:
		return RatingNeedsImprovement
	}
}
