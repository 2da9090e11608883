package dedup

import (
	"math"
	"time"
)

// score accumulates 1/(rank+1) x sourceTypeWeight over every discovery of the
// article, so cross-source confirmation is rewarded additively. When a recency
// half-life is configured and the publish time is known, the sum is scaled by
// exp(-hoursSincePublish/halfLife).
func score(origins []Origin, weights map[string]float64, publishedAt *time.Time, halfLifeHours float64, now time.Time) float64 {
	total := 0.0
	for _, o := range origins {
		weight, ok := weights[o.SourceType]
		if !ok {
			weight = 1.0
		}
		total += weight / float64(o.Rank+1)
	}

	if halfLifeHours > 0 && publishedAt != nil {
		hours := now.Sub(*publishedAt).Hours()
		if hours > 0 {
			total *= math.Exp(-hours / halfLifeHours)
		}
	}
	return total
}
