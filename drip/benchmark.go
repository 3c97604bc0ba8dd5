package drip

import (
	"math"

	"github.com/gitauto-ai/drip/storage"
)

const (
	// MinBenchmarkLines keeps tiny, trivially covered repos out of comparisons.
	MinBenchmarkLines = 5000
	// MinBenchmarkCoverage is the coverage a benchmark repo must reach.
	MinBenchmarkCoverage = 80.0
	// MinBenchmarkGap is how far ahead of the target a benchmark must be, in points.
	MinBenchmarkGap = 5.0
)

// Benchmark is a similar-size, better-covered repository of another owner.
type Benchmark struct {
	LinesTotal  int
	CoveragePct int
}

// FindBenchmark picks, among repos of other owners, the one closest in size to
// the target that is large enough and meaningfully better covered. Ties go to
// the first candidate in input order. Returns nil when nothing qualifies.
func FindBenchmark(targetOwnerID int64, targetLinesTotal int, targetCoveragePct float64, repos []*storage.Coverage) *Benchmark {
	var best *storage.Coverage
	bestDistance := math.MaxInt

	for _, repo := range repos {
		if repo.OwnerID == targetOwnerID || repo.StatementCoverage == nil {
			continue
		}
		if repo.LinesTotal < MinBenchmarkLines {
			continue
		}
		pct := *repo.StatementCoverage
		if pct < MinBenchmarkCoverage || pct-targetCoveragePct < MinBenchmarkGap {
			continue
		}

		distance := repo.LinesTotal - targetLinesTotal
		if distance < 0 {
			distance = -distance
		}
		if distance < bestDistance {
			best = repo
			bestDistance = distance
		}
	}

	if best == nil {
		return nil
	}
	return &Benchmark{
		LinesTotal:  best.LinesTotal,
		CoveragePct: int(math.Round(*best.StatementCoverage)),
	}
}
