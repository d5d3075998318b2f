// Package stats - Per-cycle aggregation of detections for display.
package stats

import (
	"math"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/nvr-ai/live-detect/common"
)

// ClassStat summarises one class in a detection list.
type ClassStat struct {
	Class         string  `json:"class"`
	Count         uint    `json:"count"`
	MaxConfidence float32 `json:"max_confidence"`
}

// Tier is the confidence tier of the best detection of the class.
func (c ClassStat) Tier() common.ConfidenceTier {
	return common.TierOf(c.MaxConfidence)
}

// DisplayName is the class name with underscores shown as spaces.
func (c ClassStat) DisplayName() string {
	return DisplayName(c.Class)
}

// DisplayName replaces underscores in a class name with spaces.
func DisplayName(class string) string {
	return strings.ReplaceAll(class, "_", " ")
}

// Summary is the aggregate of one detection list.
type Summary struct {
	PerClass      map[string]ClassStat `json:"-"`
	Rows          []ClassStat          `json:"rows"`
	Total         uint                 `json:"total"`
	UniqueClasses uint                 `json:"unique_classes"`
	AvgConfidence float32              `json:"avg_confidence"`
}

// AvgPercent returns the average confidence as a rounded percentage.
func (s Summary) AvgPercent() int {
	return int(math.Round(float64(s.AvgConfidence) * 100))
}

// Aggregate summarises a detection list. Rows are ordered by count
// descending; classes with equal counts keep the order they were first seen.
// An empty list yields zeros throughout.
func Aggregate(detections []common.Detection) Summary {
	summary := Summary{
		PerClass: make(map[string]ClassStat),
		Rows:     []ClassStat{},
	}
	if len(detections) == 0 {
		return summary
	}

	order := lo.Uniq(lo.Map(detections, func(d common.Detection, _ int) string { return d.Class }))
	for _, d := range detections {
		stat := summary.PerClass[d.Class]
		stat.Class = d.Class
		stat.Count++
		stat.MaxConfidence = max(stat.MaxConfidence, d.Score)
		summary.PerClass[d.Class] = stat
	}

	summary.Rows = lo.Map(order, func(class string, _ int) ClassStat { return summary.PerClass[class] })
	slices.SortStableFunc(summary.Rows, func(a, b ClassStat) int {
		return int(b.Count) - int(a.Count)
	})

	summary.Total = uint(len(detections))
	summary.UniqueClasses = uint(len(order))
	sum := lo.SumBy(detections, func(d common.Detection) float64 { return float64(d.Score) })
	summary.AvgConfidence = float32(sum / float64(len(detections)))
	return summary
}
