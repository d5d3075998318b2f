package common

import (
	"fmt"
	"math"
	"time"
)

// Detection is a single object reported by a detection model for one frame.
type Detection struct {
	BBox       BoundingBox `json:"bbox"`
	Class      string      `json:"class"`
	Score      float32     `json:"score"`
	CapturedAt time.Time   `json:"captured_at"`
}

// Tier returns the confidence tier of the detection.
func (d Detection) Tier() ConfidenceTier {
	return TierOf(d.Score)
}

// Percent returns the score as a rounded percentage.
func (d Detection) Percent() int {
	return int(math.Round(float64(d.Score) * 100))
}

// Label returns the overlay label, e.g. "cat 82%".
func (d Detection) Label() string {
	return fmt.Sprintf("%s %d%%", d.Class, d.Percent())
}

func (d Detection) String() string {
	return fmt.Sprintf("%s (%.3f) %s", d.Class, d.Score, d.BBox)
}

// ConfidenceTier buckets a detection score for display.
type ConfidenceTier int

const (
	// TierLow is any score at or below 0.5.
	TierLow ConfidenceTier = iota
	// TierMedium is a score above 0.5 and at most 0.7.
	TierMedium
	// TierHigh is a score above 0.7.
	TierHigh
)

const (
	highThreshold   float32 = 0.7
	mediumThreshold float32 = 0.5
)

// TierOf maps a score to its tier. Both boundaries are strict: 0.7 is medium
// and 0.5 is low.
func TierOf(score float32) ConfidenceTier {
	switch {
	case score > highThreshold:
		return TierHigh
	case score > mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

func (t ConfidenceTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	default:
		return "low"
	}
}

// MarshalText encodes the tier by name.
func (t ConfidenceTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
