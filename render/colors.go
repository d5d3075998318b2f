package render

import (
	"image/color"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/nvr-ai/live-detect/common"
)

var (
	highColor   = colorful.Hsl(120, 0.85, 0.50)
	mediumColor = colorful.Hsl(48, 1.00, 0.50)
	lowColor    = colorful.Hsl(0, 0.84, 0.60)

	// LabelTextColor is the dark foreground used on label backgrounds.
	LabelTextColor = colorful.Hsl(215, 0.28, 0.09)
)

// TierColor returns the overlay colour of a confidence tier.
func TierColor(tier common.ConfidenceTier) color.Color {
	return tierColorful(tier)
}

func tierColorful(tier common.ConfidenceTier) colorful.Color {
	switch tier {
	case common.TierHigh:
		return highColor
	case common.TierMedium:
		return mediumColor
	default:
		return lowColor
	}
}

// TierHex returns the tier colour as #rrggbb, for clients drawing their own badges.
func TierHex(tier common.ConfidenceTier) string {
	return tierColorful(tier).Clamped().Hex()
}

// withAlpha returns c at the given opacity.
func withAlpha(c colorful.Color, alpha uint8) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}
