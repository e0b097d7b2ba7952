package domain

import "sort"

type ThresholdLevel string

const (
	ThresholdNormal    ThresholdLevel = "NORMAL"
	ThresholdAttention ThresholdLevel = "ATTENTION"
	ThresholdWarning   ThresholdLevel = "WARNING"
	ThresholdCritical  ThresholdLevel = "CRITICAL"
	ThresholdExceeded  ThresholdLevel = "EXCEEDED"
)

type ThresholdBand struct {
	Level      ThresholdLevel
	MinPercent float64
}

// Bands classifies consumption against an allowance. Bands are
// inclusive lower bounds evaluated in descending order, so a value
// satisfying several takes the highest one.
type Bands []ThresholdBand

func DefaultBands() Bands {
	return Bands{
		{Level: ThresholdExceeded, MinPercent: 100},
		{Level: ThresholdCritical, MinPercent: 90},
		{Level: ThresholdWarning, MinPercent: 75},
		{Level: ThresholdAttention, MinPercent: 50},
	}
}

func (b Bands) Classify(consumption, includedUnits int64) ThresholdLevel {
	if includedUnits <= 0 {
		if consumption > 0 {
			return ThresholdExceeded
		}
		return ThresholdNormal
	}

	percent := float64(consumption) / float64(includedUnits) * 100

	sorted := make(Bands, len(b))
	copy(sorted, b)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinPercent > sorted[j].MinPercent
	})

	for _, band := range sorted {
		if percent >= band.MinPercent {
			return band.Level
		}
	}
	return ThresholdNormal
}
