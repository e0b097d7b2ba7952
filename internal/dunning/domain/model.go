package domain

import (
	"strings"
	"time"
)

type RiskTier string

const (
	TierLow    RiskTier = "LOW"
	TierMedium RiskTier = "MEDIUM"
	TierHigh   RiskTier = "HIGH"
)

// RetryStrategy is per-tier policy data. Intervals index by attempt
// number: the wait after attempt n is Intervals[n-1].
type RetryStrategy struct {
	Tier                 RiskTier
	MaxAttempts          int
	Intervals            []time.Duration
	RequireNewInstrument bool
}

// NextInterval returns the wait after a failed attempt n, falling back
// to the last interval when attempts outnumber the table.
func (s RetryStrategy) NextInterval(attemptNumber int) time.Duration {
	if len(s.Intervals) == 0 {
		return 0
	}
	idx := attemptNumber - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(s.Intervals) {
		idx = len(s.Intervals) - 1
	}
	return s.Intervals[idx]
}

// defaultReasonTiers maps processor decline codes to risk tiers.
// Permanent-decline codes always land on HIGH; infrastructure faults
// are LOW since the customer did nothing wrong.
var defaultReasonTiers = map[string]RiskTier{
	"insufficient_funds":    TierLow,
	"try_again_later":       TierLow,
	"timeout":               TierLow,
	"provider_unavailable":  TierLow,
	"processor_unreachable": TierLow,
	"do_not_honor":          TierMedium,
	"generic_decline":       TierMedium,
	"processing_error":      TierMedium,
	"no_instrument_on_file": TierHigh,
	"stolen_card":           TierHigh,
	"lost_card":             TierHigh,
	"fraudulent":            TierHigh,
	"pickup_card":           TierHigh,
	"expired_card":          TierHigh,
	"incorrect_number":      TierHigh,
	"invalid_account":       TierHigh,
}

// ClassifyReason resolves a failure reason to its risk tier. Unknown
// codes get MEDIUM.
func ClassifyReason(reason string) RiskTier {
	if tier, ok := defaultReasonTiers[strings.ToLower(strings.TrimSpace(reason))]; ok {
		return tier
	}
	return TierMedium
}

type Action string

const (
	ActionRetryScheduled  Action = "retry_scheduled"
	ActionAwaitInstrument Action = "await_instrument"
	ActionNotified        Action = "notified"
	ActionExhausted       Action = "exhausted"
)

// Decision is what the dunning step resolved to. Callers owning the
// subscription state machine act on ActionExhausted.
type Decision struct {
	Tier        RiskTier
	Action      Action
	NextRetryAt *time.Time
}

// DefaultStrategies is the shipped retry policy, used when config
// carries none.
func DefaultStrategies() map[RiskTier]RetryStrategy {
	return map[RiskTier]RetryStrategy{
		TierLow: {
			Tier:        TierLow,
			MaxAttempts: 4,
			Intervals:   []time.Duration{72 * time.Hour, 120 * time.Hour, 168 * time.Hour},
		},
		TierMedium: {
			Tier:        TierMedium,
			MaxAttempts: 3,
			Intervals:   []time.Duration{24 * time.Hour, 72 * time.Hour},
		},
		TierHigh: {
			Tier:                 TierHigh,
			MaxAttempts:          1,
			RequireNewInstrument: true,
		},
	}
}
