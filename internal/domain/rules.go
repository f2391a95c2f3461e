package domain

import (
	"math"
	"time"
)

type ViolationType string

const (
	ViolationDailyLoss    ViolationType = "daily_loss"
	ViolationMaxTotalLoss ViolationType = "max_total_loss"
	ViolationTimeExpired  ViolationType = "time_expired"
)

// FailureReason returns the operator-facing reason recorded on the
// challenge when this violation fails it.
func (v ViolationType) FailureReason() string {
	switch v {
	case ViolationDailyLoss:
		return "Daily loss limit exceeded"
	case ViolationMaxTotalLoss:
		return "Maximum total loss exceeded"
	case ViolationTimeExpired:
		return "Challenge period expired"
	}
	return string(v)
}

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomePassed
	OutcomeFailed
)

type Verdict struct {
	Outcome   Outcome
	Violation ViolationType
}

// Evaluator applies the challenge rules to the current daily aggregate.
// With StrictOrder set, loss rules are checked before the profit target, so
// a snapshot that satisfies both fails instead of passing.
type Evaluator struct {
	StrictOrder bool
}

// Evaluate runs the ordered rule predicates; the first match wins.
func (e Evaluator) Evaluate(ch Challenge, day DailyAggregate, now time.Time) Verdict {
	target := targetReached(ch, day)
	if target && !e.StrictOrder {
		return Verdict{Outcome: OutcomePassed}
	}

	if dailyLossBreach(day) {
		return Verdict{Outcome: OutcomeFailed, Violation: ViolationDailyLoss}
	}
	if maxTotalLossBreach(ch, day) {
		return Verdict{Outcome: OutcomeFailed, Violation: ViolationMaxTotalLoss}
	}

	if target {
		return Verdict{Outcome: OutcomePassed}
	}

	if timeExpired(ch, now) {
		return Verdict{Outcome: OutcomeFailed, Violation: ViolationTimeExpired}
	}

	return Verdict{Outcome: OutcomeOK}
}

// targetReached is defined as false for misconfigured programs (zero
// target or zero balance): such a challenge can fail but never pass.
func targetReached(ch Challenge, day DailyAggregate) bool {
	if ch.Program.ProfitTargetPct <= 0 || ch.InitialBalance <= 0 {
		return false
	}
	targetAmount := ch.InitialBalance * ch.Program.ProfitTargetPct / 100
	return day.CurrentEquity-ch.InitialBalance >= targetAmount
}

func dailyLossBreach(day DailyAggregate) bool {
	return day.Threshold > 0 && day.CurrentEquity <= day.Threshold
}

// maxTotalLossBreach checks both the equity floor and the gateway-reported
// total loss; the latter is maintained by a separate path and may breach
// before equity reflects the closed trade.
func maxTotalLossBreach(ch Challenge, day DailyAggregate) bool {
	limit := ch.InitialBalance * ch.Program.MaxTotalLossPct / 100
	if limit <= 0 {
		return false
	}
	if day.CurrentEquity <= ch.InitialBalance-limit {
		return true
	}
	return math.Abs(ch.TotalLoss) >= limit
}

func timeExpired(ch Challenge, now time.Time) bool {
	return ch.EndDate != nil && now.After(*ch.EndDate)
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskUsage is the fraction of the daily loss budget already consumed,
// clamped to [0,1]. Defined only over a positive threshold; degenerate
// aggregates report zero usage.
func RiskUsage(day DailyAggregate) float64 {
	if day.Threshold <= 0 || day.DailyLimit <= 0 {
		return 0
	}
	usage := (day.StartingValue - day.CurrentEquity) / day.DailyLimit
	return math.Min(1, math.Max(0, usage))
}

// RiskLevelFor buckets the day's usage into an operator-facing level.
func RiskLevelFor(day DailyAggregate) RiskLevel {
	usage := RiskUsage(day)
	switch {
	case day.Threshold <= 0:
		return RiskLow
	case usage > 0.9:
		return RiskCritical
	case usage > 0.8:
		return RiskHigh
	case usage > 0.6:
		return RiskMedium
	default:
		return RiskLow
	}
}
