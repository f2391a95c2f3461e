package domain

import "time"

type ChallengeStatus string

const (
	StatusPending   ChallengeStatus = "pending"
	StatusActive    ChallengeStatus = "active"
	StatusPassed    ChallengeStatus = "passed"
	StatusFailed    ChallengeStatus = "failed"
	StatusFunded    ChallengeStatus = "funded"
	StatusCancelled ChallengeStatus = "cancelled"
)

// Terminal reports whether the status is absorbing: once reached, no
// drawdown update may mutate the challenge again.
func (s ChallengeStatus) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusFunded, StatusCancelled:
		return true
	}
	return false
}

// Program is the immutable rule-set a challenge is evaluated against.
type Program struct {
	ID              string
	Name            string
	InitialBalance  float64
	ProfitTargetPct float64
	MaxDailyLossPct float64
	MaxTotalLossPct float64
	Method          CalculationMethod
	DurationDays    int
	ProfitSplitPct  float64
	PayoutRules     []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Challenge is a single trader's attempt against a Program.
type Challenge struct {
	ID            string
	UserID        string
	ProgramID     string
	Program       Program
	PlatformLogin string

	Status         ChallengeStatus
	InitialBalance float64
	CurrentBalance float64
	TotalProfit    float64
	TotalLoss      float64
	MaxDrawdown    float64

	// Cumulative commission/swap as last reported by the gateway; used to
	// convert cumulative readings into per-snapshot deltas.
	CommissionCum float64
	SwapCum       float64

	StartDate     *time.Time
	EndDate       *time.Time
	PassedAt      *time.Time
	FailedAt      *time.Time
	FailureReason string
	DisableAck    bool

	DailyHistory DailyHistory

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DailyHistory maps a trading-day key (ISO date in the program's timezone)
// to that day's aggregate. Keys are append-only; only the current day's
// value is updated in place.
type DailyHistory map[string]DailyAggregate

// Clone returns a shallow per-entry copy so updates never mutate the map a
// caller still holds.
func (h DailyHistory) Clone() DailyHistory {
	out := make(DailyHistory, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// DailyAggregate is the per-trading-day drawdown state. JSON field names
// are the contract with external consumers of the persisted document.
type DailyAggregate struct {
	StartingBalance float64 `json:"starting_balance"`
	StartingEquity  float64 `json:"starting_equity"`
	StartingValue   float64 `json:"starting_value"`

	CurrentBalance float64 `json:"current_balance"`
	CurrentEquity  float64 `json:"current_equity"`

	OpenPnL   float64 `json:"open_pnl"`
	ClosedPnL float64 `json:"closed_pnl"`

	MaxEquity  float64 `json:"max_equity"`
	MinEquity  float64 `json:"min_equity"`
	MaxBalance float64 `json:"max_balance"`
	MinBalance float64 `json:"min_balance"`

	CommissionsAccum float64 `json:"commissions_accum"`
	SwapsAccum       float64 `json:"swaps_accum"`

	LossFromStart float64 `json:"loss_from_start"`
	LossFromPeak  float64 `json:"loss_from_peak"`

	DailyLimit float64 `json:"daily_limit"`
	Threshold  float64 `json:"threshold"`

	LastUpdate time.Time `json:"last_update"`

	Method    CalculationMethod `json:"method"`
	Timezone  string            `json:"timezone"`
	ResetTime string            `json:"reset_time"`
}

// Snapshot is one account reading from the trading platform.
type Snapshot struct {
	Balance float64
	// Equity is optional; when absent it is derived as Balance + OpenPnL.
	Equity          *float64
	OpenPnL         float64
	CommissionDelta float64
	SwapDelta       float64
	// TotalLoss is the gateway-maintained closed loss total, when the
	// platform reports one alongside the account state.
	TotalLoss *float64
}

// EffectiveEquity resolves the optional equity field.
func (s Snapshot) EffectiveEquity() float64 {
	if s.Equity != nil {
		return *s.Equity
	}
	return s.Balance + s.OpenPnL
}

type Position struct {
	Ticket     int64
	Symbol     string
	Side       string
	Volume     float64
	OpenPrice  float64
	OpenTime   time.Time
	Profit     float64
	Swap       float64
	Commission float64
}

type Trade struct {
	Ticket     int64
	Symbol     string
	Side       string
	Volume     float64
	Price      float64
	Profit     float64
	Commission float64
	Swap       float64
	ClosedAt   time.Time
}
