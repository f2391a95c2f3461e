package domain

import (
	"fmt"
	"time"
)

// CalculationMethod selects the broker convention for daily drawdown
// accounting: which timezone the trading day lives in, what time of day the
// daily limits reset, and how the day's starting value is anchored.
type CalculationMethod string

const (
	MethodFTMO   CalculationMethod = "FTMO"
	MethodFXIFY  CalculationMethod = "FXIFY"
	MethodFivers CalculationMethod = "FIVERS"
)

type methodSpec struct {
	timezone  string
	loc       *time.Location
	resetHour int
	resetMin  int
}

var methodSpecs = map[CalculationMethod]*methodSpec{
	MethodFTMO:   {timezone: "Europe/Prague", resetHour: 0, resetMin: 0},
	MethodFXIFY:  {timezone: "US/Eastern", resetHour: 17, resetMin: 0},
	MethodFivers: {timezone: "Europe/Athens", resetHour: 0, resetMin: 0},
}

func init() {
	for method, spec := range methodSpecs {
		loc, err := time.LoadLocation(spec.timezone)
		if err != nil {
			panic(fmt.Sprintf("load timezone %s for method %s: %v", spec.timezone, method, err))
		}
		spec.loc = loc
	}
}

func (m CalculationMethod) spec() *methodSpec {
	if s, ok := methodSpecs[m]; ok {
		return s
	}
	// Unknown methods fall back to FTMO conventions rather than crashing a
	// sync sweep; the program validation layer rejects them upstream.
	return methodSpecs[MethodFTMO]
}

// Valid reports whether m is one of the supported calculation methods.
func (m CalculationMethod) Valid() bool {
	_, ok := methodSpecs[m]
	return ok
}

// Timezone returns the IANA name of the method's trading-day timezone.
func (m CalculationMethod) Timezone() string { return m.spec().timezone }

// Location returns the method's trading-day timezone.
func (m CalculationMethod) Location() *time.Location { return m.spec().loc }

// ResetClock returns the method's reset time-of-day as "HH:MM".
func (m CalculationMethod) ResetClock() string {
	s := m.spec()
	return fmt.Sprintf("%02d:%02d", s.resetHour, s.resetMin)
}

// StartingValue anchors the day's loss threshold per method convention.
// FTMO and FXIFY anchor on balance; FIVERS on the better of balance and
// equity at reset.
func (m CalculationMethod) StartingValue(startingBalance, startingEquity float64) float64 {
	if m == MethodFivers && startingEquity > startingBalance {
		return startingEquity
	}
	return startingBalance
}

// TradingDay returns the ISO date key of the trading day containing now.
//
// A trading day labelled D runs from the reset instant preceding it up to
// the reset instant at D's reset time. With a midnight reset that is simply
// the local calendar date; with an intraday reset (FXIFY, 17:00) the label
// is the date whose reset instant still lies ahead, so 16:59 and 17:01 on
// the same calendar date land on consecutive trading days.
func (m CalculationMethod) TradingDay(now time.Time) string {
	s := m.spec()
	local := now.In(s.loc)
	shift := time.Duration(24-s.resetHour)*time.Hour - time.Duration(s.resetMin)*time.Minute
	if s.resetHour == 0 && s.resetMin == 0 {
		shift = 0
	}
	return local.Add(shift).Format("2006-01-02")
}

// lastReset returns the most recent reset instant at or before now.
func (m CalculationMethod) lastReset(now time.Time) time.Time {
	s := m.spec()
	local := now.In(s.loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), s.resetHour, s.resetMin, 0, 0, s.loc)
	if reset.After(local) {
		reset = reset.AddDate(0, 0, -1)
	}
	return reset
}

// ShouldReset reports whether a scheduled reset instant lies in
// (lastUpdate, now]. A zero lastUpdate (no prior aggregate) always resets.
//
// When an outage spans several reset instants, this still answers true
// exactly once for the next snapshot: a single fresh aggregate is opened,
// anchored at that snapshot. The skipped days get no synthetic aggregates
// because the gateway cannot replay the readings that would have anchored
// them; what matters is that a stale day's threshold is never applied to
// current equity, and the fresh anchor guarantees that.
func (m CalculationMethod) ShouldReset(lastUpdate, now time.Time) bool {
	if lastUpdate.IsZero() {
		return true
	}
	return lastUpdate.Before(m.lastReset(now))
}
