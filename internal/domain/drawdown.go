package domain

import (
	"math"
	"time"
)

// UpdateDailyHistory applies one snapshot to a challenge's daily history
// and returns the new history together with the trading-day key it touched.
//
// The function is pure: it never mutates the history it was given, and
// identical inputs produce identical output, so a caller that persists the
// result and retries after a write failure re-derives the same state.
func UpdateDailyHistory(history DailyHistory, program Program, now time.Time, snap Snapshot) (DailyHistory, string, DailyAggregate) {
	method := program.Method
	today := method.TradingDay(now)

	out := history.Clone()

	agg, ok := out[today]
	if !ok || method.ShouldReset(agg.LastUpdate, now) {
		agg = openDailyAggregate(program, now, snap)
	} else {
		agg = applySnapshot(agg, now, snap)
	}

	out[today] = agg
	return out, today, agg
}

func openDailyAggregate(program Program, now time.Time, snap Snapshot) DailyAggregate {
	method := program.Method
	equity := snap.EffectiveEquity()

	startingValue := method.StartingValue(snap.Balance, equity)
	dailyLimit := startingValue * program.MaxDailyLossPct / 100

	return DailyAggregate{
		StartingBalance: snap.Balance,
		StartingEquity:  equity,
		StartingValue:   startingValue,

		CurrentBalance: snap.Balance,
		CurrentEquity:  equity,

		OpenPnL:   snap.OpenPnL,
		ClosedPnL: 0,

		MaxEquity:  equity,
		MinEquity:  equity,
		MaxBalance: snap.Balance,
		MinBalance: snap.Balance,

		CommissionsAccum: snap.CommissionDelta,
		SwapsAccum:       snap.SwapDelta,

		LossFromStart: math.Max(0, startingValue-equity),
		LossFromPeak:  0,

		DailyLimit: dailyLimit,
		Threshold:  startingValue - dailyLimit,

		LastUpdate: now.In(method.Location()),

		Method:    method,
		Timezone:  method.Timezone(),
		ResetTime: method.ResetClock(),
	}
}

func applySnapshot(agg DailyAggregate, now time.Time, snap Snapshot) DailyAggregate {
	equity := snap.EffectiveEquity()

	agg.CurrentBalance = snap.Balance
	agg.CurrentEquity = equity
	agg.OpenPnL = snap.OpenPnL

	agg.CommissionsAccum += snap.CommissionDelta
	agg.SwapsAccum += snap.SwapDelta

	agg.MaxEquity = math.Max(agg.MaxEquity, equity)
	agg.MinEquity = math.Min(agg.MinEquity, equity)
	agg.MaxBalance = math.Max(agg.MaxBalance, snap.Balance)
	agg.MinBalance = math.Min(agg.MinBalance, snap.Balance)

	agg.ClosedPnL = agg.CurrentBalance - agg.StartingBalance
	agg.LossFromStart = math.Max(0, agg.StartingValue-equity)
	agg.LossFromPeak = math.Max(0, agg.MaxEquity-equity)

	// Late arrivals are still applied, but the update clock only moves
	// forward so a stale timestamp cannot rewind the reset window.
	local := now.In(agg.Method.Location())
	if local.After(agg.LastUpdate) {
		agg.LastUpdate = local
	}

	return agg
}
