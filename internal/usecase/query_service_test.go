package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"challenge_server/internal/domain"
)

func newQueryHarness(t *testing.T) (*QueryService, *harness) {
	t.Helper()
	h := newHarness(t, MonitorOptions{})
	qs, err := NewQueryService(h.challenges, h.events, h.violations, h.alerts, 30*time.Second)
	if err != nil {
		t.Fatalf("new query service: %v", err)
	}
	return qs, h
}

// withToday seeds the challenge with an aggregate under today's key so the
// summary projection finds it.
func withToday(ch domain.Challenge, equity float64) domain.Challenge {
	today := ch.Program.Method.TradingDay(time.Now())
	ch.DailyHistory = domain.DailyHistory{today: {
		StartingBalance: 100000,
		StartingEquity:  100000,
		StartingValue:   100000,
		CurrentBalance:  ch.CurrentBalance,
		CurrentEquity:   equity,
		DailyLimit:      5000,
		Threshold:       95000,
		LastUpdate:      time.Now(),
	}}
	return ch
}

func TestListActiveSummaries(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()

	h.challenges.put(withToday(activeChallenge("ch-calm"), 99000))

	risky := activeChallenge("ch-risky")
	risky.PlatformLogin = "10002"
	h.challenges.put(withToday(risky, 95250))

	passed := activeChallenge("ch-passed")
	passed.Status = domain.StatusPassed
	h.challenges.put(passed)

	summaries, err := qs.ListActive(ctx, ListActiveFilter{})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}
	for _, s := range summaries {
		switch s.ID {
		case "ch-calm":
			if s.RiskLevel != domain.RiskLow {
				t.Fatalf("ch-calm risk = %s", s.RiskLevel)
			}
		case "ch-risky":
			if s.RiskLevel != domain.RiskCritical {
				t.Fatalf("ch-risky risk = %s", s.RiskLevel)
			}
			if s.Equity != 95250 || s.Threshold != 95000 {
				t.Fatalf("ch-risky projection: equity=%f threshold=%f", s.Equity, s.Threshold)
			}
		default:
			t.Fatalf("unexpected summary %s", s.ID)
		}
	}

	critical, err := qs.ListActive(ctx, ListActiveFilter{Risk: domain.RiskCritical})
	if err != nil {
		t.Fatalf("list critical: %v", err)
	}
	if len(critical) != 1 || critical[0].ID != "ch-risky" {
		t.Fatalf("risk filter returned %+v", critical)
	}
}

func TestSummaryFallsBackToLatestAggregate(t *testing.T) {
	qs, h := newQueryHarness(t)

	// Reset happened but no snapshot has arrived for the new day yet; the
	// dashboard shows yesterday's aggregate instead of an empty row.
	ch := activeChallenge("ch-1")
	ch.DailyHistory = domain.DailyHistory{
		"2025-01-01": {CurrentEquity: 98000, Threshold: 95000, DailyLimit: 5000, StartingValue: 100000},
		"2025-01-02": {CurrentEquity: 97000, Threshold: 95000, DailyLimit: 5000, StartingValue: 100000},
	}
	h.challenges.put(ch)

	summaries, err := qs.ListActive(context.Background(), ListActiveFilter{})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(summaries))
	}
	if summaries[0].Equity != 97000 {
		t.Fatalf("expected most recent aggregate, equity = %f", summaries[0].Equity)
	}
}

func TestChallengeDetail(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()

	h.challenges.put(withToday(activeChallenge("ch-1"), 99000))

	for i := 0; i < 3; i++ {
		_ = h.events.Append(ctx, domain.MonitoringEvent{
			ChallengeID: "ch-1",
			Kind:        domain.EventSync,
			Severity:    domain.SeverityInfo,
		})
	}
	_ = h.violations.Append(ctx, domain.ViolationLog{ChallengeID: "ch-1", Type: domain.ViolationDailyLoss})

	detail, err := qs.ChallengeDetail(ctx, "ch-1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.Today == nil || detail.Today.CurrentEquity != 99000 {
		t.Fatalf("today aggregate missing: %+v", detail.Today)
	}
	if len(detail.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(detail.Events))
	}
	if len(detail.Violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(detail.Violations))
	}

	if _, err := qs.ChallengeDetail(ctx, "missing"); !errors.Is(err, domain.ErrChallengeNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestStats(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()
	now := time.Now()

	h.challenges.put(withToday(activeChallenge("ch-calm"), 99000))
	risky := activeChallenge("ch-risky")
	risky.PlatformLogin = "10002"
	h.challenges.put(withToday(risky, 95250))

	_ = h.events.Append(ctx, domain.MonitoringEvent{ChallengeID: "ch-calm", Kind: domain.EventSync, CreatedAt: now.Add(-10 * time.Second)})
	_ = h.violations.Append(ctx, domain.ViolationLog{ChallengeID: "ch-risky", Type: domain.ViolationDailyLoss, CreatedAt: now.Add(-time.Hour)})
	_ = h.violations.Append(ctx, domain.ViolationLog{ChallengeID: "ch-old", Type: domain.ViolationDailyLoss, CreatedAt: now.Add(-3 * 24 * time.Hour)})

	stats, err := qs.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Active != 2 {
		t.Fatalf("active = %d, want 2", stats.Active)
	}
	if stats.AtRisk != 1 {
		t.Fatalf("at risk = %d, want 1", stats.AtRisk)
	}
	if stats.ViolationsToday != 1 {
		t.Fatalf("violations today = %d, want 1", stats.ViolationsToday)
	}
	if stats.ViolationsWeek != 2 {
		t.Fatalf("violations week = %d, want 2", stats.ViolationsWeek)
	}
	if stats.EventsLastHour != 1 {
		t.Fatalf("events last hour = %d, want 1", stats.EventsLastHour)
	}
	if !stats.SystemHealthy {
		t.Fatalf("recent sync must report healthy")
	}
}

func TestStatsAtRiskUsesInjectedClock(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()

	loc, err := time.LoadLocation("Europe/Prague")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	at := time.Date(2025, 1, 2, 12, 0, 0, 0, loc)
	qs.clock = func() time.Time { return at }

	// The clock's trading day holds the risky aggregate; a later calm day
	// exists so a wall-clock lookup would resolve the wrong entry.
	ch := activeChallenge("ch-1")
	ch.DailyHistory = domain.DailyHistory{
		"2025-01-02": {CurrentEquity: 95250, StartingValue: 100000, DailyLimit: 5000, Threshold: 95000},
		"2025-01-03": {CurrentEquity: 99000, StartingValue: 100000, DailyLimit: 5000, Threshold: 95000},
	}
	h.challenges.put(ch)

	stats, err := qs.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.AtRisk != 1 {
		t.Fatalf("at risk = %d, want 1", stats.AtRisk)
	}
}

func TestStatsUnhealthyWhenSyncStale(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()

	_ = h.events.Append(ctx, domain.MonitoringEvent{ChallengeID: "ch-1", Kind: domain.EventSync, CreatedAt: time.Now().Add(-5 * time.Minute)})

	stats, err := qs.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.SystemHealthy {
		t.Fatalf("sync older than two intervals must report unhealthy")
	}
	if stats.LastSyncAt == nil {
		t.Fatalf("last sync timestamp missing")
	}
}

func TestAcknowledgeAlertIdempotent(t *testing.T) {
	qs, h := newQueryHarness(t)
	ctx := context.Background()

	_ = h.alerts.Create(ctx, domain.MonitoringAlert{ID: "alert-1", ChallengeID: "ch-1", Level: domain.AlertWarning, Kind: domain.AlertKindRisk})

	first, err := qs.AcknowledgeAlert(ctx, "alert-1", "ops")
	if err != nil {
		t.Fatalf("first ack: %v", err)
	}
	if !first.Acknowledged || first.AckBy != "ops" || first.AckAt == nil {
		t.Fatalf("ack state: %+v", first)
	}

	second, err := qs.AcknowledgeAlert(ctx, "alert-1", "someone-else")
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if second.AckBy != "ops" || !second.AckAt.Equal(*first.AckAt) {
		t.Fatalf("second ack must return the original record, got %+v", second)
	}

	if _, err := qs.AcknowledgeAlert(ctx, "missing", "ops"); !errors.Is(err, domain.ErrAlertNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}
