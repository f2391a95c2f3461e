package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"challenge_server/internal/domain"
)

const recentEventLimit = 50

// QueryService is the read side of the monitoring engine. It never writes
// challenge state; alert acknowledgement is its only mutation.
type QueryService struct {
	challenges domain.ChallengeRepository
	events     domain.EventRepository
	violations domain.ViolationRepository
	alerts     domain.AlertRepository

	syncInterval time.Duration
	clock        func() time.Time
}

func NewQueryService(
	challenges domain.ChallengeRepository,
	events domain.EventRepository,
	violations domain.ViolationRepository,
	alerts domain.AlertRepository,
	syncInterval time.Duration,
) (*QueryService, error) {
	if challenges == nil {
		return nil, errors.New("challenge repository required")
	}
	if events == nil {
		return nil, errors.New("event repository required")
	}
	if violations == nil {
		return nil, errors.New("violation repository required")
	}
	if alerts == nil {
		return nil, errors.New("alert repository required")
	}
	if syncInterval <= 0 {
		syncInterval = 30 * time.Second
	}

	return &QueryService{
		challenges:   challenges,
		events:       events,
		violations:   violations,
		alerts:       alerts,
		syncInterval: syncInterval,
		clock:        time.Now,
	}, nil
}

type ListActiveFilter struct {
	Limit  int
	Offset int
	Risk   domain.RiskLevel
}

// ListActive returns active challenges with their current risk level.
func (s *QueryService) ListActive(ctx context.Context, f ListActiveFilter) ([]domain.ChallengeSummary, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	challenges, err := s.challenges.ListByStatus(ctx, []domain.ChallengeStatus{domain.StatusActive}, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list active challenges: %w", err)
	}

	now := s.clock()
	summaries := make([]domain.ChallengeSummary, 0, len(challenges))
	for _, ch := range challenges {
		summary := summarize(ch, now)
		if f.Risk != "" && summary.RiskLevel != f.Risk {
			continue
		}
		summaries = append(summaries, summary)
	}

	return summaries, nil
}

func summarize(ch domain.Challenge, now time.Time) domain.ChallengeSummary {
	summary := domain.ChallengeSummary{
		ID:            ch.ID,
		UserID:        ch.UserID,
		ProgramID:     ch.ProgramID,
		PlatformLogin: ch.PlatformLogin,
		Status:        ch.Status,
		Balance:       ch.CurrentBalance,
		RiskLevel:     domain.RiskLow,
	}

	if day, ok := currentAggregate(ch, now); ok {
		summary.Equity = day.CurrentEquity
		summary.Threshold = day.Threshold
		summary.RiskUsage = domain.RiskUsage(day)
		summary.RiskLevel = domain.RiskLevelFor(day)
		summary.LastUpdate = day.LastUpdate
	}

	return summary
}

func currentAggregate(ch domain.Challenge, now time.Time) (domain.DailyAggregate, bool) {
	if len(ch.DailyHistory) == 0 {
		return domain.DailyAggregate{}, false
	}
	today := ch.Program.Method.TradingDay(now)
	if day, ok := ch.DailyHistory[today]; ok {
		return day, true
	}

	// Between a reset and the first snapshot of the new day, fall back to
	// the most recent aggregate so the dashboard is never empty.
	var latestKey string
	for key := range ch.DailyHistory {
		if key > latestKey {
			latestKey = key
		}
	}
	return ch.DailyHistory[latestKey], true
}

// ChallengeDetail returns the challenge with its current aggregate, the
// most recent events, and the full violation history.
func (s *QueryService) ChallengeDetail(ctx context.Context, id string) (domain.ChallengeDetail, error) {
	ch, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.ChallengeDetail{}, err
	}

	detail := domain.ChallengeDetail{Challenge: ch}
	if day, ok := currentAggregate(ch, s.clock()); ok {
		detail.Today = &day
	}

	events, err := s.events.List(ctx, domain.EventFilter{ChallengeID: id, Limit: recentEventLimit})
	if err != nil {
		return domain.ChallengeDetail{}, fmt.Errorf("list events for %s: %w", id, err)
	}
	detail.Events = events

	violations, err := s.violations.ListByChallenge(ctx, id)
	if err != nil {
		return domain.ChallengeDetail{}, fmt.Errorf("list violations for %s: %w", id, err)
	}
	detail.Violations = violations

	return detail, nil
}

// Stats computes the fleet dashboard numbers. The system is considered
// healthy while the latest sync event is no older than two sync intervals.
func (s *QueryService) Stats(ctx context.Context) (domain.MonitoringStats, error) {
	now := s.clock()
	var stats domain.MonitoringStats

	active, err := s.challenges.CountByStatus(ctx, []domain.ChallengeStatus{domain.StatusActive})
	if err != nil {
		return stats, fmt.Errorf("count active: %w", err)
	}
	stats.Active = active

	challenges, err := s.challenges.ListByStatus(ctx, []domain.ChallengeStatus{domain.StatusActive}, 0, 0)
	if err != nil {
		return stats, fmt.Errorf("list active: %w", err)
	}
	for _, ch := range challenges {
		if day, ok := currentAggregate(ch, now); ok && domain.RiskUsage(day) > 0.8 {
			stats.AtRisk++
		}
	}

	dayAgo := now.Add(-24 * time.Hour)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	if stats.ViolationsToday, err = s.violations.CountSince(ctx, dayAgo); err != nil {
		return stats, fmt.Errorf("count violations today: %w", err)
	}
	if stats.ViolationsWeek, err = s.violations.CountSince(ctx, weekAgo); err != nil {
		return stats, fmt.Errorf("count violations week: %w", err)
	}
	if stats.EventsLastHour, err = s.events.CountSince(ctx, hourAgo); err != nil {
		return stats, fmt.Errorf("count events: %w", err)
	}

	lastSync, err := s.events.LastSyncAt(ctx)
	if err != nil {
		return stats, fmt.Errorf("last sync: %w", err)
	}
	stats.LastSyncAt = lastSync
	stats.SystemHealthy = lastSync != nil && now.Sub(*lastSync) <= 2*s.syncInterval

	return stats, nil
}

func (s *QueryService) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.MonitoringAlert, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	return s.alerts.List(ctx, f)
}

// AcknowledgeAlert marks an alert acknowledged. Acknowledging twice is a
// no-op returning the existing record.
func (s *QueryService) AcknowledgeAlert(ctx context.Context, id, by string) (domain.MonitoringAlert, error) {
	if id == "" {
		return domain.MonitoringAlert{}, errors.New("alert id required")
	}
	return s.alerts.Acknowledge(ctx, id, by, s.clock())
}
