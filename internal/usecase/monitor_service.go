package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"challenge_server/internal/domain"
	applogger "challenge_server/internal/infra/logger"
	"challenge_server/internal/worker"
)

const defaultWarnDedupWindow = 15 * time.Minute

func newAlertID() string {
	return uuid.NewString()
}

// MonitorService is the ingestion pipeline: it turns account snapshots
// into daily drawdown state, evaluates the challenge rules, and drives the
// resulting transitions and alerts.
type MonitorService struct {
	challenges domain.ChallengeRepository
	events     domain.EventRepository
	alerts     domain.AlertRepository
	gateway    domain.PlatformGateway
	notifier   domain.Notifier
	enforcer   *Enforcer
	evaluator  domain.Evaluator

	pool      *worker.Pool
	warnDedup *dedupCache
	newID     func() string
	clock     func() time.Time
}

type MonitorOptions struct {
	WarnDedupWindow time.Duration
	StrictRuleOrder bool
	WorkerCount     int
}

func NewMonitorService(
	challenges domain.ChallengeRepository,
	events domain.EventRepository,
	alerts domain.AlertRepository,
	gateway domain.PlatformGateway,
	notifier domain.Notifier,
	enforcer *Enforcer,
	opts MonitorOptions,
) (*MonitorService, error) {
	if challenges == nil {
		return nil, errors.New("challenge repository required")
	}
	if events == nil {
		return nil, errors.New("event repository required")
	}
	if alerts == nil {
		return nil, errors.New("alert repository required")
	}
	if gateway == nil {
		return nil, errors.New("gateway required")
	}
	if enforcer == nil {
		return nil, errors.New("enforcer required")
	}

	window := opts.WarnDedupWindow
	if window <= 0 {
		window = defaultWarnDedupWindow
	}

	s := &MonitorService{
		challenges: challenges,
		events:     events,
		alerts:     alerts,
		gateway:    gateway,
		notifier:   notifier,
		enforcer:   enforcer,
		evaluator:  domain.Evaluator{StrictOrder: opts.StrictRuleOrder},
		warnDedup:  newDedupCache(window),
		newID:      newAlertID,
		clock:      time.Now,
	}

	s.pool = worker.NewPool(opts.WorkerCount, s.processItem)
	return s, nil
}

// Shutdown drains the worker pool, blocking until in-flight processing and
// enforcement complete.
func (s *MonitorService) Shutdown() {
	s.pool.Shutdown()
}

// Sweep enumerates challenges eligible for polling and enqueues one fetch
// per challenge. Items for a challenge already queued coalesce.
func (s *MonitorService) Sweep(ctx context.Context) (int, error) {
	log := applogger.Component("monitor")

	challenges, err := s.challenges.ListByStatus(ctx, []domain.ChallengeStatus{domain.StatusActive, domain.StatusPending}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("list challenges for sweep: %w", err)
	}

	queued := 0
	for _, ch := range challenges {
		// Pending challenges only matter once an account exists.
		if ch.Status == domain.StatusPending && ch.PlatformLogin == "" {
			continue
		}
		if s.pool.Submit(worker.Item{ChallengeID: ch.ID, At: s.clock()}) {
			queued++
		}
	}

	log.Debug().Int("queued", queued).Msg("sweep enqueued")
	return queued, nil
}

// EnqueueSnapshot routes a pushed snapshot (webhook path) to the worker
// owning the challenge.
func (s *MonitorService) EnqueueSnapshot(challengeID string, snap domain.Snapshot, at time.Time) bool {
	return s.pool.Submit(worker.Item{ChallengeID: challengeID, Snapshot: &snap, At: at})
}

// EnqueueByLogin resolves a platform account number to its challenge and
// enqueues a fresh fetch; used by deal/position push events that carry no
// usable account state of their own.
func (s *MonitorService) EnqueueByLogin(ctx context.Context, login string) error {
	ch, err := s.challenges.GetByLogin(ctx, login)
	if err != nil {
		return err
	}
	s.pool.Submit(worker.Item{ChallengeID: ch.ID, At: s.clock()})
	return nil
}

// ChallengeByLogin exposes the login lookup to the webhook intake.
func (s *MonitorService) ChallengeByLogin(ctx context.Context, login string) (domain.Challenge, error) {
	return s.challenges.GetByLogin(ctx, login)
}

func (s *MonitorService) processItem(ctx context.Context, item worker.Item) {
	log := applogger.Component("monitor")

	now := item.At
	if now.IsZero() {
		now = s.clock()
	}

	snap := item.Snapshot
	if snap == nil {
		fetched, err := s.fetchSnapshot(ctx, item.ChallengeID)
		if err != nil {
			s.recordFetchFailure(ctx, item.ChallengeID, err)
			return
		}
		snap = fetched
	}

	if err := s.Process(ctx, item.ChallengeID, *snap, now); err != nil {
		log.Error().Err(err).Str("challenge", item.ChallengeID).Msg("process snapshot")
	}
}

// fetchSnapshot reads the account from the gateway and converts cumulative
// commission/swap into per-snapshot deltas against the challenge's last
// recorded cumulative values.
func (s *MonitorService) fetchSnapshot(ctx context.Context, challengeID string) (*domain.Snapshot, error) {
	ch, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if ch.PlatformLogin == "" {
		return nil, fmt.Errorf("challenge %s has no platform account", challengeID)
	}

	state, err := s.gateway.Account(ctx, ch.PlatformLogin)
	if err != nil {
		return nil, err
	}

	equity := state.Equity
	snap := &domain.Snapshot{
		Balance:         state.Balance,
		Equity:          &equity,
		OpenPnL:         state.Equity - state.Balance,
		CommissionDelta: state.CommissionCum - ch.CommissionCum,
		SwapDelta:       state.SwapCum - ch.SwapCum,
	}

	// First sync has no prior cumulative baseline; treat the whole reading
	// as already accounted for rather than booking it as today's delta.
	if len(ch.DailyHistory) == 0 {
		snap.CommissionDelta = 0
		snap.SwapDelta = 0
	}

	return snap, nil
}

// Process applies one snapshot to one challenge. Callers must serialise
// per challenge; the worker pool guarantees that for both entry paths.
func (s *MonitorService) Process(ctx context.Context, challengeID string, snap domain.Snapshot, now time.Time) error {
	ch, err := s.challenges.Get(ctx, challengeID)
	if err != nil {
		return err
	}

	if ch.Status != domain.StatusActive {
		s.appendEvent(ctx, domain.MonitoringEvent{
			ChallengeID: ch.ID,
			Kind:        domain.EventSync,
			Severity:    domain.SeverityInfo,
			Payload:     mustJSON(map[string]any{"skipped": true, "status": ch.Status}),
		}.WithHash("skip|"+string(ch.Status)+"|"+now.UTC().Format(time.RFC3339)))
		return nil
	}

	newHistory, day, agg := domain.UpdateDailyHistory(ch.DailyHistory, ch.Program, now, snap)

	equity := snap.EffectiveEquity()
	ch.DailyHistory = newHistory
	ch.CurrentBalance = snap.Balance
	ch.CommissionCum += snap.CommissionDelta
	ch.SwapCum += snap.SwapDelta
	ch.TotalProfit = math.Max(0, equity-ch.InitialBalance)
	if snap.TotalLoss != nil {
		ch.TotalLoss = *snap.TotalLoss
	} else {
		ch.TotalLoss = math.Max(0, ch.InitialBalance-equity)
	}
	ch.MaxDrawdown = math.Max(ch.MaxDrawdown, agg.LossFromPeak)

	// The sync event's natural key identifies the delivery: a redelivered
	// (snapshot, timestamp) pair hashes identically, the event insert
	// dedups, and SaveSnapshot skips the projection update so the delta
	// accumulators are folded in exactly once.
	seq := fmt.Sprintf("%s|%.2f|%.2f|%.2f|%.4f|%.4f",
		now.UTC().Format(time.RFC3339Nano),
		snap.Balance, equity, snap.OpenPnL, snap.CommissionDelta, snap.SwapDelta)
	syncEvent := domain.MonitoringEvent{
		ChallengeID: ch.ID,
		Kind:        domain.EventSync,
		Severity:    domain.SeverityInfo,
		Payload:     mustJSON(agg),
	}.WithHash(seq)

	applied, err := s.challenges.SaveSnapshot(ctx, ch, day, agg, syncEvent)
	if err != nil {
		return fmt.Errorf("persist snapshot for %s: %w", challengeID, err)
	}
	if !applied {
		return nil
	}

	if !ch.Program.Method.Valid() || ch.Program.ProfitTargetPct <= 0 {
		s.warnMisconfigured(ctx, ch, now)
	}

	verdict := s.evaluator.Evaluate(ch, agg, now)
	switch verdict.Outcome {
	case domain.OutcomePassed:
		return s.markPassed(ctx, ch, now)
	case domain.OutcomeFailed:
		return s.enforcer.Enforce(ctx, ch, verdict.Violation, agg, now)
	default:
		s.maybeWarnRisk(ctx, ch, agg, now)
		return nil
	}
}

func (s *MonitorService) markPassed(ctx context.Context, ch domain.Challenge, now time.Time) error {
	won, err := s.challenges.CASStatus(ctx, ch.ID, domain.StatusActive, domain.StatusPassed, domain.StatusMutation{PassedAt: &now})
	if err != nil {
		return fmt.Errorf("mark passed %s: %w", ch.ID, err)
	}
	if !won {
		return nil
	}

	s.emitAlert(ctx, domain.MonitoringAlert{
		ID:          s.newID(),
		ChallengeID: ch.ID,
		Level:       domain.AlertInfo,
		Kind:        domain.AlertKindPassed,
		Message:     fmt.Sprintf("challenge %s reached its profit target", ch.ID),
		SentAt:      now,
	})
	return nil
}

func (s *MonitorService) maybeWarnRisk(ctx context.Context, ch domain.Challenge, agg domain.DailyAggregate, now time.Time) {
	level := domain.RiskLevelFor(agg)
	if level != domain.RiskHigh && level != domain.RiskCritical {
		return
	}

	key := "risk|" + ch.ID + "|" + string(level)
	if !s.warnDedup.Allow(key, now) {
		return
	}

	alertLevel := domain.AlertWarning
	if level == domain.RiskCritical {
		alertLevel = domain.AlertCritical
	}

	s.appendEvent(ctx, domain.MonitoringEvent{
		ChallengeID: ch.ID,
		Kind:        domain.EventWarning,
		Severity:    domain.SeverityWarning,
		Payload:     mustJSON(map[string]any{"risk_level": level, "usage": domain.RiskUsage(agg)}),
	}.WithHash(key+"|"+now.UTC().Format(time.RFC3339)))

	s.emitAlert(ctx, domain.MonitoringAlert{
		ID:          s.newID(),
		ChallengeID: ch.ID,
		Level:       alertLevel,
		Kind:        domain.AlertKindRisk,
		Message:     fmt.Sprintf("challenge %s is at %s risk (%.0f%% of daily budget used)", ch.ID, level, domain.RiskUsage(agg)*100),
		SentAt:      now,
	})
}

// warnMisconfigured logs once per challenge per dedup window when the
// program cannot be evaluated as intended (e.g. zero profit target).
func (s *MonitorService) warnMisconfigured(ctx context.Context, ch domain.Challenge, now time.Time) {
	key := "misconfig|" + ch.ID
	if !s.warnDedup.Allow(key, now) {
		return
	}
	s.appendEvent(ctx, domain.MonitoringEvent{
		ChallengeID: ch.ID,
		Kind:        domain.EventWarning,
		Severity:    domain.SeverityWarning,
		Payload: mustJSON(map[string]any{
			"misconfigured":     true,
			"profit_target_pct": ch.Program.ProfitTargetPct,
			"method":            ch.Program.Method,
		}),
	}.WithHash(key))
}

func (s *MonitorService) recordFetchFailure(ctx context.Context, challengeID string, err error) {
	log := applogger.Component("monitor")

	if domain.Transient(err) {
		log.Warn().Err(err).Str("challenge", challengeID).Msg("transient gateway error, retrying next tick")
		s.appendEvent(ctx, domain.MonitoringEvent{
			ChallengeID: challengeID,
			Kind:        domain.EventSync,
			Severity:    domain.SeverityWarning,
			Payload:     mustJSON(map[string]any{"error": err.Error(), "transient": true}),
		}.WithHash("fetch-fail|" + s.clock().UTC().Format(time.RFC3339)))
		return
	}

	log.Error().Err(err).Str("challenge", challengeID).Msg("permanent gateway error")
	s.appendEvent(ctx, domain.MonitoringEvent{
		ChallengeID: challengeID,
		Kind:        domain.EventSync,
		Severity:    domain.SeverityCritical,
		Payload:     mustJSON(map[string]any{"error": err.Error(), "transient": false}),
	}.WithHash("fetch-fail|" + s.clock().UTC().Format(time.RFC3339)))

	s.emitAlert(ctx, domain.MonitoringAlert{
		ID:          s.newID(),
		ChallengeID: challengeID,
		Level:       domain.AlertCritical,
		Kind:        domain.AlertKindSystemError,
		Message:     fmt.Sprintf("gateway error while syncing challenge %s: %v", challengeID, err),
		SentAt:      s.clock(),
	})
}

func (s *MonitorService) appendEvent(ctx context.Context, ev domain.MonitoringEvent) {
	if err := s.events.Append(ctx, ev); err != nil {
		log := applogger.Component("monitor")
		log.Error().Err(err).Str("challenge", ev.ChallengeID).Msg("append event")
	}
}

func (s *MonitorService) emitAlert(ctx context.Context, alert domain.MonitoringAlert) {
	if s.notifier != nil {
		alert.ChannelsAttempted = s.notifier.Dispatch(ctx, alert)
	}
	if err := s.alerts.Create(ctx, alert); err != nil {
		log := applogger.Component("monitor")
		log.Error().Err(err).Str("challenge", alert.ChallengeID).Msg("store alert")
	}
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return payload
}
