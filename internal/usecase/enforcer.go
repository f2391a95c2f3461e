package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"challenge_server/internal/domain"
	applogger "challenge_server/internal/infra/logger"
)

const (
	defaultDisableRetries = 6
	disableBaseDelay      = time.Second
	disableMaxDelay       = 5 * time.Minute
)

// Enforcer handles the terminal side of a rule breach: it fails the
// challenge exactly once, disables the platform account with retries, and
// records the violation and alert trail.
type Enforcer struct {
	challenges domain.ChallengeRepository
	events     domain.EventRepository
	violations domain.ViolationRepository
	alerts     domain.AlertRepository
	gateway    domain.PlatformGateway
	notifier   domain.Notifier

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// sleep is injectable so tests can run the backoff schedule instantly.
	sleep func(time.Duration)
	newID func() string
}

func NewEnforcer(
	challenges domain.ChallengeRepository,
	events domain.EventRepository,
	violations domain.ViolationRepository,
	alerts domain.AlertRepository,
	gateway domain.PlatformGateway,
	notifier domain.Notifier,
	maxRetries int,
) (*Enforcer, error) {
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
	if gateway == nil {
		return nil, errors.New("gateway required")
	}
	if maxRetries <= 0 {
		maxRetries = defaultDisableRetries
	}

	return &Enforcer{
		challenges: challenges,
		events:     events,
		violations: violations,
		alerts:     alerts,
		gateway:    gateway,
		notifier:   notifier,
		maxRetries: maxRetries,
		baseDelay:  disableBaseDelay,
		maxDelay:   disableMaxDelay,
		sleep:      time.Sleep,
		newID:      newAlertID,
	}, nil
}

// Enforce fails an active challenge for the given violation. The CAS on
// (id, active) is the idempotence key: a concurrent or retried call that
// loses the CAS only proceeds to the disable steps when the challenge is
// failed without a disable acknowledgement yet.
func (e *Enforcer) Enforce(ctx context.Context, ch domain.Challenge, vtype domain.ViolationType, agg domain.DailyAggregate, now time.Time) error {
	log := applogger.Component("enforcer")

	snapshot, _ := json.Marshal(agg)

	mut := domain.StatusMutation{
		FailureReason: vtype.FailureReason(),
		FailedAt:      &now,
	}
	ev := domain.MonitoringEvent{
		ChallengeID: ch.ID,
		Kind:        domain.EventViolation,
		Severity:    domain.SeverityCritical,
		Payload:     violationPayload(vtype, agg),
	}.WithHash(string(vtype))

	won, err := e.challenges.FailChallenge(ctx, ch.ID, mut, ev)
	if err != nil {
		return fmt.Errorf("fail challenge %s: %w", ch.ID, err)
	}
	if !won {
		fresh, err := e.challenges.Get(ctx, ch.ID)
		if err != nil {
			return err
		}
		if fresh.Status != domain.StatusFailed || fresh.DisableAck {
			// Another path completed enforcement (or the challenge left
			// active some other way); nothing left to do.
			return nil
		}
		log.Warn().Str("challenge", ch.ID).Msg("resuming enforcement of already-failed challenge")
	}

	// Disablement must survive worker shutdown; the pool drains this call
	// before exiting, and cancellation of the triggering request must not
	// abort it halfway.
	dctx := context.WithoutCancel(ctx)

	disabled := e.disableWithBackoff(dctx, ch, vtype)

	action := domain.ActionAccountDisabled
	if !disabled {
		action = domain.ActionDisableFailed
	}

	violation := domain.ViolationLog{
		ChallengeID: ch.ID,
		Type:        vtype,
		Snapshot:    snapshot,
		ActionTaken: action,
	}
	if err := e.violations.Append(dctx, violation); err != nil {
		log.Error().Err(err).Str("challenge", ch.ID).Msg("append violation log")
	}

	e.emitAlert(dctx, domain.MonitoringAlert{
		ID:          e.newID(),
		ChallengeID: ch.ID,
		Level:       domain.AlertCritical,
		Kind:        domain.AlertKindViolation,
		Message:     fmt.Sprintf("challenge %s failed: %s", ch.ID, vtype.FailureReason()),
		SentAt:      now,
	})

	if !disabled {
		e.emitAlert(dctx, domain.MonitoringAlert{
			ID:          e.newID(),
			ChallengeID: ch.ID,
			Level:       domain.AlertCritical,
			Kind:        domain.AlertKindSystemError,
			Message:     fmt.Sprintf("disable of account %s exhausted %d attempts; manual intervention required", ch.PlatformLogin, e.maxRetries),
			SentAt:      now,
		})
	}

	return nil
}

// disableWithBackoff issues disable_account with exponential backoff
// (1s, 2s, 4s, ... capped at 5 min), logging every attempt to the event
// stream. Returns true once the gateway acknowledges.
func (e *Enforcer) disableWithBackoff(ctx context.Context, ch domain.Challenge, vtype domain.ViolationType) bool {
	log := applogger.Component("enforcer")

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		err := e.gateway.DisableAccount(ctx, ch.PlatformLogin)

		seq := fmt.Sprintf("%s|attempt-%d", vtype, attempt)
		if err == nil {
			if ackErr := e.challenges.SetDisableAck(ctx, ch.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("challenge", ch.ID).Msg("persist disable ack")
			}
			e.appendEvent(ctx, domain.MonitoringEvent{
				ChallengeID: ch.ID,
				Kind:        domain.EventDisable,
				Severity:    domain.SeverityInfo,
				Payload:     disablePayload(attempt, ""),
			}.WithHash(seq))
			return true
		}

		log.Error().Err(err).Str("challenge", ch.ID).Int("attempt", attempt).Msg("disable account failed")
		e.appendEvent(ctx, domain.MonitoringEvent{
			ChallengeID: ch.ID,
			Kind:        domain.EventDisable,
			Severity:    domain.SeverityCritical,
			Payload:     disablePayload(attempt, err.Error()),
		}.WithHash(seq))

		if attempt < e.maxRetries {
			e.sleep(e.backoffDelay(attempt))
		}
	}

	return false
}

func (e *Enforcer) backoffDelay(attempt int) time.Duration {
	delay := e.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= e.maxDelay {
			return e.maxDelay
		}
	}
	return delay
}

func (e *Enforcer) appendEvent(ctx context.Context, ev domain.MonitoringEvent) {
	if err := e.events.Append(ctx, ev); err != nil {
		log := applogger.Component("enforcer")
		log.Error().Err(err).Str("challenge", ev.ChallengeID).Msg("append event")
	}
}

func (e *Enforcer) emitAlert(ctx context.Context, alert domain.MonitoringAlert) {
	if e.notifier != nil {
		alert.ChannelsAttempted = e.notifier.Dispatch(ctx, alert)
	}
	if err := e.alerts.Create(ctx, alert); err != nil {
		log := applogger.Component("enforcer")
		log.Error().Err(err).Str("challenge", alert.ChallengeID).Msg("store alert")
	}
}

func violationPayload(vtype domain.ViolationType, agg domain.DailyAggregate) []byte {
	payload, _ := json.Marshal(map[string]any{
		"violation_type": vtype,
		"aggregate":      agg,
	})
	return payload
}

func disablePayload(attempt int, errMsg string) []byte {
	body := map[string]any{"attempt": attempt}
	if errMsg != "" {
		body["error"] = errMsg
	}
	payload, _ := json.Marshal(body)
	return payload
}
