package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"challenge_server/internal/domain"
	applogger "challenge_server/internal/infra/logger"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrTransitionLost    = errors.New("status changed concurrently")
)

// LifecycleService drives the operator-facing challenge transitions that
// do not originate from snapshots: activation on payment, funding,
// cancellation, and violation resolution.
type LifecycleService struct {
	challenges domain.ChallengeRepository
	programs   domain.ProgramRepository
	violations domain.ViolationRepository
	events     domain.EventRepository
	gateway    domain.PlatformGateway

	clock func() time.Time
}

func NewLifecycleService(
	challenges domain.ChallengeRepository,
	programs domain.ProgramRepository,
	violations domain.ViolationRepository,
	events domain.EventRepository,
	gateway domain.PlatformGateway,
) (*LifecycleService, error) {
	if challenges == nil {
		return nil, errors.New("challenge repository required")
	}
	if programs == nil {
		return nil, errors.New("program repository required")
	}
	if violations == nil {
		return nil, errors.New("violation repository required")
	}
	if events == nil {
		return nil, errors.New("event repository required")
	}
	if gateway == nil {
		return nil, errors.New("gateway required")
	}

	return &LifecycleService{
		challenges: challenges,
		programs:   programs,
		violations: violations,
		events:     events,
		gateway:    gateway,
		clock:      time.Now,
	}, nil
}

// CreateChallenge registers a pending attempt against a program.
func (s *LifecycleService) CreateChallenge(ctx context.Context, userID, programID string) (domain.Challenge, error) {
	if userID == "" {
		return domain.Challenge{}, errors.New("user id required")
	}

	program, err := s.programs.Get(ctx, programID)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("load program %s: %w", programID, err)
	}

	ch := domain.Challenge{
		ID:             uuid.NewString(),
		UserID:         userID,
		ProgramID:      program.ID,
		Program:        program,
		Status:         domain.StatusPending,
		InitialBalance: program.InitialBalance,
		CurrentBalance: program.InitialBalance,
		DailyHistory:   domain.DailyHistory{},
	}

	if err := s.challenges.Create(ctx, ch); err != nil {
		return domain.Challenge{}, fmt.Errorf("create challenge: %w", err)
	}

	return ch, nil
}

// Activate moves a pending challenge to active once payment is confirmed:
// it provisions the platform account and stamps the evaluation window.
func (s *LifecycleService) Activate(ctx context.Context, id string) (domain.Challenge, error) {
	ch, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if ch.Status != domain.StatusPending {
		return domain.Challenge{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, ch.Status)
	}

	login := ch.PlatformLogin
	if login == "" {
		creds, err := s.gateway.CreateAccount(ctx, domain.AccountSpec{
			Name:     ch.UserID,
			Group:    ch.Program.Name,
			Leverage: 100,
			Balance:  ch.Program.InitialBalance,
		})
		if err != nil {
			return domain.Challenge{}, fmt.Errorf("provision account for %s: %w", id, err)
		}
		login = creds.Login
	}

	now := s.clock()
	mut := domain.StatusMutation{
		PlatformLogin: login,
		StartDate:     &now,
	}
	if ch.Program.DurationDays > 0 {
		end := now.AddDate(0, 0, ch.Program.DurationDays)
		mut.EndDate = &end
	}

	won, err := s.challenges.CASStatus(ctx, id, domain.StatusPending, domain.StatusActive, mut)
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("activate %s: %w", id, err)
	}
	if !won {
		return domain.Challenge{}, ErrTransitionLost
	}

	return s.challenges.Get(ctx, id)
}

// Fund promotes a passed challenge to funded.
func (s *LifecycleService) Fund(ctx context.Context, id string) (domain.Challenge, error) {
	won, err := s.challenges.CASStatus(ctx, id, domain.StatusPassed, domain.StatusFunded, domain.StatusMutation{})
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("fund %s: %w", id, err)
	}
	if !won {
		return domain.Challenge{}, ErrTransitionLost
	}
	return s.challenges.Get(ctx, id)
}

// Cancel terminates a pending or active challenge on operator action. The
// platform account, when one exists, is disabled so the trader cannot keep
// trading a cancelled evaluation.
func (s *LifecycleService) Cancel(ctx context.Context, id, reason string) (domain.Challenge, error) {
	log := applogger.Component("lifecycle")

	if reason == "" {
		reason = "Cancelled by operator"
	}

	ch, err := s.challenges.Get(ctx, id)
	if err != nil {
		return domain.Challenge{}, err
	}
	if ch.Status != domain.StatusPending && ch.Status != domain.StatusActive {
		return domain.Challenge{}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, ch.Status)
	}

	now := s.clock()
	won, err := s.challenges.CASStatus(ctx, id, ch.Status, domain.StatusCancelled, domain.StatusMutation{
		FailureReason: reason,
		FailedAt:      &now,
	})
	if err != nil {
		return domain.Challenge{}, fmt.Errorf("cancel %s: %w", id, err)
	}
	if !won {
		return domain.Challenge{}, ErrTransitionLost
	}

	if ch.PlatformLogin != "" {
		if err := s.gateway.DisableAccount(ctx, ch.PlatformLogin); err != nil {
			log.Error().Err(err).Str("challenge", id).Msg("disable account on cancel")
			s.appendEvent(ctx, ch.ID, domain.EventDisable, domain.SeverityCritical, map[string]any{
				"error":  err.Error(),
				"reason": "cancel",
			})
			return s.challenges.Get(ctx, id)
		}
	}

	if err := s.challenges.SetDisableAck(ctx, id); err != nil {
		log.Error().Err(err).Str("challenge", id).Msg("persist disable ack on cancel")
	}

	return s.challenges.Get(ctx, id)
}

// ResolveViolation records an operator resolution on a violation entry.
func (s *LifecycleService) ResolveViolation(ctx context.Context, violationID int64, by, notes string) error {
	if by == "" {
		return errors.New("resolver required")
	}
	return s.violations.Resolve(ctx, violationID, by, notes, s.clock())
}

func (s *LifecycleService) appendEvent(ctx context.Context, challengeID string, kind domain.EventKind, severity domain.EventSeverity, payload map[string]any) {
	body, _ := json.Marshal(payload)
	ev := domain.MonitoringEvent{
		ChallengeID: challengeID,
		Kind:        kind,
		Severity:    severity,
		Payload:     body,
	}.WithHash(s.clock().UTC().Format(time.RFC3339Nano))
	if err := s.events.Append(ctx, ev); err != nil {
		log := applogger.Component("lifecycle")
		log.Error().Err(err).Str("challenge", challengeID).Msg("append event")
	}
}
