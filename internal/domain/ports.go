package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrAlertNotFound     = errors.New("alert not found")
	ErrViolationNotFound = errors.New("violation not found")
)

// StatusMutation carries the fields a status transition writes alongside
// the CAS on (id, from-status).
type StatusMutation struct {
	FailureReason string
	PlatformLogin string
	StartDate     *time.Time
	EndDate       *time.Time
	PassedAt      *time.Time
	FailedAt      *time.Time
}

// ChallengeRepository persists challenges and their daily history.
type ChallengeRepository interface {
	Get(ctx context.Context, id string) (Challenge, error)
	GetByLogin(ctx context.Context, platformLogin string) (Challenge, error)
	ListByStatus(ctx context.Context, statuses []ChallengeStatus, limit, offset int) ([]Challenge, error)
	CountByStatus(ctx context.Context, statuses []ChallengeStatus) (int64, error)
	Create(ctx context.Context, ch Challenge) error

	// SaveSnapshot writes the challenge's cached projections, the touched
	// day's aggregate, and the sync event in one transaction. The event's
	// natural-key hash gates the write: when the event already exists the
	// snapshot is a replayed delivery, the row is left untouched, and
	// SaveSnapshot returns false.
	SaveSnapshot(ctx context.Context, ch Challenge, day string, agg DailyAggregate, ev MonitoringEvent) (bool, error)

	// CASStatus transitions (id, from) -> to, applying mut. It returns
	// false when the challenge was no longer in the from status.
	CASStatus(ctx context.Context, id string, from, to ChallengeStatus, mut StatusMutation) (bool, error)

	// FailChallenge is CASStatus(active -> failed) transactionally coupled
	// with the violation event append.
	FailChallenge(ctx context.Context, id string, mut StatusMutation, ev MonitoringEvent) (bool, error)

	SetDisableAck(ctx context.Context, id string) error
}

type ProgramRepository interface {
	Get(ctx context.Context, id string) (Program, error)
	Create(ctx context.Context, p Program) error
}

type EventFilter struct {
	ChallengeID string
	Kind        EventKind
	Limit       int
}

// EventRepository is the append-only monitoring event stream. Append is
// idempotent on the event's natural-key hash.
type EventRepository interface {
	Append(ctx context.Context, ev MonitoringEvent) error
	List(ctx context.Context, f EventFilter) ([]MonitoringEvent, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	LastSyncAt(ctx context.Context) (*time.Time, error)
}

// ViolationRepository is the append-only violation log.
type ViolationRepository interface {
	Append(ctx context.Context, v ViolationLog) error
	ListByChallenge(ctx context.Context, challengeID string) ([]ViolationLog, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	Resolve(ctx context.Context, id int64, by, notes string, at time.Time) error
}

type AlertFilter struct {
	ChallengeID    string
	Level          AlertLevel
	Unacknowledged bool
	Limit          int
}

// AlertRepository stores operator alerts. Acknowledge is idempotent: a
// second acknowledgement returns the existing record unchanged.
type AlertRepository interface {
	Create(ctx context.Context, a MonitoringAlert) error
	List(ctx context.Context, f AlertFilter) ([]MonitoringAlert, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) (MonitoringAlert, error)
}

// AccountState is the gateway's account reading; commission and swap are
// cumulative totals for the account's lifetime.
type AccountState struct {
	Balance       float64
	Equity        float64
	Margin        float64
	FreeMargin    float64
	MarginLevel   float64
	CommissionCum float64
	SwapCum       float64
}

type AccountSpec struct {
	Name     string
	Group    string
	Leverage int
	Balance  float64
}

type AccountCredentials struct {
	Login    string
	Password string
	Group    string
}

// PlatformGateway is the outbound capability set against the trading
// platform. Implementations own authentication and rate limiting.
type PlatformGateway interface {
	Account(ctx context.Context, login string) (AccountState, error)
	Positions(ctx context.Context, login string) ([]Position, error)
	TradeHistory(ctx context.Context, login string, from, to time.Time) ([]Trade, error)
	CreateAccount(ctx context.Context, spec AccountSpec) (AccountCredentials, error)
	UpdateBalance(ctx context.Context, login string, amount float64, comment string) error
	DisableAccount(ctx context.Context, login string) error
}

// Notifier fans an alert out to the configured channels and returns the
// channel names it attempted.
type Notifier interface {
	Dispatch(ctx context.Context, alert MonitoringAlert) []string
}
