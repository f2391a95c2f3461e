package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type EventKind string

const (
	EventSync      EventKind = "sync"
	EventViolation EventKind = "violation"
	EventWarning   EventKind = "warning"
	EventDisable   EventKind = "disable"
)

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// MonitoringEvent is one append-only record in the challenge event stream.
type MonitoringEvent struct {
	ID          int64
	Hash        string
	ChallengeID string
	Kind        EventKind
	Severity    EventSeverity
	Payload     []byte
	CreatedAt   time.Time
}

// EventDigest builds a deterministic natural key for an event so that a
// retried write upserts instead of duplicating. Callers pass a seq that is
// stable across retries of the same logical event (e.g. the snapshot
// timestamp for sync events, the attempt number for disable events).
func EventDigest(challengeID string, kind EventKind, seq string) string {
	parts := []string{
		strings.TrimSpace(challengeID),
		string(kind),
		strings.TrimSpace(seq),
	}

	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(h[:])
}

// WithHash ensures the natural key is populated from the event identity.
func (e MonitoringEvent) WithHash(seq string) MonitoringEvent {
	if e.Hash != "" {
		return e
	}
	e.Hash = EventDigest(e.ChallengeID, e.Kind, seq)
	return e
}

// ViolationLog records an enforced rule breach. At most one unresolved
// entry exists per (challenge, violation_type).
type ViolationLog struct {
	ID          int64
	ChallengeID string
	Type        ViolationType
	Snapshot    []byte
	ActionTaken string
	Resolved    bool
	ResolvedBy  string
	ResolvedAt  *time.Time
	Notes       string
	CreatedAt   time.Time
}

const (
	ActionAccountDisabled = "account_disabled"
	ActionDisableFailed   = "disable_failed"
)

type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

type AlertKind string

const (
	AlertKindViolation   AlertKind = "violation"
	AlertKindRisk        AlertKind = "risk"
	AlertKindPassed      AlertKind = "passed"
	AlertKindSystemError AlertKind = "system_error"
)

// MonitoringAlert is an operator notification with acknowledgement state.
type MonitoringAlert struct {
	ID                string
	ChallengeID       string
	Level             AlertLevel
	Kind              AlertKind
	Message           string
	ChannelsAttempted []string
	SentAt            time.Time
	Acknowledged      bool
	AckBy             string
	AckAt             *time.Time
	CreatedAt         time.Time
}

// ChallengeSummary is the monitoring list projection.
type ChallengeSummary struct {
	ID            string
	UserID        string
	ProgramID     string
	PlatformLogin string
	Status        ChallengeStatus
	Balance       float64
	Equity        float64
	Threshold     float64
	RiskUsage     float64
	RiskLevel     RiskLevel
	LastUpdate    time.Time
}

// ChallengeDetail is the monitoring drill-down projection.
type ChallengeDetail struct {
	Challenge  Challenge
	Today      *DailyAggregate
	Events     []MonitoringEvent
	Violations []ViolationLog
}

// MonitoringStats is the fleet-level dashboard projection.
type MonitoringStats struct {
	Active          int64
	AtRisk          int64
	ViolationsToday int64
	ViolationsWeek  int64
	EventsLastHour  int64
	SystemHealthy   bool
	LastSyncAt      *time.Time
}

// APIToken authorises an operator against the admin monitoring surface.
type APIToken struct {
	ID        int64
	TokenID   string
	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
