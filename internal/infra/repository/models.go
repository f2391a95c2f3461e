package repository

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"challenge_server/internal/domain"
)

type ProgramModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Name            string         `gorm:"column:name;not null"`
	InitialBalance  float64        `gorm:"column:initial_balance;not null"`
	ProfitTargetPct float64        `gorm:"column:profit_target_pct;not null"`
	MaxDailyLossPct float64        `gorm:"column:max_daily_loss_pct;not null"`
	MaxTotalLossPct float64        `gorm:"column:max_total_loss_pct;not null"`
	Method          string         `gorm:"column:calculation_method;not null"`
	DurationDays    int            `gorm:"column:duration_days"`
	ProfitSplitPct  float64        `gorm:"column:profit_split_pct"`
	PayoutRules     datatypes.JSON `gorm:"column:payout_rules;type:jsonb"`
	CreatedAt       time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProgramModel) TableName() string {
	return "programs"
}

func toProgramModel(p domain.Program) ProgramModel {
	return ProgramModel{
		ID:              p.ID,
		Name:            p.Name,
		InitialBalance:  p.InitialBalance,
		ProfitTargetPct: p.ProfitTargetPct,
		MaxDailyLossPct: p.MaxDailyLossPct,
		MaxTotalLossPct: p.MaxTotalLossPct,
		Method:          string(p.Method),
		DurationDays:    p.DurationDays,
		ProfitSplitPct:  p.ProfitSplitPct,
		PayoutRules:     jsonOrEmpty(p.PayoutRules),
	}
}

func (m ProgramModel) toDomain() domain.Program {
	return domain.Program{
		ID:              m.ID,
		Name:            m.Name,
		InitialBalance:  m.InitialBalance,
		ProfitTargetPct: m.ProfitTargetPct,
		MaxDailyLossPct: m.MaxDailyLossPct,
		MaxTotalLossPct: m.MaxTotalLossPct,
		Method:          domain.CalculationMethod(m.Method),
		DurationDays:    m.DurationDays,
		ProfitSplitPct:  m.ProfitSplitPct,
		PayoutRules:     copyJSON(m.PayoutRules),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

type ChallengeModel struct {
	ID            string  `gorm:"column:id;primaryKey"`
	UserID        string  `gorm:"column:user_id;not null;index"`
	ProgramID     string  `gorm:"column:program_id;not null"`
	PlatformLogin *string `gorm:"column:platform_login;uniqueIndex"`

	Status         string  `gorm:"column:status;not null;index"`
	InitialBalance float64 `gorm:"column:initial_balance;not null"`
	CurrentBalance float64 `gorm:"column:current_balance"`
	TotalProfit    float64 `gorm:"column:total_profit"`
	TotalLoss      float64 `gorm:"column:total_loss"`
	MaxDrawdown    float64 `gorm:"column:max_drawdown"`
	CommissionCum  float64 `gorm:"column:commission_cum"`
	SwapCum        float64 `gorm:"column:swap_cum"`

	StartDate     *time.Time `gorm:"column:start_date"`
	EndDate       *time.Time `gorm:"column:end_date"`
	PassedAt      *time.Time `gorm:"column:passed_at"`
	FailedAt      *time.Time `gorm:"column:failed_at"`
	FailureReason *string    `gorm:"column:failure_reason"`
	DisableAck    bool       `gorm:"column:disable_ack;not null;default:false"`

	DailyHistory datatypes.JSON `gorm:"column:daily_history;type:jsonb"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ChallengeModel) TableName() string {
	return "challenges"
}

func toChallengeModel(ch domain.Challenge) ChallengeModel {
	history, _ := json.Marshal(ch.DailyHistory)
	return ChallengeModel{
		ID:             ch.ID,
		UserID:         ch.UserID,
		ProgramID:      ch.ProgramID,
		PlatformLogin:  stringPointerOrNil(ch.PlatformLogin),
		Status:         string(ch.Status),
		InitialBalance: ch.InitialBalance,
		CurrentBalance: ch.CurrentBalance,
		TotalProfit:    ch.TotalProfit,
		TotalLoss:      ch.TotalLoss,
		MaxDrawdown:    ch.MaxDrawdown,
		CommissionCum:  ch.CommissionCum,
		SwapCum:        ch.SwapCum,
		StartDate:      ch.StartDate,
		EndDate:        ch.EndDate,
		PassedAt:       ch.PassedAt,
		FailedAt:       ch.FailedAt,
		FailureReason:  stringPointerOrNil(ch.FailureReason),
		DisableAck:     ch.DisableAck,
		DailyHistory:   jsonOrEmpty(history),
	}
}

func (m ChallengeModel) toDomain() domain.Challenge {
	history := domain.DailyHistory{}
	if len(m.DailyHistory) > 0 {
		_ = json.Unmarshal(m.DailyHistory, &history)
	}

	return domain.Challenge{
		ID:             m.ID,
		UserID:         m.UserID,
		ProgramID:      m.ProgramID,
		PlatformLogin:  stringValueOrEmpty(m.PlatformLogin),
		Status:         domain.ChallengeStatus(m.Status),
		InitialBalance: m.InitialBalance,
		CurrentBalance: m.CurrentBalance,
		TotalProfit:    m.TotalProfit,
		TotalLoss:      m.TotalLoss,
		MaxDrawdown:    m.MaxDrawdown,
		CommissionCum:  m.CommissionCum,
		SwapCum:        m.SwapCum,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		PassedAt:       m.PassedAt,
		FailedAt:       m.FailedAt,
		FailureReason:  stringValueOrEmpty(m.FailureReason),
		DisableAck:     m.DisableAck,
		DailyHistory:   history,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

type MonitoringEventModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Hash        string         `gorm:"column:event_hash;uniqueIndex;not null"`
	ChallengeID string         `gorm:"column:challenge_id;not null;index:idx_events_challenge_created,priority:1"`
	Kind        string         `gorm:"column:kind;not null"`
	Severity    string         `gorm:"column:severity;not null"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime;index:idx_events_challenge_created,priority:2;index"`
}

func (MonitoringEventModel) TableName() string {
	return "monitoring_events"
}

func toEventModel(ev domain.MonitoringEvent) MonitoringEventModel {
	return MonitoringEventModel{
		Hash:        ev.Hash,
		ChallengeID: ev.ChallengeID,
		Kind:        string(ev.Kind),
		Severity:    string(ev.Severity),
		Payload:     jsonOrEmpty(ev.Payload),
	}
}

func (m MonitoringEventModel) toDomain() domain.MonitoringEvent {
	return domain.MonitoringEvent{
		ID:          m.ID,
		Hash:        m.Hash,
		ChallengeID: m.ChallengeID,
		Kind:        domain.EventKind(m.Kind),
		Severity:    domain.EventSeverity(m.Severity),
		Payload:     copyJSON(m.Payload),
		CreatedAt:   m.CreatedAt,
	}
}

type ViolationLogModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	ChallengeID string         `gorm:"column:challenge_id;not null;index:idx_violations_challenge_resolved,priority:1"`
	Type        string         `gorm:"column:violation_type;not null"`
	Snapshot    datatypes.JSON `gorm:"column:snapshot;type:jsonb"`
	ActionTaken string         `gorm:"column:action_taken"`
	Resolved    bool           `gorm:"column:resolved;not null;default:false;index:idx_violations_challenge_resolved,priority:2"`
	ResolvedBy  *string        `gorm:"column:resolved_by"`
	ResolvedAt  *time.Time     `gorm:"column:resolved_at"`
	Notes       *string        `gorm:"column:notes"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime;index"`
}

func (ViolationLogModel) TableName() string {
	return "violation_logs"
}

func toViolationModel(v domain.ViolationLog) ViolationLogModel {
	return ViolationLogModel{
		ChallengeID: v.ChallengeID,
		Type:        string(v.Type),
		Snapshot:    jsonOrEmpty(v.Snapshot),
		ActionTaken: v.ActionTaken,
		Resolved:    v.Resolved,
		ResolvedBy:  stringPointerOrNil(v.ResolvedBy),
		ResolvedAt:  v.ResolvedAt,
		Notes:       stringPointerOrNil(v.Notes),
	}
}

func (m ViolationLogModel) toDomain() domain.ViolationLog {
	return domain.ViolationLog{
		ID:          m.ID,
		ChallengeID: m.ChallengeID,
		Type:        domain.ViolationType(m.Type),
		Snapshot:    copyJSON(m.Snapshot),
		ActionTaken: m.ActionTaken,
		Resolved:    m.Resolved,
		ResolvedBy:  stringValueOrEmpty(m.ResolvedBy),
		ResolvedAt:  m.ResolvedAt,
		Notes:       stringValueOrEmpty(m.Notes),
		CreatedAt:   m.CreatedAt,
	}
}

type MonitoringAlertModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	ChallengeID  string         `gorm:"column:challenge_id;index"`
	Level        string         `gorm:"column:level;not null"`
	Kind         string         `gorm:"column:kind;not null"`
	Message      string         `gorm:"column:message"`
	Channels     datatypes.JSON `gorm:"column:channels_attempted;type:jsonb"`
	SentAt       time.Time      `gorm:"column:sent_at"`
	Acknowledged bool           `gorm:"column:acknowledged;not null;default:false;index"`
	AckBy        *string        `gorm:"column:ack_by"`
	AckAt        *time.Time     `gorm:"column:ack_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime;index"`
}

func (MonitoringAlertModel) TableName() string {
	return "monitoring_alerts"
}

func toAlertModel(a domain.MonitoringAlert) MonitoringAlertModel {
	channels, _ := json.Marshal(a.ChannelsAttempted)
	return MonitoringAlertModel{
		ID:           a.ID,
		ChallengeID:  a.ChallengeID,
		Level:        string(a.Level),
		Kind:         string(a.Kind),
		Message:      a.Message,
		Channels:     jsonOrEmpty(channels),
		SentAt:       a.SentAt,
		Acknowledged: a.Acknowledged,
		AckBy:        stringPointerOrNil(a.AckBy),
		AckAt:        a.AckAt,
	}
}

func (m MonitoringAlertModel) toDomain() domain.MonitoringAlert {
	var channels []string
	if len(m.Channels) > 0 {
		_ = json.Unmarshal(m.Channels, &channels)
	}

	return domain.MonitoringAlert{
		ID:                m.ID,
		ChallengeID:       m.ChallengeID,
		Level:             domain.AlertLevel(m.Level),
		Kind:              domain.AlertKind(m.Kind),
		Message:           m.Message,
		ChannelsAttempted: channels,
		SentAt:            m.SentAt,
		Acknowledged:      m.Acknowledged,
		AckBy:             stringValueOrEmpty(m.AckBy),
		AckAt:             m.AckAt,
		CreatedAt:         m.CreatedAt,
	}
}

type APITokenModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TokenID   string    `gorm:"column:token_id;uniqueIndex;not null"`
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (APITokenModel) TableName() string {
	return "api_tokens"
}

func stringPointerOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func jsonOrEmpty(data []byte) datatypes.JSON {
	if len(data) == 0 {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(append([]byte(nil), data...))
}

func copyJSON(data datatypes.JSON) []byte {
	if len(data) == 0 {
		return nil
	}
	cpy := make([]byte, len(data))
	copy(cpy, data)
	return cpy
}
