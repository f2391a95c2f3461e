package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"challenge_server/internal/domain"
)

// In-memory fakes mirroring the repository semantics the services rely
// on: CAS transitions, hash-deduplicated event appends, and the single
// unresolved violation per (challenge, type).

type fakeChallengeRepo struct {
	mu     sync.Mutex
	byID   map[string]domain.Challenge
	events *fakeEventRepo
}

func newFakeChallengeRepo(events *fakeEventRepo) *fakeChallengeRepo {
	return &fakeChallengeRepo{byID: make(map[string]domain.Challenge), events: events}
}

func cloneChallenge(ch domain.Challenge) domain.Challenge {
	ch.DailyHistory = ch.DailyHistory.Clone()
	return ch
}

func (r *fakeChallengeRepo) put(ch domain.Challenge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ch.ID] = cloneChallenge(ch)
}

func (r *fakeChallengeRepo) Get(_ context.Context, id string) (domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.byID[id]
	if !ok {
		return domain.Challenge{}, domain.ErrChallengeNotFound
	}
	return cloneChallenge(ch), nil
}

func (r *fakeChallengeRepo) GetByLogin(_ context.Context, login string) (domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.byID {
		if ch.PlatformLogin == login {
			return cloneChallenge(ch), nil
		}
	}
	return domain.Challenge{}, domain.ErrChallengeNotFound
}

func (r *fakeChallengeRepo) ListByStatus(_ context.Context, statuses []domain.ChallengeStatus, limit, offset int) ([]domain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Challenge
	for _, ch := range r.byID {
		for _, st := range statuses {
			if ch.Status == st {
				out = append(out, cloneChallenge(ch))
				break
			}
		}
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeChallengeRepo) CountByStatus(ctx context.Context, statuses []domain.ChallengeStatus) (int64, error) {
	list, err := r.ListByStatus(ctx, statuses, 0, 0)
	return int64(len(list)), err
}

func (r *fakeChallengeRepo) Create(_ context.Context, ch domain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[ch.ID]; exists {
		return fmt.Errorf("challenge %s already exists", ch.ID)
	}
	r.byID[ch.ID] = cloneChallenge(ch)
	return nil
}

func (r *fakeChallengeRepo) SaveSnapshot(_ context.Context, ch domain.Challenge, day string, agg domain.DailyAggregate, ev domain.MonitoringEvent) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.byID[ch.ID]
	if !ok {
		return false, domain.ErrChallengeNotFound
	}

	// Mirrors the transactional gate: a deduplicated sync event means the
	// snapshot was already applied, so the projections stay untouched.
	if !r.events.appendNew(ev) {
		return false, nil
	}

	existing.CurrentBalance = ch.CurrentBalance
	existing.CommissionCum = ch.CommissionCum
	existing.SwapCum = ch.SwapCum
	existing.TotalProfit = ch.TotalProfit
	existing.TotalLoss = ch.TotalLoss
	existing.MaxDrawdown = ch.MaxDrawdown

	existing.DailyHistory = existing.DailyHistory.Clone()
	existing.DailyHistory[day] = agg

	r.byID[ch.ID] = existing
	return true, nil
}

func applyMutation(ch domain.Challenge, mut domain.StatusMutation) domain.Challenge {
	if mut.FailureReason != "" {
		ch.FailureReason = mut.FailureReason
	}
	if mut.PlatformLogin != "" {
		ch.PlatformLogin = mut.PlatformLogin
	}
	if mut.StartDate != nil {
		ch.StartDate = mut.StartDate
	}
	if mut.EndDate != nil {
		ch.EndDate = mut.EndDate
	}
	if mut.PassedAt != nil {
		ch.PassedAt = mut.PassedAt
	}
	if mut.FailedAt != nil {
		ch.FailedAt = mut.FailedAt
	}
	return ch
}

func (r *fakeChallengeRepo) CASStatus(_ context.Context, id string, from, to domain.ChallengeStatus, mut domain.StatusMutation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.byID[id]
	if !ok {
		return false, domain.ErrChallengeNotFound
	}
	if ch.Status != from {
		return false, nil
	}

	ch = applyMutation(ch, mut)
	ch.Status = to
	r.byID[id] = ch
	return true, nil
}

func (r *fakeChallengeRepo) FailChallenge(ctx context.Context, id string, mut domain.StatusMutation, ev domain.MonitoringEvent) (bool, error) {
	won, err := r.CASStatus(ctx, id, domain.StatusActive, domain.StatusFailed, mut)
	if err != nil || !won {
		return won, err
	}
	return true, r.events.Append(ctx, ev)
}

func (r *fakeChallengeRepo) SetDisableAck(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.byID[id]
	if !ok {
		return domain.ErrChallengeNotFound
	}
	ch.DisableAck = true
	r.byID[id] = ch
	return nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events []domain.MonitoringEvent
	byHash map[string]struct{}
	nextID int64
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{byHash: make(map[string]struct{})}
}

func (r *fakeEventRepo) Append(_ context.Context, ev domain.MonitoringEvent) error {
	r.appendNew(ev)
	return nil
}

// appendNew reports whether the event was actually stored, i.e. not
// suppressed by the natural-key dedup.
func (r *fakeEventRepo) appendNew(ev domain.MonitoringEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Hash != "" {
		if _, dup := r.byHash[ev.Hash]; dup {
			return false
		}
		r.byHash[ev.Hash] = struct{}{}
	}

	r.nextID++
	ev.ID = r.nextID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.events = append(r.events, ev)
	return true
}

func (r *fakeEventRepo) List(_ context.Context, f domain.EventFilter) ([]domain.MonitoringEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.MonitoringEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		ev := r.events[i]
		if f.ChallengeID != "" && ev.ChallengeID != f.ChallengeID {
			continue
		}
		if f.Kind != "" && ev.Kind != f.Kind {
			continue
		}
		out = append(out, ev)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeEventRepo) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, ev := range r.events {
		if ev.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeEventRepo) LastSyncAt(_ context.Context) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *time.Time
	for _, ev := range r.events {
		if ev.Kind != domain.EventSync {
			continue
		}
		at := ev.CreatedAt
		if latest == nil || at.After(*latest) {
			latest = &at
		}
	}
	return latest, nil
}

func (r *fakeEventRepo) kindCount(kind domain.EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fakeViolationRepo struct {
	mu         sync.Mutex
	violations []domain.ViolationLog
	nextID     int64
}

func (r *fakeViolationRepo) Append(_ context.Context, v domain.ViolationLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.violations {
		if existing.ChallengeID == v.ChallengeID && existing.Type == v.Type && !existing.Resolved {
			return nil
		}
	}

	r.nextID++
	v.ID = r.nextID
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	r.violations = append(r.violations, v)
	return nil
}

func (r *fakeViolationRepo) ListByChallenge(_ context.Context, challengeID string) ([]domain.ViolationLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ViolationLog
	for _, v := range r.violations {
		if v.ChallengeID == challengeID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *fakeViolationRepo) CountSince(_ context.Context, since time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.violations {
		if v.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *fakeViolationRepo) Resolve(_ context.Context, id int64, by, notes string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.violations {
		if v.ID == id {
			v.Resolved = true
			v.ResolvedBy = by
			v.Notes = notes
			v.ResolvedAt = &at
			r.violations[i] = v
			return nil
		}
	}
	return domain.ErrViolationNotFound
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts []domain.MonitoringAlert
}

func (r *fakeAlertRepo) Create(_ context.Context, a domain.MonitoringAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *fakeAlertRepo) List(_ context.Context, f domain.AlertFilter) ([]domain.MonitoringAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.MonitoringAlert
	for i := len(r.alerts) - 1; i >= 0; i-- {
		a := r.alerts[i]
		if f.ChallengeID != "" && a.ChallengeID != f.ChallengeID {
			continue
		}
		if f.Level != "" && a.Level != f.Level {
			continue
		}
		if f.Unacknowledged && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) Acknowledge(_ context.Context, id, by string, at time.Time) (domain.MonitoringAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.alerts {
		if a.ID != id {
			continue
		}
		if a.Acknowledged {
			return a, nil
		}
		a.Acknowledged = true
		a.AckBy = by
		a.AckAt = &at
		r.alerts[i] = a
		return a, nil
	}
	return domain.MonitoringAlert{}, domain.ErrAlertNotFound
}

func (r *fakeAlertRepo) kindCount(kind domain.AlertKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.alerts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu           sync.Mutex
	account      domain.AccountState
	accountErr   error
	disableErrs  []error
	disableCalls int
	creds        domain.AccountCredentials
}

func (g *fakeGateway) Account(_ context.Context, _ string) (domain.AccountState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account, g.accountErr
}

func (g *fakeGateway) Positions(_ context.Context, _ string) ([]domain.Position, error) {
	return nil, nil
}

func (g *fakeGateway) TradeHistory(_ context.Context, _ string, _, _ time.Time) ([]domain.Trade, error) {
	return nil, nil
}

func (g *fakeGateway) CreateAccount(_ context.Context, _ domain.AccountSpec) (domain.AccountCredentials, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds, nil
}

func (g *fakeGateway) UpdateBalance(_ context.Context, _ string, _ float64, _ string) error {
	return nil
}

func (g *fakeGateway) DisableAccount(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disableCalls++
	if len(g.disableErrs) > 0 {
		err := g.disableErrs[0]
		g.disableErrs = g.disableErrs[1:]
		return err
	}
	return nil
}

type fakeNotifier struct {
	mu         sync.Mutex
	dispatched []domain.MonitoringAlert
}

func (n *fakeNotifier) Dispatch(_ context.Context, alert domain.MonitoringAlert) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dispatched = append(n.dispatched, alert)
	return []string{"chat"}
}

type fakeProgramRepo struct {
	mu   sync.Mutex
	byID map[string]domain.Program
}

func newFakeProgramRepo() *fakeProgramRepo {
	return &fakeProgramRepo{byID: make(map[string]domain.Program)}
}

func (r *fakeProgramRepo) Get(_ context.Context, id string) (domain.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Program{}, fmt.Errorf("program %s not found", id)
	}
	return p, nil
}

func (r *fakeProgramRepo) Create(_ context.Context, p domain.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	return nil
}
