package http

import (
	"context"
	"errors"
	"strconv"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"challenge_server/internal/domain"
	"challenge_server/internal/usecase"
)

type QueryService interface {
	ListActive(ctx context.Context, f usecase.ListActiveFilter) ([]domain.ChallengeSummary, error)
	ChallengeDetail(ctx context.Context, id string) (domain.ChallengeDetail, error)
	Stats(ctx context.Context) (domain.MonitoringStats, error)
	ListAlerts(ctx context.Context, f domain.AlertFilter) ([]domain.MonitoringAlert, error)
	AcknowledgeAlert(ctx context.Context, id, by string) (domain.MonitoringAlert, error)
}

type LifecycleService interface {
	CreateChallenge(ctx context.Context, userID, programID string) (domain.Challenge, error)
	Activate(ctx context.Context, id string) (domain.Challenge, error)
	Fund(ctx context.Context, id string) (domain.Challenge, error)
	Cancel(ctx context.Context, id, reason string) (domain.Challenge, error)
	ResolveViolation(ctx context.Context, violationID int64, by, notes string) error
}

type MonitorService interface {
	EnqueueSnapshot(challengeID string, snap domain.Snapshot, at time.Time) bool
	EnqueueByLogin(ctx context.Context, login string) error
	ChallengeByLogin(ctx context.Context, login string) (domain.Challenge, error)
}

type TokenValidator interface {
	Validate(ctx context.Context, tokenID string) (bool, error)
}

type Router struct {
	app       *fiber.App
	queries   QueryService
	lifecycle LifecycleService
	monitor   MonitorService
	tokens    TokenValidator
	adminKey  string
}

func New(queries QueryService, lifecycle LifecycleService, monitor MonitorService, tokens TokenValidator, adminKey string) *Router {
	app := fiber.New()

	r := &Router{
		app:       app,
		queries:   queries,
		lifecycle: lifecycle,
		monitor:   monitor,
		tokens:    tokens,
		adminKey:  adminKey,
	}

	api := app.Group("/api")
	v1 := api.Group("/v1")

	admin := v1.Group("", r.requireAPIKey)
	admin.Get("/challenges", r.listActive)
	admin.Get("/challenges/:id", r.challengeDetail)
	admin.Post("/challenges", r.createChallenge)
	admin.Post("/challenges/:id/activate", r.activateChallenge)
	admin.Post("/challenges/:id/fund", r.fundChallenge)
	admin.Post("/challenges/:id/cancel", r.cancelChallenge)
	admin.Get("/stats", r.stats)
	admin.Get("/alerts", r.listAlerts)
	admin.Post("/alerts/:id/ack", r.acknowledgeAlert)
	admin.Post("/violations/:id/resolve", r.resolveViolation)

	// Push intake from the platform bridge.
	v1.Post("/gateway/deal", r.handleDeal)
	v1.Post("/gateway/account", r.handleAccountUpdate)
	v1.Post("/gateway/position", r.handlePositionUpdate)

	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return r
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) requireAPIKey(c *fiber.Ctx) error {
	key := c.Get("X-API-Key")
	if key == "" {
		return fiber.NewError(fiber.StatusUnauthorized, "api key required")
	}
	if r.adminKey != "" && key == r.adminKey {
		return c.Next()
	}
	if r.tokens != nil {
		ok, err := r.tokens.Validate(userContext(c), key)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "token validation failed")
		}
		if ok {
			return c.Next()
		}
	}
	return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
}

// listActive godoc
// @Summary List active challenges with risk levels
// @Tags monitoring
// @Produce json
// @Param limit query int false "Maximum number of challenges"
// @Param offset query int false "Pagination offset"
// @Param risk query string false "Filter by risk level (low|medium|high|critical)"
// @Success 200 {array} domain.ChallengeSummary
// @Failure 500 {object} map[string]string
// @Router /challenges [get]
func (r *Router) listActive(c *fiber.Ctx) error {
	if r.queries == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "query service unavailable")
	}

	f := usecase.ListActiveFilter{Limit: 100}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			f.Offset = parsed
		}
	}
	if v := c.Query("risk"); v != "" {
		f.Risk = domain.RiskLevel(v)
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	summaries, err := r.queries.ListActive(ctx, f)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(summaries)
}

// challengeDetail godoc
// @Summary Challenge drill-down: aggregate, recent events, violations
// @Tags monitoring
// @Produce json
// @Param id path string true "Challenge ID"
// @Success 200 {object} domain.ChallengeDetail
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /challenges/{id} [get]
func (r *Router) challengeDetail(c *fiber.Ctx) error {
	if r.queries == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "query service unavailable")
	}

	id := c.Params("id")
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "challenge id required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	detail, err := r.queries.ChallengeDetail(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "challenge not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(detail)
}

// stats godoc
// @Summary Fleet monitoring statistics
// @Tags monitoring
// @Produce json
// @Success 200 {object} domain.MonitoringStats
// @Failure 500 {object} map[string]string
// @Router /stats [get]
func (r *Router) stats(c *fiber.Ctx) error {
	if r.queries == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "query service unavailable")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	stats, err := r.queries.Stats(ctx)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(stats)
}

// listAlerts godoc
// @Summary List monitoring alerts
// @Tags alerts
// @Produce json
// @Param challenge_id query string false "Filter by challenge"
// @Param level query string false "Filter by level (info|warning|critical)"
// @Param unacknowledged query bool false "Only unacknowledged alerts"
// @Param limit query int false "Maximum number of alerts"
// @Success 200 {array} domain.MonitoringAlert
// @Failure 500 {object} map[string]string
// @Router /alerts [get]
func (r *Router) listAlerts(c *fiber.Ctx) error {
	if r.queries == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "query service unavailable")
	}

	f := domain.AlertFilter{
		ChallengeID: c.Query("challenge_id"),
		Level:       domain.AlertLevel(c.Query("level")),
		Limit:       100,
	}
	if v := c.Query("unacknowledged"); v == "true" || v == "1" {
		f.Unacknowledged = true
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	alerts, err := r.queries.ListAlerts(ctx, f)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(alerts)
}

type ackRequest struct {
	By string `json:"by"`
}

// acknowledgeAlert godoc
// @Summary Acknowledge an alert (idempotent)
// @Tags alerts
// @Accept json
// @Produce json
// @Param id path string true "Alert ID"
// @Param request body ackRequest true "Acknowledger"
// @Success 200 {object} domain.MonitoringAlert
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /alerts/{id}/ack [post]
func (r *Router) acknowledgeAlert(c *fiber.Ctx) error {
	if r.queries == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "query service unavailable")
	}

	id := c.Params("id")
	var payload ackRequest
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if payload.By == "" {
		return fiber.NewError(fiber.StatusBadRequest, "acknowledger required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	alert, err := r.queries.AcknowledgeAlert(ctx, id, payload.By)
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "alert not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(alert)
}

type createChallengeRequest struct {
	UserID    string `json:"user_id"`
	ProgramID string `json:"program_id"`
}

// createChallenge godoc
// @Summary Register a pending challenge
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param request body createChallengeRequest true "Challenge"
// @Success 201 {object} domain.Challenge
// @Failure 400 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /challenges [post]
func (r *Router) createChallenge(c *fiber.Ctx) error {
	if r.lifecycle == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "lifecycle service unavailable")
	}

	var payload createChallengeRequest
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	ch, err := r.lifecycle.CreateChallenge(ctx, payload.UserID, payload.ProgramID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(ch)
}

// activateChallenge godoc
// @Summary Activate a pending challenge (payment confirmed)
// @Tags lifecycle
// @Produce json
// @Param id path string true "Challenge ID"
// @Success 200 {object} domain.Challenge
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /challenges/{id}/activate [post]
func (r *Router) activateChallenge(c *fiber.Ctx) error {
	return r.transition(c, func(ctx context.Context, id string) (domain.Challenge, error) {
		return r.lifecycle.Activate(ctx, id)
	})
}

// fundChallenge godoc
// @Summary Promote a passed challenge to funded
// @Tags lifecycle
// @Produce json
// @Param id path string true "Challenge ID"
// @Success 200 {object} domain.Challenge
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /challenges/{id}/fund [post]
func (r *Router) fundChallenge(c *fiber.Ctx) error {
	return r.transition(c, func(ctx context.Context, id string) (domain.Challenge, error) {
		return r.lifecycle.Fund(ctx, id)
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// cancelChallenge godoc
// @Summary Cancel a pending or active challenge
// @Tags lifecycle
// @Accept json
// @Produce json
// @Param id path string true "Challenge ID"
// @Param request body cancelRequest false "Cancellation reason"
// @Success 200 {object} domain.Challenge
// @Failure 409 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /challenges/{id}/cancel [post]
func (r *Router) cancelChallenge(c *fiber.Ctx) error {
	var payload cancelRequest
	_ = c.BodyParser(&payload)

	return r.transition(c, func(ctx context.Context, id string) (domain.Challenge, error) {
		return r.lifecycle.Cancel(ctx, id, payload.Reason)
	})
}

func (r *Router) transition(c *fiber.Ctx, fn func(ctx context.Context, id string) (domain.Challenge, error)) error {
	if r.lifecycle == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "lifecycle service unavailable")
	}

	id := c.Params("id")
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "challenge id required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 30*time.Second)
	defer cancel()

	ch, err := fn(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrChallengeNotFound):
			return fiber.NewError(fiber.StatusNotFound, "challenge not found")
		case errors.Is(err, usecase.ErrInvalidTransition), errors.Is(err, usecase.ErrTransitionLost):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		default:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(ch)
}

type resolveRequest struct {
	By    string `json:"by"`
	Notes string `json:"notes"`
}

// resolveViolation godoc
// @Summary Resolve a violation log entry
// @Tags violations
// @Accept json
// @Produce json
// @Param id path int true "Violation ID"
// @Param request body resolveRequest true "Resolution"
// @Success 200 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /violations/{id}/resolve [post]
func (r *Router) resolveViolation(c *fiber.Ctx) error {
	if r.lifecycle == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "lifecycle service unavailable")
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid violation id")
	}

	var payload resolveRequest
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 10*time.Second)
	defer cancel()

	if err := r.lifecycle.ResolveViolation(ctx, id, payload.By, payload.Notes); err != nil {
		if errors.Is(err, domain.ErrViolationNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "violation not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{"status": "resolved"})
}

func userContext(c *fiber.Ctx) context.Context {
	if ctx := c.UserContext(); ctx != nil {
		return ctx
	}
	return context.Background()
}
