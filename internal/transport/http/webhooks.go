package http

import (
	"context"
	"errors"
	"time"

	fiber "github.com/gofiber/fiber/v2"

	"challenge_server/internal/domain"
)

type accountUpdateRequest struct {
	Login           string   `json:"login"`
	Balance         float64  `json:"balance"`
	Equity          *float64 `json:"equity,omitempty"`
	OpenPnL         float64  `json:"open_pnl"`
	CommissionDelta float64  `json:"commission_delta"`
	SwapDelta       float64  `json:"swap_delta"`
	TotalLoss       *float64 `json:"total_loss,omitempty"`
	Time            string   `json:"time"`
}

type dealEventRequest struct {
	Login  string `json:"login"`
	Ticket int64  `json:"ticket"`
	Action string `json:"action"`
}

// handleAccountUpdate godoc
// @Summary Push intake: balance/equity update for a platform account
// @Tags gateway
// @Accept json
// @Produce json
// @Param request body accountUpdateRequest true "Account update"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /gateway/account [post]
func (r *Router) handleAccountUpdate(c *fiber.Ctx) error {
	if r.monitor == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "monitor service unavailable")
	}

	var payload accountUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if payload.Login == "" {
		return fiber.NewError(fiber.StatusBadRequest, "login required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 5*time.Second)
	defer cancel()

	ch, err := r.monitor.ChallengeByLogin(ctx, payload.Login)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no challenge for account")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	at := time.Now()
	if payload.Time != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.Time); err == nil {
			at = parsed
		}
	}

	snap := domain.Snapshot{
		Balance:         payload.Balance,
		Equity:          payload.Equity,
		OpenPnL:         payload.OpenPnL,
		CommissionDelta: payload.CommissionDelta,
		SwapDelta:       payload.SwapDelta,
		TotalLoss:       payload.TotalLoss,
	}

	r.monitor.EnqueueSnapshot(ch.ID, snap, at)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}

// handleDeal godoc
// @Summary Push intake: trade fill or close; triggers an immediate sync
// @Tags gateway
// @Accept json
// @Produce json
// @Param request body dealEventRequest true "Deal event"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /gateway/deal [post]
func (r *Router) handleDeal(c *fiber.Ctx) error {
	return r.enqueueFreshSync(c)
}

// handlePositionUpdate godoc
// @Summary Push intake: open position mutation; triggers an immediate sync
// @Tags gateway
// @Accept json
// @Produce json
// @Param request body dealEventRequest true "Position event"
// @Success 202 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /gateway/position [post]
func (r *Router) handlePositionUpdate(c *fiber.Ctx) error {
	return r.enqueueFreshSync(c)
}

// enqueueFreshSync resolves the pushed account to its challenge and queues
// a gateway fetch; deal payloads carry no account state of their own.
func (r *Router) enqueueFreshSync(c *fiber.Ctx) error {
	if r.monitor == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "monitor service unavailable")
	}

	var payload dealEventRequest
	if err := c.BodyParser(&payload); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if payload.Login == "" {
		return fiber.NewError(fiber.StatusBadRequest, "login required")
	}

	ctx, cancel := context.WithTimeout(userContext(c), 5*time.Second)
	defer cancel()

	if err := r.monitor.EnqueueByLogin(ctx, payload.Login); err != nil {
		if errors.Is(err, domain.ErrChallengeNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "no challenge for account")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "queued"})
}
