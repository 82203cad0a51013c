package handlers

import (
	"context"
	"errors"
	"time"

	"cascade/internal/models"
	"cascade/internal/services/decision"
	"cascade/internal/services/failover"
	"cascade/internal/services/router"
	"cascade/internal/services/selector"
	"cascade/internal/utils/response"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var validate = validator.New()

// RoutingHandler serves the machine-facing routing surface. Callers are
// authenticated by service key; the key's merchant scopes every lookup.
type RoutingHandler struct {
	router    router.Service
	decisions decision.Service
}

func NewRoutingHandler(routerSvc router.Service, decisionSvc decision.Service) *RoutingHandler {
	return &RoutingHandler{
		router:    routerSvc,
		decisions: decisionSvc,
	}
}

type routeRequest struct {
	Amount         float64                `json:"amount" validate:"required,gt=0"`
	Currency       string                 `json:"currency" validate:"required,len=3"`
	TransactionRef string                 `json:"transaction_ref"`
	DeadlineMS     int64                  `json:"deadline_ms" validate:"gte=0"`
	Geography      models.Geography       `json:"geography"`
	Customer       models.CustomerProfile `json:"customer"`
	Product        models.ProductInfo     `json:"product"`
	Method         models.PaymentMethod   `json:"payment_method"`
}

func (r *routeRequest) context() *models.TransactionContext {
	return &models.TransactionContext{
		Amount:         r.Amount,
		Currency:       r.Currency,
		TransactionRef: r.TransactionRef,
		Geography:      r.Geography,
		Customer:       r.Customer,
		Product:        r.Product,
		Method:         r.Method,
	}
}

type outcomeRequest struct {
	DecisionID  string `json:"decision_id" validate:"required,uuid"`
	AccountID   uint   `json:"account_id" validate:"required"`
	Success     bool   `json:"success"`
	FailureCode string `json:"failure_code"`
	LatencyMS   int64  `json:"latency_ms" validate:"gte=0"`
}

func (h *RoutingHandler) Route(c *fiber.Ctx) error {
	merchantID, ok := c.Locals("merchantID").(uint)
	if !ok {
		return response.Unauthorized(c)
	}

	var req routeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	ctx := c.UserContext()
	if req.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMS)*time.Millisecond)
		defer cancel()
	}

	result, err := h.router.RouteTransaction(ctx, merchantID, req.context())
	if err != nil {
		return routingError(c, err)
	}

	return response.Success(c, "transaction routed", result)
}

func (h *RoutingHandler) ReportOutcome(c *fiber.Ctx) error {
	merchantID, ok := c.Locals("merchantID").(uint)
	if !ok {
		return response.Unauthorized(c)
	}

	var req outcomeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	ctx := c.UserContext()

	// The decision must belong to the calling key's merchant.
	dec, err := h.decisions.Get(ctx, req.DecisionID)
	if err != nil || dec.MerchantID != merchantID {
		return response.Error(c, fiber.StatusNotFound, "unknown decision")
	}

	resolution, err := h.router.ReportOutcome(ctx, req.DecisionID, failover.Report{
		AccountID:   req.AccountID,
		Success:     req.Success,
		FailureCode: req.FailureCode,
		LatencyMS:   req.LatencyMS,
	})
	if err != nil {
		return outcomeError(c, req.DecisionID, err)
	}

	return response.Success(c, "outcome recorded", resolution)
}

func (h *RoutingHandler) Simulate(c *fiber.Ctx) error {
	merchantID, ok := c.Locals("merchantID").(uint)
	if !ok {
		return response.Unauthorized(c)
	}

	var req routeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	result, err := h.router.Simulate(c.UserContext(), merchantID, req.context())
	if err != nil {
		return routingError(c, err)
	}

	return response.Success(c, "simulation complete", result)
}

// SimulateFor is the admin-surface variant of Simulate: the merchant comes
// from the query instead of a service key.
func (h *RoutingHandler) SimulateFor(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	var req routeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	result, err := h.router.Simulate(c.UserContext(), merchantID, req.context())
	if err != nil {
		return routingError(c, err)
	}

	return response.Success(c, "simulation complete", result)
}

func (h *RoutingHandler) GetDecision(c *fiber.Ctx) error {
	merchantID, ok := c.Locals("merchantID").(uint)
	if !ok {
		return response.Unauthorized(c)
	}

	dec, err := h.decisions.Get(c.UserContext(), c.Params("id"))
	if err != nil || dec.MerchantID != merchantID {
		return response.Error(c, fiber.StatusNotFound, "unknown decision")
	}

	return c.JSON(dec)
}

func (h *RoutingHandler) GetDecisionByRef(c *fiber.Ctx) error {
	merchantID, ok := c.Locals("merchantID").(uint)
	if !ok {
		return response.Unauthorized(c)
	}

	dec, err := h.decisions.GetByRef(c.UserContext(), merchantID, c.Params("ref"))
	if err != nil {
		return response.Error(c, fiber.StatusNotFound, "unknown decision")
	}

	return c.JSON(dec)
}

// routingError maps RouteTransaction and Simulate errors onto the wire.
func routingError(c *fiber.Ctx, err error) error {
	var blocked *router.BlockedError
	if errors.As(err, &blocked) {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":       "transaction blocked",
			"reason":      blocked.Reason,
			"decision_id": blocked.DecisionID,
			"outcome":     models.OutcomeBlocked,
		})
	}

	switch {
	case errors.Is(err, router.ErrMerchantNotFound):
		return response.Error(c, fiber.StatusNotFound, "merchant not found")
	case errors.Is(err, router.ErrMerchantInactive):
		return response.Error(c, fiber.StatusForbidden, "merchant inactive")
	case errors.Is(err, router.ErrInvalidTransaction):
		return response.BadRequest(c, "invalid transaction")
	case errors.Is(err, selector.ErrNoEligibleAccount):
		return response.Error(c, fiber.StatusUnprocessableEntity, "no eligible account")
	case errors.Is(err, router.ErrTimeout):
		return response.Error(c, fiber.StatusGatewayTimeout, "routing deadline exceeded")
	}

	return response.ServerError(c, "routing failed")
}

// outcomeError maps ReportOutcome errors onto the wire. Exhaustion and
// timeout are terminal verdicts, not request failures: the report was
// accepted, so they come back as 200s describing the final outcome.
func outcomeError(c *fiber.Ctx, decisionID string, err error) error {
	var exhausted *router.ExhaustedError
	if errors.As(err, &exhausted) {
		return response.Success(c, "decision exhausted", fiber.Map{
			"decision_id":  decisionID,
			"final":        true,
			"outcome":      models.OutcomeExhausted,
			"attempts":     exhausted.Attempts,
			"last_failure": exhausted.LastFailureCode,
		})
	}

	switch {
	case errors.Is(err, router.ErrTimeout):
		return response.Success(c, "decision timed out", fiber.Map{
			"decision_id": decisionID,
			"final":       true,
			"outcome":     models.OutcomeTimeout,
		})
	case errors.Is(err, failover.ErrUnknownDecision):
		return response.Error(c, fiber.StatusNotFound, "unknown or finalized decision")
	case errors.Is(err, failover.ErrAccountMismatch):
		return response.Error(c, fiber.StatusConflict, "account does not match the current attempt")
	case errors.Is(err, gorm.ErrRecordNotFound):
		return response.Error(c, fiber.StatusNotFound, "unknown decision")
	}

	return response.ServerError(c, "outcome processing failed")
}
