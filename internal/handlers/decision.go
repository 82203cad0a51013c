package handlers

import (
	"errors"

	"cascade/internal/services/decision"
	"cascade/internal/utils/pagination"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// DecisionHandler serves the decision audit trail on the admin surface.
// Unlike the service surface, reads are not scoped to one merchant.
type DecisionHandler struct {
	decisions decision.Service
}

func NewDecisionHandler(decisionSvc decision.Service) *DecisionHandler {
	return &DecisionHandler{decisions: decisionSvc}
}

func (h *DecisionHandler) Get(c *fiber.Ctx) error {
	dec, err := h.decisions.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.Error(c, fiber.StatusNotFound, "decision not found")
		}
		return response.ServerError(c, "failed to load decision")
	}

	return c.JSON(dec)
}

func (h *DecisionHandler) List(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}
	p := pagination.ParseFromRequest(c)

	decisions, total, err := h.decisions.List(c.UserContext(), merchantID, p.Limit, p.Offset)
	if err != nil {
		return response.ServerError(c, "failed to list decisions")
	}
	p.Total = total

	return c.JSON(pagination.Response(p, decisions))
}
