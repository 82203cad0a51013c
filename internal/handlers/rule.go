package handlers

import (
	"errors"
	"strconv"

	"cascade/internal/models"
	"cascade/internal/services/rules"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// RuleHandler serves rule management on the admin surface.
type RuleHandler struct {
	rules rules.Service
}

func NewRuleHandler(rulesSvc rules.Service) *RuleHandler {
	return &RuleHandler{rules: rulesSvc}
}

type ruleRequest struct {
	MerchantID  uint                 `json:"merchant_id" validate:"required"`
	Name        string               `json:"name" validate:"required"`
	Description string               `json:"description"`
	Priority    int                  `json:"priority"`
	Active      *bool                `json:"active"`
	Conditions  models.ConditionTree `json:"conditions"`
	Actions     models.ActionList    `json:"actions" validate:"required,min=1"`
	Schedule    models.Schedule      `json:"schedule"`
}

func (r *ruleRequest) rule() *models.RoutingRule {
	rule := &models.RoutingRule{
		MerchantID:  r.MerchantID,
		Name:        r.Name,
		Description: r.Description,
		Priority:    r.Priority,
		Active:      true,
		Conditions:  r.Conditions,
		Actions:     r.Actions,
		Schedule:    r.Schedule,
	}
	if r.Active != nil {
		rule.Active = *r.Active
	}
	return rule
}

func (h *RuleHandler) Create(c *fiber.Ctx) error {
	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	rule := req.rule()
	if err := h.rules.Create(c.UserContext(), rule); err != nil {
		return ruleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "rule created",
		"data":    rule,
	})
}

func (h *RuleHandler) Update(c *fiber.Ctx) error {
	ruleID, err := c.ParamsInt("id")
	if err != nil || ruleID <= 0 {
		return response.BadRequest(c, "invalid rule id")
	}

	var req ruleRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	rule := req.rule()
	rule.ID = uint(ruleID)
	if err := h.rules.Update(c.UserContext(), rule); err != nil {
		return ruleError(c, err)
	}

	return response.Success(c, "rule updated", rule)
}

func (h *RuleHandler) Delete(c *fiber.Ctx) error {
	ruleID, err := c.ParamsInt("id")
	if err != nil || ruleID <= 0 {
		return response.BadRequest(c, "invalid rule id")
	}
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	if err := h.rules.Delete(c.UserContext(), merchantID, uint(ruleID)); err != nil {
		return ruleError(c, err)
	}

	return response.Success(c, "rule deleted", nil)
}

func (h *RuleHandler) Get(c *fiber.Ctx) error {
	ruleID, err := c.ParamsInt("id")
	if err != nil || ruleID <= 0 {
		return response.BadRequest(c, "invalid rule id")
	}
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	rule, err := h.rules.Get(merchantID, uint(ruleID))
	if err != nil {
		return ruleError(c, err)
	}

	return c.JSON(rule)
}

func (h *RuleHandler) List(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	ruleList, err := h.rules.List(merchantID)
	if err != nil {
		return response.ServerError(c, "failed to list rules")
	}

	return c.JSON(fiber.Map{"data": ruleList})
}

func (h *RuleHandler) ListVersions(c *fiber.Ctx) error {
	ruleID, err := c.ParamsInt("id")
	if err != nil || ruleID <= 0 {
		return response.BadRequest(c, "invalid rule id")
	}
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	versions, err := h.rules.ListVersions(merchantID, uint(ruleID))
	if err != nil {
		return ruleError(c, err)
	}

	return c.JSON(fiber.Map{"data": versions})
}

// Toggle flips a rule's active flag without touching its definition. The
// update still writes a version snapshot and invalidates the merchant's
// compiled rules.
func (h *RuleHandler) Toggle(c *fiber.Ctx) error {
	ruleID, err := c.ParamsInt("id")
	if err != nil || ruleID <= 0 {
		return response.BadRequest(c, "invalid rule id")
	}
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	var req struct {
		Active bool `json:"active"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}

	rule, err := h.rules.Get(merchantID, uint(ruleID))
	if err != nil {
		return ruleError(c, err)
	}

	rule.Active = req.Active
	if err := h.rules.Update(c.UserContext(), rule); err != nil {
		return ruleError(c, err)
	}

	return response.Success(c, "rule toggled", rule)
}

// Reorder reassigns priorities to a merchant's rules to match the given
// order. Priorities are spaced by ten so single rules can later be slotted
// between neighbors without another full reorder.
func (h *RuleHandler) Reorder(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	var req struct {
		Order []uint `json:"order" validate:"required,min=1"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	for i, ruleID := range req.Order {
		rule, err := h.rules.Get(merchantID, ruleID)
		if err != nil {
			return ruleError(c, err)
		}
		rule.Priority = (i + 1) * 10
		if err := h.rules.Update(c.UserContext(), rule); err != nil {
			return ruleError(c, err)
		}
	}

	ruleList, err := h.rules.List(merchantID)
	if err != nil {
		return response.ServerError(c, "failed to list rules")
	}

	return response.Success(c, "rules reordered", ruleList)
}

func ruleError(c *fiber.Ctx, err error) error {
	var verr *rules.ValidationError
	if errors.As(err, &verr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "invalid rule definition",
			"field":   verr.Field,
			"message": verr.Message,
		})
	}

	switch {
	case errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return response.Error(c, fiber.StatusNotFound, "rule not found")
	case errors.Is(err, rules.ErrInvalidRule):
		return response.BadRequest(c, err.Error())
	}

	return response.ServerError(c, "rule operation failed")
}

// merchantIDQuery reads the merchant_id query parameter shared by the
// admin list and lookup endpoints.
func merchantIDQuery(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Query("merchant_id"), 10, 32)
	if err != nil || id == 0 {
		return 0, errors.New("merchant_id is required")
	}
	return uint(id), nil
}
