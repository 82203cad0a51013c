package handlers

import (
	"errors"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/services/auth"
	"cascade/internal/utils/pagination"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// MerchantHandler serves merchant management on the admin surface,
// including service key issuance for the merchant's integrations.
type MerchantHandler struct {
	merchants repositories.MerchantRepository
	auth      auth.Service
}

func NewMerchantHandler(merchants repositories.MerchantRepository, authSvc auth.Service) *MerchantHandler {
	return &MerchantHandler{
		merchants: merchants,
		auth:      authSvc,
	}
}

type merchantRequest struct {
	Name          string      `json:"name" validate:"required"`
	Status        string      `json:"status"`
	DefaultPoolID *uint       `json:"default_pool_id"`
	Metadata      models.JSON `json:"metadata"`
}

func validMerchantStatus(s string) bool {
	switch s {
	case models.MerchantStatusActive, models.MerchantStatusSuspended, models.MerchantStatusClosed:
		return true
	}
	return false
}

func (h *MerchantHandler) Create(c *fiber.Ctx) error {
	var req merchantRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if req.Status != "" && !validMerchantStatus(req.Status) {
		return response.BadRequest(c, "unknown status")
	}

	merchant := &models.Merchant{
		Name:          req.Name,
		Status:        req.Status,
		DefaultPoolID: req.DefaultPoolID,
		Metadata:      req.Metadata,
	}
	if merchant.Status == "" {
		merchant.Status = models.MerchantStatusActive
	}

	if err := h.merchants.Create(merchant); err != nil {
		return response.ServerError(c, "failed to create merchant")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "merchant created",
		"data":    merchant,
	})
}

func (h *MerchantHandler) Update(c *fiber.Ctx) error {
	merchantID, err := c.ParamsInt("id")
	if err != nil || merchantID <= 0 {
		return response.BadRequest(c, "invalid merchant id")
	}

	var req merchantRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if req.Status != "" && !validMerchantStatus(req.Status) {
		return response.BadRequest(c, "unknown status")
	}

	merchant, err := h.merchants.GetByID(uint(merchantID))
	if err != nil {
		return merchantError(c, err)
	}

	merchant.Name = req.Name
	if req.Status != "" {
		merchant.Status = req.Status
	}
	merchant.DefaultPoolID = req.DefaultPoolID
	merchant.Metadata = req.Metadata

	if err := h.merchants.Update(merchant); err != nil {
		return response.ServerError(c, "failed to update merchant")
	}

	return response.Success(c, "merchant updated", merchant)
}

func (h *MerchantHandler) Get(c *fiber.Ctx) error {
	merchantID, err := c.ParamsInt("id")
	if err != nil || merchantID <= 0 {
		return response.BadRequest(c, "invalid merchant id")
	}

	merchant, err := h.merchants.GetByID(uint(merchantID))
	if err != nil {
		return merchantError(c, err)
	}

	return c.JSON(merchant)
}

func (h *MerchantHandler) List(c *fiber.Ctx) error {
	p := pagination.ParseFromRequest(c)

	merchants, total, err := h.merchants.List(p.Limit, p.Offset)
	if err != nil {
		return response.ServerError(c, "failed to list merchants")
	}
	p.Total = total

	return c.JSON(pagination.Response(p, merchants))
}

// CreateServiceKey mints a key for the merchant. The plaintext appears in
// this response and nowhere else.
func (h *MerchantHandler) CreateServiceKey(c *fiber.Ctx) error {
	merchantID, err := c.ParamsInt("id")
	if err != nil || merchantID <= 0 {
		return response.BadRequest(c, "invalid merchant id")
	}

	var req struct {
		Label string `json:"label"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}

	merchant, err := h.merchants.GetByID(uint(merchantID))
	if err != nil {
		return merchantError(c, err)
	}

	plaintext, key, err := h.auth.CreateServiceKey(merchant.ID, req.Label)
	if err != nil {
		return response.ServerError(c, "failed to create service key")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "service key created",
		"data": fiber.Map{
			"id":     key.ID,
			"prefix": key.Prefix,
			"label":  key.Label,
			"key":    plaintext,
		},
	})
}

func (h *MerchantHandler) RevokeServiceKey(c *fiber.Ctx) error {
	keyID, err := c.ParamsInt("id")
	if err != nil || keyID <= 0 {
		return response.BadRequest(c, "invalid key id")
	}

	if err := h.auth.RevokeServiceKey(uint(keyID)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.Error(c, fiber.StatusNotFound, "service key not found")
		}
		return response.ServerError(c, "failed to revoke service key")
	}

	return response.Success(c, "service key revoked", nil)
}

func merchantError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return response.Error(c, fiber.StatusNotFound, "merchant not found")
	}
	return response.ServerError(c, "merchant operation failed")
}
