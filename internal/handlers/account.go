package handlers

import (
	"errors"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/repositories/cache"
	"cascade/internal/services/health"
	"cascade/internal/services/ledger"
	"cascade/internal/services/selector"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// AccountHandler serves provider account management on the admin surface.
// Account rows are embedded in pool snapshots, so every write invalidates
// all of the merchant's snapshots.
type AccountHandler struct {
	accounts  repositories.AccountRepository
	selector  selector.Service
	health    health.Service
	ledger    ledger.Service
	publisher InvalidationPublisher
	logger    zerolog.Logger
}

func NewAccountHandler(accounts repositories.AccountRepository, selectorSvc selector.Service, healthSvc health.Service, ledgerSvc ledger.Service, publisher InvalidationPublisher, logger zerolog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		selector:  selectorSvc,
		health:    healthSvc,
		ledger:    ledgerSvc,
		publisher: publisher,
		logger:    logger,
	}
}

type accountRequest struct {
	MerchantID    uint   `json:"merchant_id" validate:"required"`
	Provider      string `json:"provider" validate:"required"`
	Label         string `json:"label"`
	CredentialRef string `json:"credential_ref" validate:"required"`
	Status        string `json:"status"`

	DailyTxnLimit      int64   `json:"daily_txn_limit" validate:"gte=0"`
	DailyVolumeLimit   float64 `json:"daily_volume_limit" validate:"gte=0"`
	WeeklyTxnLimit     int64   `json:"weekly_txn_limit" validate:"gte=0"`
	WeeklyVolumeLimit  float64 `json:"weekly_volume_limit" validate:"gte=0"`
	MonthlyTxnLimit    int64   `json:"monthly_txn_limit" validate:"gte=0"`
	MonthlyVolumeLimit float64 `json:"monthly_volume_limit" validate:"gte=0"`
	YearlyTxnLimit     int64   `json:"yearly_txn_limit" validate:"gte=0"`
	YearlyVolumeLimit  float64 `json:"yearly_volume_limit" validate:"gte=0"`

	FeePercent float64     `json:"fee_percent" validate:"gte=0"`
	FeeFixed   float64     `json:"fee_fixed" validate:"gte=0"`
	BrandFees  models.JSON `json:"brand_fees"`

	AllowedCountries  []string `json:"allowed_countries"`
	BlockedCountries  []string `json:"blocked_countries"`
	AllowedCurrencies []string `json:"allowed_currencies"`
	AllowedCardBrands []string `json:"allowed_card_brands"`
	BlockedCategories []string `json:"blocked_categories"`
}

func validAccountStatus(s string) bool {
	switch s {
	case models.AccountStatusActive, models.AccountStatusInactive,
		models.AccountStatusSuspended, models.AccountStatusPending,
		models.AccountStatusClosed:
		return true
	}
	return false
}

// apply copies the configurable fields onto the account, leaving the
// write-behind usage and health columns alone.
func (r *accountRequest) apply(account *models.MerchantAccount) {
	account.MerchantID = r.MerchantID
	account.Provider = r.Provider
	account.Label = r.Label
	account.CredentialRef = r.CredentialRef
	if r.Status != "" {
		account.Status = r.Status
	}

	account.DailyTxnLimit = r.DailyTxnLimit
	account.DailyVolumeLimit = r.DailyVolumeLimit
	account.WeeklyTxnLimit = r.WeeklyTxnLimit
	account.WeeklyVolumeLimit = r.WeeklyVolumeLimit
	account.MonthlyTxnLimit = r.MonthlyTxnLimit
	account.MonthlyVolumeLimit = r.MonthlyVolumeLimit
	account.YearlyTxnLimit = r.YearlyTxnLimit
	account.YearlyVolumeLimit = r.YearlyVolumeLimit

	account.FeePercent = r.FeePercent
	account.FeeFixed = r.FeeFixed
	account.BrandFees = r.BrandFees

	account.AllowedCountries = pq.StringArray(r.AllowedCountries)
	account.BlockedCountries = pq.StringArray(r.BlockedCountries)
	account.AllowedCurrencies = pq.StringArray(r.AllowedCurrencies)
	account.AllowedCardBrands = pq.StringArray(r.AllowedCardBrands)
	account.BlockedCategories = pq.StringArray(r.BlockedCategories)
}

func (h *AccountHandler) Create(c *fiber.Ctx) error {
	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if req.Status != "" && !validAccountStatus(req.Status) {
		return response.BadRequest(c, "unknown status")
	}

	account := &models.MerchantAccount{Status: models.AccountStatusPending}
	req.apply(account)

	if err := h.accounts.Create(account); err != nil {
		return response.ServerError(c, "failed to create account")
	}
	h.invalidateMerchant(c, account.MerchantID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "account created",
		"data":    account,
	})
}

func (h *AccountHandler) Update(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	var req accountRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if req.Status != "" && !validAccountStatus(req.Status) {
		return response.BadRequest(c, "unknown status")
	}

	account, err := h.accounts.GetByID(uint(accountID))
	if err != nil {
		return accountError(c, err)
	}
	if account.MerchantID != req.MerchantID {
		return response.Error(c, fiber.StatusNotFound, "account not found")
	}

	req.apply(account)
	if err := h.accounts.Update(account); err != nil {
		return response.ServerError(c, "failed to update account")
	}
	h.invalidateMerchant(c, account.MerchantID)

	return response.Success(c, "account updated", account)
}

func (h *AccountHandler) UpdateStatus(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if !validAccountStatus(req.Status) {
		return response.BadRequest(c, "unknown status")
	}

	account, err := h.accounts.GetByID(uint(accountID))
	if err != nil {
		return accountError(c, err)
	}

	if err := h.accounts.UpdateStatus(account.ID, req.Status); err != nil {
		return response.ServerError(c, "failed to update status")
	}
	// Re-activation also lifts any tracker degradation so the account is
	// selectable right away instead of waiting out a stale cooldown.
	if req.Status == models.AccountStatusActive {
		h.health.Recover(account.ID)
	}
	h.invalidateMerchant(c, account.MerchantID)

	return response.Success(c, "status updated", fiber.Map{
		"account_id": account.ID,
		"status":     req.Status,
	})
}

func (h *AccountHandler) Get(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	account, err := h.accounts.GetByID(uint(accountID))
	if err != nil {
		return accountError(c, err)
	}

	return c.JSON(account)
}

func (h *AccountHandler) List(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	accounts, err := h.accounts.ListByMerchant(merchantID)
	if err != nil {
		return response.ServerError(c, "failed to list accounts")
	}

	return c.JSON(fiber.Map{"data": accounts})
}

// GetHealth returns the live tracker stats when the account has
// observations, otherwise the persisted write-behind copy.
func (h *AccountHandler) GetHealth(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	account, err := h.accounts.GetByID(uint(accountID))
	if err != nil {
		return accountError(c, err)
	}

	if stats, ok := h.health.Snapshot(account.ID); ok {
		return c.JSON(fiber.Map{"account_id": account.ID, "live": true, "health": stats})
	}

	return c.JSON(fiber.Map{
		"account_id": account.ID,
		"live":       false,
		"health": models.AccountHealth{
			SuccessRate:  account.SuccessRate,
			AvgLatencyMS: account.AvgLatencyMS,
			HealthScore:  account.HealthScore,
		},
	})
}

// GetUsage returns the live ledger counters when the account is loaded,
// otherwise the persisted write-behind copy.
func (h *AccountHandler) GetUsage(c *fiber.Ctx) error {
	accountID, err := c.ParamsInt("id")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	account, err := h.accounts.GetByID(uint(accountID))
	if err != nil {
		return accountError(c, err)
	}

	if usage, ok := h.ledger.Usage(account.ID); ok {
		return c.JSON(fiber.Map{"account_id": account.ID, "live": true, "usage": usage, "in_flight": h.selector.InFlight(account.ID)})
	}

	return c.JSON(fiber.Map{
		"account_id": account.ID,
		"live":       false,
		"usage":      account.Usage(),
		"in_flight":  h.selector.InFlight(account.ID),
	})
}

// invalidateMerchant drops every local snapshot embedding the merchant's
// accounts, then broadcasts the invalidation.
func (h *AccountHandler) invalidateMerchant(c *fiber.Ctx, merchantID uint) {
	h.selector.InvalidateMerchant(merchantID)
	inv := cache.Invalidation{Kind: cache.InvalidatePools, MerchantID: merchantID}
	if err := h.publisher.Publish(c.UserContext(), inv); err != nil {
		h.logger.Error().Err(err).Uint("merchant_id", merchantID).Msg("publish account invalidation")
	}
}

func accountError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, selector.ErrAccountNotFound) {
		return response.Error(c, fiber.StatusNotFound, "account not found")
	}
	return response.ServerError(c, "account operation failed")
}
