package handlers

import (
	"context"
	"errors"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/repositories/cache"
	"cascade/internal/services/selector"
	"cascade/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// InvalidationPublisher broadcasts snapshot invalidations to the other
// instances after an admin write.
type InvalidationPublisher interface {
	Publish(ctx context.Context, inv cache.Invalidation) error
}

// PoolHandler serves pool and membership management on the admin surface.
// Every write drops the affected selector snapshot synchronously before
// responding, then broadcasts the invalidation.
type PoolHandler struct {
	pools     repositories.PoolRepository
	accounts  repositories.AccountRepository
	selector  selector.Service
	publisher InvalidationPublisher
	logger    zerolog.Logger
}

func NewPoolHandler(pools repositories.PoolRepository, accounts repositories.AccountRepository, selectorSvc selector.Service, publisher InvalidationPublisher, logger zerolog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:     pools,
		accounts:  accounts,
		selector:  selectorSvc,
		publisher: publisher,
		logger:    logger,
	}
}

type poolRequest struct {
	MerchantID       uint   `json:"merchant_id" validate:"required"`
	Name             string `json:"name" validate:"required"`
	Strategy         string `json:"strategy"`
	Status           string `json:"status"`
	FailoverEnabled  *bool  `json:"failover_enabled"`
	MaxAttempts      int    `json:"max_attempts" validate:"gte=0"`
	ExclusionSeconds int    `json:"exclusion_seconds" validate:"gte=0"`
}

func (r *poolRequest) validateFields() error {
	if r.Strategy != "" && !models.ValidStrategy(r.Strategy) {
		return errors.New("unknown strategy")
	}
	if r.Status != "" && r.Status != models.PoolStatusActive && r.Status != models.PoolStatusDisabled {
		return errors.New("unknown status")
	}
	return nil
}

func (r *poolRequest) pool() *models.AccountPool {
	pool := &models.AccountPool{
		MerchantID:       r.MerchantID,
		Name:             r.Name,
		Strategy:         r.Strategy,
		Status:           r.Status,
		FailoverEnabled:  true,
		MaxAttempts:      r.MaxAttempts,
		ExclusionSeconds: r.ExclusionSeconds,
	}
	if pool.Strategy == "" {
		pool.Strategy = models.StrategyWeighted
	}
	if pool.Status == "" {
		pool.Status = models.PoolStatusActive
	}
	if r.FailoverEnabled != nil {
		pool.FailoverEnabled = *r.FailoverEnabled
	}
	if pool.MaxAttempts == 0 {
		pool.MaxAttempts = 3
	}
	if pool.ExclusionSeconds == 0 {
		pool.ExclusionSeconds = 300
	}
	return pool
}

func (h *PoolHandler) Create(c *fiber.Ctx) error {
	var req poolRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if err := req.validateFields(); err != nil {
		return response.BadRequest(c, err.Error())
	}

	pool := req.pool()
	if err := h.pools.Create(pool); err != nil {
		return response.ServerError(c, "failed to create pool")
	}
	h.invalidatePool(c, pool.ID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "pool created",
		"data":    pool,
	})
}

func (h *PoolHandler) Update(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}

	var req poolRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}
	if err := req.validateFields(); err != nil {
		return response.BadRequest(c, err.Error())
	}

	existing, err := h.pools.GetByID(uint(poolID))
	if err != nil {
		return poolError(c, err)
	}
	if existing.MerchantID != req.MerchantID {
		return response.Error(c, fiber.StatusNotFound, "pool not found")
	}

	pool := req.pool()
	pool.ID = existing.ID
	pool.CreatedAt = existing.CreatedAt
	if err := h.pools.Update(pool); err != nil {
		return response.ServerError(c, "failed to update pool")
	}
	h.invalidatePool(c, pool.ID)

	return response.Success(c, "pool updated", pool)
}

func (h *PoolHandler) Delete(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}

	if err := h.pools.Delete(uint(poolID)); err != nil {
		return poolError(c, err)
	}
	h.invalidatePool(c, uint(poolID))

	return response.Success(c, "pool deleted", nil)
}

func (h *PoolHandler) Get(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}

	pool, err := h.pools.GetByID(uint(poolID))
	if err != nil {
		return poolError(c, err)
	}

	return c.JSON(pool)
}

func (h *PoolHandler) List(c *fiber.Ctx) error {
	merchantID, err := merchantIDQuery(c)
	if err != nil {
		return response.BadRequest(c, "merchant_id is required")
	}

	pools, err := h.pools.ListByMerchant(merchantID)
	if err != nil {
		return response.ServerError(c, "failed to list pools")
	}

	return c.JSON(fiber.Map{"data": pools})
}

type memberRequest struct {
	AccountID uint  `json:"account_id" validate:"required"`
	Weight    int   `json:"weight" validate:"gte=0,lte=100"`
	Priority  int   `json:"priority" validate:"gte=0"`
	Enabled   *bool `json:"enabled"`
}

// memberUpdateRequest is a partial update: only fields present in the body
// are applied.
type memberUpdateRequest struct {
	Weight   *int  `json:"weight" validate:"omitempty,gte=0,lte=100"`
	Priority *int  `json:"priority" validate:"omitempty,gte=0"`
	Enabled  *bool `json:"enabled"`
}

func (h *PoolHandler) AddMember(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}

	var req memberRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	pool, err := h.pools.GetByID(uint(poolID))
	if err != nil {
		return poolError(c, err)
	}
	account, err := h.accounts.GetByID(req.AccountID)
	if err != nil {
		return response.Error(c, fiber.StatusNotFound, "account not found")
	}
	if account.MerchantID != pool.MerchantID {
		return response.Error(c, fiber.StatusUnprocessableEntity, "account belongs to a different merchant")
	}

	member := &models.PoolMembership{
		PoolID:    pool.ID,
		AccountID: req.AccountID,
		Weight:    req.Weight,
		Priority:  req.Priority,
		Enabled:   true,
	}
	if member.Weight == 0 {
		member.Weight = 1
	}
	if req.Enabled != nil {
		member.Enabled = *req.Enabled
	}

	if err := h.pools.AddMember(member); err != nil {
		return response.ServerError(c, "failed to add member")
	}
	h.invalidatePool(c, pool.ID)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "member added",
		"data":    member,
	})
}

func (h *PoolHandler) UpdateMember(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}
	accountID, err := c.ParamsInt("accountId")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	var req memberUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request format")
	}
	if err := validate.Struct(&req); err != nil {
		return response.ValidationError(c, err.Error())
	}

	member, err := h.pools.GetMember(uint(poolID), uint(accountID))
	if err != nil {
		return poolError(c, err)
	}

	if req.Weight != nil {
		member.Weight = *req.Weight
	}
	if req.Priority != nil {
		member.Priority = *req.Priority
	}
	if req.Enabled != nil {
		member.Enabled = *req.Enabled
	}

	if err := h.pools.UpdateMember(member); err != nil {
		return response.ServerError(c, "failed to update member")
	}
	h.invalidatePool(c, uint(poolID))

	return response.Success(c, "member updated", member)
}

func (h *PoolHandler) RemoveMember(c *fiber.Ctx) error {
	poolID, err := c.ParamsInt("id")
	if err != nil || poolID <= 0 {
		return response.BadRequest(c, "invalid pool id")
	}
	accountID, err := c.ParamsInt("accountId")
	if err != nil || accountID <= 0 {
		return response.BadRequest(c, "invalid account id")
	}

	if err := h.pools.RemoveMember(uint(poolID), uint(accountID)); err != nil {
		return poolError(c, err)
	}
	h.invalidatePool(c, uint(poolID))

	return response.Success(c, "member removed", nil)
}

// invalidatePool drops the local snapshot synchronously; the broadcast to
// other instances is best effort.
func (h *PoolHandler) invalidatePool(c *fiber.Ctx, poolID uint) {
	h.selector.InvalidatePool(poolID)
	inv := cache.Invalidation{Kind: cache.InvalidatePools, PoolID: poolID}
	if err := h.publisher.Publish(c.UserContext(), inv); err != nil {
		h.logger.Error().Err(err).Uint("pool_id", poolID).Msg("publish pool invalidation")
	}
}

func poolError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, selector.ErrPoolNotFound):
		return response.Error(c, fiber.StatusNotFound, "pool not found")
	}
	return response.ServerError(c, "pool operation failed")
}
