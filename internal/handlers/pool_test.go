package handlers

import (
	"context"
	"net/http"
	"testing"

	"cascade/internal/models"
	"cascade/internal/repositories/cache"
	"cascade/internal/services/selector"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memberKey struct{ pool, account uint }

type fakePoolRepo struct {
	pools    map[uint]models.AccountPool
	members  map[memberKey]models.PoolMembership
	addCalls int
}

func (f *fakePoolRepo) GetByID(id uint) (*models.AccountPool, error) {
	p, ok := f.pools[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := p
	return &cp, nil
}

func (f *fakePoolRepo) ListByMerchant(uint) ([]models.AccountPool, error) { return nil, nil }
func (f *fakePoolRepo) Create(*models.AccountPool) error                  { return nil }
func (f *fakePoolRepo) Update(*models.AccountPool) error                  { return nil }
func (f *fakePoolRepo) Delete(uint) error                                 { return nil }

func (f *fakePoolRepo) AddMember(m *models.PoolMembership) error {
	f.addCalls++
	f.members[memberKey{m.PoolID, m.AccountID}] = *m
	return nil
}

func (f *fakePoolRepo) UpdateMember(m *models.PoolMembership) error {
	f.members[memberKey{m.PoolID, m.AccountID}] = *m
	return nil
}

func (f *fakePoolRepo) RemoveMember(poolID, accountID uint) error {
	delete(f.members, memberKey{poolID, accountID})
	return nil
}

func (f *fakePoolRepo) GetMember(poolID, accountID uint) (*models.PoolMembership, error) {
	m, ok := f.members[memberKey{poolID, accountID}]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := m
	return &cp, nil
}

type fakeAccountRepo struct {
	accounts map[uint]models.MerchantAccount
}

func (f *fakeAccountRepo) GetByID(id uint) (*models.MerchantAccount, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := a
	return &cp, nil
}

func (f *fakeAccountRepo) ListByMerchant(uint) ([]models.MerchantAccount, error) { return nil, nil }
func (f *fakeAccountRepo) ListByIDs([]uint) ([]models.MerchantAccount, error)    { return nil, nil }
func (f *fakeAccountRepo) ListAll() ([]models.MerchantAccount, error)            { return nil, nil }
func (f *fakeAccountRepo) Create(*models.MerchantAccount) error                  { return nil }
func (f *fakeAccountRepo) Update(*models.MerchantAccount) error                  { return nil }
func (f *fakeAccountRepo) UpdateStatus(uint, string) error                       { return nil }
func (f *fakeAccountRepo) FlushUsage(uint, models.AccountUsage) error            { return nil }
func (f *fakeAccountRepo) FlushHealth(uint, models.AccountHealth) error          { return nil }

type fakeSelector struct {
	invalidatedPools []uint
}

func (f *fakeSelector) Select(context.Context, uint, *models.TransactionContext, map[uint]struct{}, selector.Options) (*selector.Selection, error) {
	return nil, selector.ErrNoEligibleAccount
}

func (f *fakeSelector) SelectAccount(context.Context, uint, *models.TransactionContext, selector.Options) (*selector.Selection, error) {
	return nil, selector.ErrNoEligibleAccount
}

func (f *fakeSelector) Pool(uint) (*models.AccountPool, error) { return nil, selector.ErrPoolNotFound }
func (f *fakeSelector) InFlight(uint) int64                    { return 0 }

func (f *fakeSelector) InvalidatePool(poolID uint) {
	f.invalidatedPools = append(f.invalidatedPools, poolID)
}

func (f *fakeSelector) InvalidateMerchant(uint) {}

type fakePublisher struct {
	published []cache.Invalidation
}

func (f *fakePublisher) Publish(_ context.Context, inv cache.Invalidation) error {
	f.published = append(f.published, inv)
	return nil
}

func seededPoolRepo() *fakePoolRepo {
	return &fakePoolRepo{
		pools: map[uint]models.AccountPool{
			5: {ID: 5, MerchantID: 1, Name: "primary"},
		},
		members: map[memberKey]models.PoolMembership{
			{5, 31}: {PoolID: 5, AccountID: 31, Weight: 60, Priority: 2, Enabled: true},
		},
	}
}

func newPoolApp(pools *fakePoolRepo, accounts *fakeAccountRepo) (*fiber.App, *fakeSelector) {
	sel := &fakeSelector{}
	h := NewPoolHandler(pools, accounts, sel, &fakePublisher{}, zerolog.Nop())

	app := fiber.New()
	app.Post("/pools/:id/members", h.AddMember)
	app.Put("/pools/:id/members/:accountId", h.UpdateMember)
	return app, sel
}

func TestAddMemberDefaultsWeight(t *testing.T) {
	pools := seededPoolRepo()
	accounts := &fakeAccountRepo{accounts: map[uint]models.MerchantAccount{
		32: {ID: 32, MerchantID: 1, Label: "adyen-eu"},
	}}
	app, sel := newPoolApp(pools, accounts)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/pools/5/members", map[string]interface{}{
		"account_id": 32,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	m, err := pools.GetMember(5, 32)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Weight)
	assert.True(t, m.Enabled)
	assert.Equal(t, []uint{5}, sel.invalidatedPools)
}

func TestAddMemberRejectsWeightOutOfRange(t *testing.T) {
	pools := seededPoolRepo()
	accounts := &fakeAccountRepo{accounts: map[uint]models.MerchantAccount{
		32: {ID: 32, MerchantID: 1, Label: "adyen-eu"},
	}}
	app, _ := newPoolApp(pools, accounts)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/pools/5/members", map[string]interface{}{
		"account_id": 32,
		"weight":     150,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, pools.addCalls)
}

func TestAddMemberChecksMerchantOwnership(t *testing.T) {
	pools := seededPoolRepo()
	accounts := &fakeAccountRepo{accounts: map[uint]models.MerchantAccount{
		40: {ID: 40, MerchantID: 9, Label: "foreign"},
	}}
	app, _ := newPoolApp(pools, accounts)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/pools/5/members", map[string]interface{}{
		"account_id": 40,
		"weight":     10,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Zero(t, pools.addCalls)
}

func TestUpdateMemberKeepsOmittedFields(t *testing.T) {
	pools := seededPoolRepo()
	app, sel := newPoolApp(pools, &fakeAccountRepo{})

	resp, err := app.Test(jsonRequest(http.MethodPut, "/pools/5/members/31", map[string]interface{}{
		"weight": 80,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	m, err := pools.GetMember(5, 31)
	require.NoError(t, err)
	assert.Equal(t, 80, m.Weight)
	assert.Equal(t, 2, m.Priority, "omitted priority must keep its value")
	assert.True(t, m.Enabled)
	assert.Equal(t, []uint{5}, sel.invalidatedPools)
}

func TestUpdateMemberAppliesExplicitZeroes(t *testing.T) {
	pools := seededPoolRepo()
	app, _ := newPoolApp(pools, &fakeAccountRepo{})

	resp, err := app.Test(jsonRequest(http.MethodPut, "/pools/5/members/31", map[string]interface{}{
		"weight":   0,
		"priority": 0,
		"enabled":  false,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	m, err := pools.GetMember(5, 31)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Weight)
	assert.Equal(t, 0, m.Priority)
	assert.False(t, m.Enabled)
}

func TestUpdateMemberRejectsWeightOutOfRange(t *testing.T) {
	pools := seededPoolRepo()
	app, _ := newPoolApp(pools, &fakeAccountRepo{})

	resp, err := app.Test(jsonRequest(http.MethodPut, "/pools/5/members/31", map[string]interface{}{
		"weight": 101,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	m, err := pools.GetMember(5, 31)
	require.NoError(t, err)
	assert.Equal(t, 60, m.Weight, "rejected update must not change the member")
}
