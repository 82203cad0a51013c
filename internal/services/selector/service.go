package selector

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"cascade/internal/models"
	"cascade/internal/repositories"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type service struct {
	pools    repositories.PoolRepository
	accounts repositories.AccountRepository
	ledger   Ledger
	health   Health
	config   Config
	logger   zerolog.Logger
	metrics  MetricsCollector

	snapshots sync.Map // pool ID -> *poolSnapshot
	cursors   sync.Map // pool ID -> *atomic.Uint64
	inflight  *loadRegistry
	randInt   func(n int) int
}

// NewService creates a new account selector.
func NewService(
	pools repositories.PoolRepository,
	accounts repositories.AccountRepository,
	usage Ledger,
	tracker Health,
	config Config,
	logger zerolog.Logger,
	metrics MetricsCollector,
) Service {
	if pools == nil {
		panic("pool repository is required")
	}
	if accounts == nil {
		panic("account repository is required")
	}
	if usage == nil {
		panic("usage ledger is required")
	}
	if tracker == nil {
		panic("health tracker is required")
	}

	if config.SnapshotTTL == 0 {
		config.SnapshotTTL = DefaultSnapshotTTL
	}
	if config.MinSuccessSamples == 0 {
		config.MinSuccessSamples = DefaultMinSuccessSamples
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		pools:    pools,
		accounts: accounts,
		ledger:   usage,
		health:   tracker,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		inflight: &loadRegistry{},
		randInt:  rand.Intn,
	}
}

func (s *service) Select(ctx context.Context, poolID uint, txc *models.TransactionContext, excluded map[uint]struct{}, opts Options) (*Selection, error) {
	snap, err := s.snapshotFor(poolID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pool %d: %w", poolID, ErrPoolNotFound)
		}
		s.metrics.RecordError("selector", "snapshot")
		return nil, fmt.Errorf("failed to load pool %d: %w", poolID, err)
	}

	pool := snap.pool
	strategy := opts.Strategy
	if strategy == "" {
		strategy = pool.Strategy
	}
	if strategy == "" {
		strategy = models.StrategyWeighted
	}
	if pool.Status != models.PoolStatusActive {
		s.metrics.RecordSelection(strategy, ResultNoEligible)
		return nil, fmt.Errorf("pool %d is %s: %w", poolID, pool.Status, ErrNoEligibleAccount)
	}

	cands, dropped := s.eligible(snap, txc, excluded)
	for len(cands) > 0 {
		c := s.pick(strategy, poolID, cands, txc, opts.Simulate)
		if opts.Simulate {
			s.metrics.RecordSelection(strategy, ResultSelected)
			return &Selection{Account: c.account, PoolID: poolID, Strategy: strategy}, nil
		}

		reservation, err := s.ledger.Reserve(c.account, txc.Amount)
		if err != nil {
			// Lost the headroom to a concurrent transaction between the
			// filter peek and the reserve. Drop the candidate and re-pick.
			s.metrics.RecordSelection(strategy, ResultRaceLost)
			cands = withoutAccount(cands, c.account.ID)
			continue
		}

		s.metrics.RecordSelection(strategy, ResultSelected)
		return &Selection{
			Account:     c.account,
			PoolID:      poolID,
			Strategy:    strategy,
			Reservation: reservation,
			Load:        s.inflight.acquire(c.account.ID),
		}, nil
	}

	s.logger.Debug().
		Uint("pool_id", poolID).
		Interface("dropped", dropped).
		Msg("no eligible account after filtering")
	s.metrics.RecordSelection(strategy, ResultNoEligible)
	return nil, fmt.Errorf("pool %d: %w", poolID, ErrNoEligibleAccount)
}

// SelectAccount serves route_to_account directives. The pin bypasses
// membership and restriction filters; status, degradation and usage limits
// still hold. This path reads the account row directly rather than through
// a snapshot.
func (s *service) SelectAccount(ctx context.Context, accountID uint, txc *models.TransactionContext, opts Options) (*Selection, error) {
	account, err := s.accounts.GetByID(accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}

	if account.Status != models.AccountStatusActive {
		return nil, fmt.Errorf("account %d is %s: %w", accountID, account.Status, ErrNoEligibleAccount)
	}
	if !s.health.Eligible(accountID) {
		return nil, fmt.Errorf("account %d is degraded: %w", accountID, ErrNoEligibleAccount)
	}

	if opts.Simulate {
		if err := s.ledger.Peek(account, txc.Amount); err != nil {
			return nil, fmt.Errorf("account %d: %w: %w", accountID, ErrNoEligibleAccount, err)
		}
		return &Selection{Account: account}, nil
	}

	reservation, err := s.ledger.Reserve(account, txc.Amount)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w: %w", accountID, ErrNoEligibleAccount, err)
	}
	return &Selection{
		Account:     account,
		Reservation: reservation,
		Load:        s.inflight.acquire(accountID),
	}, nil
}

func (s *service) Pool(poolID uint) (*models.AccountPool, error) {
	snap, err := s.snapshotFor(poolID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("pool %d: %w", poolID, ErrPoolNotFound)
		}
		return nil, fmt.Errorf("failed to load pool %d: %w", poolID, err)
	}
	return snap.pool, nil
}

func (s *service) InFlight(accountID uint) int64 {
	return s.inflight.count(accountID)
}

func (s *service) InvalidatePool(poolID uint) {
	s.snapshots.Delete(poolID)
}

func (s *service) InvalidateMerchant(merchantID uint) {
	s.snapshots.Range(func(key, value interface{}) bool {
		if value.(*poolSnapshot).pool.MerchantID == merchantID {
			s.snapshots.Delete(key)
		}
		return true
	})
}

// eligible applies the filter chain in order and reports how many members
// each stage dropped, for the empty-result debug log.
func (s *service) eligible(snap *poolSnapshot, txc *models.TransactionContext, excluded map[uint]struct{}) ([]*candidate, map[string]int) {
	cands := make([]*candidate, 0, len(snap.members))
	dropped := make(map[string]int)
	for i := range snap.members {
		m := snap.members[i]
		if _, ok := excluded[m.account.ID]; ok {
			dropped[filterExcluded]++
			continue
		}
		if !m.membership.Enabled || m.account.Status != models.AccountStatusActive {
			dropped[filterStatus]++
			continue
		}
		if !s.health.Eligible(m.account.ID) {
			dropped[filterDegraded]++
			continue
		}
		if !restrictionsAdmit(m.account, txc) {
			dropped[filterRestrictions]++
			continue
		}
		if err := s.ledger.Peek(m.account, txc.Amount); err != nil {
			dropped[filterHeadroom]++
			continue
		}
		cands = append(cands, &candidate{account: m.account, membership: m.membership})
	}
	return cands, dropped
}

// restrictionsAdmit applies the account's routing restrictions to the
// transaction. Empty lists impose nothing; matching is case-insensitive.
func restrictionsAdmit(acc *models.MerchantAccount, txc *models.TransactionContext) bool {
	if len(acc.AllowedCountries) > 0 && !containsFold(acc.AllowedCountries, txc.Geography.Country) {
		return false
	}
	if containsFold(acc.BlockedCountries, txc.Geography.Country) {
		return false
	}
	if len(acc.AllowedCurrencies) > 0 && !containsFold(acc.AllowedCurrencies, txc.Currency) {
		return false
	}
	if len(acc.AllowedCardBrands) > 0 && !containsFold(acc.AllowedCardBrands, txc.Method.Brand) {
		return false
	}
	if containsFold(acc.BlockedCategories, txc.Product.Category) {
		return false
	}
	return true
}

func containsFold(list pq.StringArray, v string) bool {
	if v == "" {
		return false
	}
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func withoutAccount(cands []*candidate, accountID uint) []*candidate {
	out := cands[:0]
	for _, c := range cands {
		if c.account.ID != accountID {
			out = append(out, c)
		}
	}
	return out
}

func (s *service) snapshotFor(poolID uint) (*poolSnapshot, error) {
	if v, ok := s.snapshots.Load(poolID); ok {
		snap := v.(*poolSnapshot)
		if time.Since(snap.builtAt) < s.config.SnapshotTTL {
			return snap, nil
		}
	}
	return s.rebuild(poolID)
}

// rebuild loads the pool with its memberships and the member account rows,
// then atomically publishes the snapshot.
func (s *service) rebuild(poolID uint) (*poolSnapshot, error) {
	pool, err := s.pools.GetByID(poolID)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(pool.Memberships))
	for _, m := range pool.Memberships {
		ids = append(ids, m.AccountID)
	}
	accounts, err := s.accounts.ListByIDs(ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]*models.MerchantAccount, len(accounts))
	for i := range accounts {
		byID[accounts[i].ID] = &accounts[i]
	}

	snap := &poolSnapshot{builtAt: time.Now(), pool: pool}
	for _, m := range pool.Memberships {
		account, ok := byID[m.AccountID]
		if !ok {
			s.logger.Warn().
				Uint("pool_id", poolID).
				Uint("account_id", m.AccountID).
				Msg("membership references missing account")
			continue
		}
		snap.members = append(snap.members, memberAccount{membership: m, account: account})
	}

	s.snapshots.Store(poolID, snap)
	s.metrics.RecordSnapshotReload("pools")
	return snap, nil
}
