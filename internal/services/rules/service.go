package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cascade/internal/models"
	"cascade/internal/repositories"
	"cascade/internal/repositories/cache"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type service struct {
	repo      repositories.RuleRepository
	pools     repositories.PoolRepository
	accounts  repositories.AccountRepository
	publisher InvalidationPublisher
	config    Config
	logger    zerolog.Logger
	metrics   MetricsCollector

	snapshots sync.Map // merchant ID -> *merchantSnapshot
}

// NewService creates a new rule engine. publisher may be nil when running a
// single instance.
func NewService(
	repo repositories.RuleRepository,
	pools repositories.PoolRepository,
	accounts repositories.AccountRepository,
	publisher InvalidationPublisher,
	config Config,
	logger zerolog.Logger,
	metrics MetricsCollector,
) Service {
	if repo == nil {
		panic("rule repository is required")
	}
	if pools == nil {
		panic("pool repository is required")
	}
	if accounts == nil {
		panic("account repository is required")
	}

	if config.MaxConditionDepth == 0 {
		config.MaxConditionDepth = DefaultMaxConditionDepth
	}
	if config.MaxConditionNodes == 0 {
		config.MaxConditionNodes = DefaultMaxConditionNodes
	}
	if config.MaxActions == 0 {
		config.MaxActions = DefaultMaxActions
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}

	return &service{
		repo:      repo,
		pools:     pools,
		accounts:  accounts,
		publisher: publisher,
		config:    config,
		logger:    logger,
		metrics:   metrics,
	}
}

func (s *service) Evaluate(ctx context.Context, merchant *models.Merchant, txc *models.TransactionContext, now time.Time) (*Directive, error) {
	start := time.Now()

	snap, err := s.snapshotFor(merchant.ID)
	if err != nil {
		s.metrics.RecordError("rules", "snapshot")
		return nil, fmt.Errorf("failed to load rule snapshot: %w", err)
	}

	for _, rule := range snap.rules {
		if !rule.schedule.Active(now) {
			continue
		}

		matched, evalErr := rule.match(txc, now)
		if evalErr != nil {
			s.logger.Warn().
				Err(evalErr).
				Uint("rule_id", rule.id).
				Uint("merchant_id", merchant.ID).
				Msg("condition evaluation error")
			s.metrics.RecordError("rules", "evaluation")
		}
		if !matched {
			continue
		}

		d := applyActions(rule, merchant)
		d.EvalTime = time.Since(start)
		s.metrics.RecordEvaluation(ResultMatch, d.EvalTime)
		return d, nil
	}

	d := &Directive{}
	if merchant.DefaultPoolID != nil {
		d.PoolID = *merchant.DefaultPoolID
	}
	d.EvalTime = time.Since(start)
	s.metrics.RecordEvaluation(ResultFallback, d.EvalTime)
	return d, nil
}

// applyActions runs the matched rule's action list in order. Non-terminal
// actions accumulate onto the directive; the first terminal action sets the
// target and stops. A list with no terminal action targets the merchant's
// default pool.
func applyActions(rule *compiledRule, merchant *models.Merchant) *Directive {
	d := &Directive{
		Rule: &MatchedRule{
			ID:       rule.id,
			Version:  rule.version,
			Name:     rule.name,
			Priority: rule.priority,
		},
	}

	for _, a := range rule.actions {
		d.AppliedActions = append(d.AppliedActions, a)
		switch a.Type {
		case models.ActionBlock:
			d.Blocked = true
			d.BlockReason = a.Reason
			return d
		case models.ActionRouteToPool:
			d.PoolID = a.PoolID
			d.Strategy = a.Strategy
			return d
		case models.ActionRouteToAccount:
			d.AccountID = a.AccountID
			return d
		case models.ActionSurcharge:
			d.SurchargePct = a.Percent
			d.SurchargeCap = a.Cap
		case models.ActionDiscount:
			d.DiscountPct = a.Percent
		case models.ActionRequireStepUp:
			d.StepUpLevel = a.Level
		case models.ActionFlagForReview:
			d.FlagForReview = true
		case models.ActionAnnotate:
			if d.Annotations == nil {
				d.Annotations = make(map[string]string)
			}
			d.Annotations[a.Key] = a.Value
		}
	}

	if merchant.DefaultPoolID != nil {
		d.PoolID = *merchant.DefaultPoolID
	}
	return d
}

func (s *service) snapshotFor(merchantID uint) (*merchantSnapshot, error) {
	if v, ok := s.snapshots.Load(merchantID); ok {
		return v.(*merchantSnapshot), nil
	}
	return s.rebuild(merchantID)
}

// rebuild compiles the merchant's active rules and atomically publishes the
// snapshot. Rules that fail to compile are skipped so one corrupted row
// cannot take routing down.
func (s *service) rebuild(merchantID uint) (*merchantSnapshot, error) {
	rows, err := s.repo.ListActiveByMerchant(merchantID)
	if err != nil {
		return nil, err
	}

	snap := &merchantSnapshot{builtAt: time.Now()}
	for i := range rows {
		compiled, err := compileRule(&rows[i])
		if err != nil {
			s.logger.Error().
				Err(err).
				Uint("rule_id", rows[i].ID).
				Uint("merchant_id", merchantID).
				Msg("rule failed to compile, skipping")
			s.metrics.RecordError("rules", "compile")
			continue
		}
		snap.rules = append(snap.rules, compiled)
	}
	sort.SliceStable(snap.rules, func(i, j int) bool {
		return snap.rules[i].priority < snap.rules[j].priority
	})

	s.snapshots.Store(merchantID, snap)
	s.metrics.RecordSnapshotReload("rules")
	return snap, nil
}

func (s *service) Invalidate(merchantID uint) {
	s.snapshots.Delete(merchantID)
}

func (s *service) Create(ctx context.Context, rule *models.RoutingRule) error {
	if err := s.validate(rule); err != nil {
		return err
	}
	if err := s.validateReferences(rule); err != nil {
		return err
	}
	if err := s.repo.Create(rule); err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	s.invalidateAndBroadcast(ctx, rule.MerchantID)
	return nil
}

func (s *service) Update(ctx context.Context, rule *models.RoutingRule) error {
	existing, err := s.repo.GetByID(rule.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("failed to load rule: %w", err)
	}
	if existing.MerchantID != rule.MerchantID {
		return ErrRuleNotFound
	}

	if err := s.validate(rule); err != nil {
		return err
	}
	if err := s.validateReferences(rule); err != nil {
		return err
	}

	// The repository bumps from the stored version, not whatever the
	// caller carried.
	rule.Version = existing.Version
	rule.CreatedAt = existing.CreatedAt
	if err := s.repo.Update(rule); err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	s.invalidateAndBroadcast(ctx, rule.MerchantID)
	return nil
}

func (s *service) Delete(ctx context.Context, merchantID, ruleID uint) error {
	existing, err := s.repo.GetByID(ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("failed to load rule: %w", err)
	}
	if existing.MerchantID != merchantID {
		return ErrRuleNotFound
	}

	if err := s.repo.Delete(ruleID); err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	s.invalidateAndBroadcast(ctx, merchantID)
	return nil
}

func (s *service) Get(merchantID, ruleID uint) (*models.RoutingRule, error) {
	rule, err := s.repo.GetByID(ruleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	if rule.MerchantID != merchantID {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func (s *service) List(merchantID uint) ([]models.RoutingRule, error) {
	return s.repo.ListByMerchant(merchantID)
}

func (s *service) ListVersions(merchantID, ruleID uint) ([]models.RuleVersion, error) {
	if _, err := s.Get(merchantID, ruleID); err != nil {
		return nil, err
	}
	return s.repo.ListVersions(ruleID)
}

// validateReferences checks that routing targets exist and belong to the
// rule's merchant. Referential problems are write-time errors like any
// other definition problem.
func (s *service) validateReferences(rule *models.RoutingRule) error {
	for _, a := range rule.Actions {
		switch a.Type {
		case models.ActionRouteToPool:
			pool, err := s.pools.GetByID(a.PoolID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return invalid("actions", "pool %d not found", a.PoolID)
				}
				return fmt.Errorf("failed to check pool %d: %w", a.PoolID, err)
			}
			if pool.MerchantID != rule.MerchantID {
				return invalid("actions", "pool %d belongs to another merchant", a.PoolID)
			}
		case models.ActionRouteToAccount:
			account, err := s.accounts.GetByID(a.AccountID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return invalid("actions", "account %d not found", a.AccountID)
				}
				return fmt.Errorf("failed to check account %d: %w", a.AccountID, err)
			}
			if account.MerchantID != rule.MerchantID {
				return invalid("actions", "account %d belongs to another merchant", a.AccountID)
			}
		}
	}
	return nil
}

func (s *service) invalidateAndBroadcast(ctx context.Context, merchantID uint) {
	s.snapshots.Delete(merchantID)

	if s.publisher == nil {
		return
	}
	inv := cache.Invalidation{Kind: cache.InvalidateRules, MerchantID: merchantID}
	if err := s.publisher.Publish(ctx, inv); err != nil {
		s.logger.Warn().
			Err(err).
			Uint("merchant_id", merchantID).
			Msg("invalidation broadcast failed")
		s.metrics.RecordError("rules", "broadcast")
	}
}
