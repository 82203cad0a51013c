package selector

import (
	"math"
	"strings"
	"sync/atomic"

	"cascade/internal/models"
)

// pick hands the filtered candidates to the pool's strategy. Candidates is
// never empty here. Unknown strategy values fall back to weighted, the
// pool model's default.
func (s *service) pick(strategy string, poolID uint, cands []*candidate, txc *models.TransactionContext, simulate bool) *candidate {
	switch strategy {
	case models.StrategyRoundRobin:
		return s.pickRoundRobin(poolID, cands, simulate)
	case models.StrategyCapacity:
		return s.pickCapacity(cands)
	case models.StrategyLowestCost:
		return pickLowestCost(cands, txc)
	case models.StrategyLeastLoad:
		return s.pickLeastLoad(cands)
	case models.StrategyHighestSuccess:
		return s.pickHighestSuccess(cands)
	default:
		return s.pickWeighted(cands)
	}
}

// tieBreak reports whether a beats b when a strategy scores them equal:
// higher weight, then lower priority value, then lower account ID. The last
// term makes every deterministic strategy fully deterministic.
func tieBreak(a, b *candidate) bool {
	if a.membership.Weight != b.membership.Weight {
		return a.membership.Weight > b.membership.Weight
	}
	if a.membership.Priority != b.membership.Priority {
		return a.membership.Priority < b.membership.Priority
	}
	return a.account.ID < b.account.ID
}

// pickWeighted draws proportionally to membership weight. Weights need not
// sum to anything in particular; non-positive weights are draw-ineligible
// unless every weight is non-positive, in which case the draw is uniform.
func (s *service) pickWeighted(cands []*candidate) *candidate {
	total := 0
	for _, c := range cands {
		if w := c.membership.Weight; w > 0 {
			total += w
		}
	}
	if total == 0 {
		return cands[s.randInt(len(cands))]
	}

	r := s.randInt(total)
	for _, c := range cands {
		w := c.membership.Weight
		if w <= 0 {
			continue
		}
		if r < w {
			return c
		}
		r -= w
	}
	return cands[len(cands)-1]
}

// pickRoundRobin rotates a pool-scoped cursor over the filtered candidate
// list. The cursor is never reset when candidates are filtered out, so
// fairness holds over time rather than within any one filtered view.
func (s *service) pickRoundRobin(poolID uint, cands []*candidate, simulate bool) *candidate {
	cursor := s.cursorFor(poolID)
	var n uint64
	if simulate {
		n = cursor.Load()
	} else {
		n = cursor.Add(1) - 1
	}
	return cands[n%uint64(len(cands))]
}

func (s *service) cursorFor(poolID uint) *atomic.Uint64 {
	if v, ok := s.cursors.Load(poolID); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := s.cursors.LoadOrStore(poolID, &atomic.Uint64{})
	return v.(*atomic.Uint64)
}

// pickCapacity takes the account with the most remaining volume headroom,
// the minimum of limit minus live usage across its volume-limited windows.
// Unlimited accounts score infinite and win on weight among themselves.
// Transaction-count limits stay out of the score; they are enforced by the
// ledger filter and are not commensurable with volume.
func (s *service) pickCapacity(cands []*candidate) *candidate {
	best := cands[0]
	bestRoom := s.volumeHeadroom(best)
	for _, c := range cands[1:] {
		room := s.volumeHeadroom(c)
		if room > bestRoom || (room == bestRoom && tieBreak(c, best)) {
			best, bestRoom = c, room
		}
	}
	return best
}

func (s *service) volumeHeadroom(c *candidate) float64 {
	acc := c.account
	usage := acc.Usage()
	if live, ok := s.ledger.Usage(acc.ID); ok {
		usage = live
	}

	room := math.Inf(1)
	for _, w := range [4]struct{ limit, used float64 }{
		{acc.DailyVolumeLimit, usage.DailyVolumeUsed},
		{acc.WeeklyVolumeLimit, usage.WeeklyVolumeUsed},
		{acc.MonthlyVolumeLimit, usage.MonthlyVolumeUsed},
		{acc.YearlyVolumeLimit, usage.YearlyVolumeUsed},
	} {
		if w.limit <= 0 {
			continue
		}
		if r := w.limit - w.used; r < room {
			room = r
		}
	}
	return room
}

func pickLowestCost(cands []*candidate, txc *models.TransactionContext) *candidate {
	best := cands[0]
	bestFee := effectiveFee(best.account, txc)
	for _, c := range cands[1:] {
		fee := effectiveFee(c.account, txc)
		if fee < bestFee || (fee == bestFee && tieBreak(c, best)) {
			best, bestFee = c, fee
		}
	}
	return best
}

// effectiveFee is what routing to this account would cost: percent of the
// amount plus a fixed part, with the percent overridden per card brand when
// BrandFees carries a lowercase entry for it.
func effectiveFee(acc *models.MerchantAccount, txc *models.TransactionContext) float64 {
	pct := acc.FeePercent
	if len(acc.BrandFees) > 0 && txc.Method.Brand != "" {
		if raw, ok := acc.BrandFees[strings.ToLower(txc.Method.Brand)]; ok {
			if f, ok := raw.(float64); ok {
				pct = f
			}
		}
	}
	return txc.Amount*pct/100 + acc.FeeFixed
}

func (s *service) pickLeastLoad(cands []*candidate) *candidate {
	best := cands[0]
	bestLoad := s.inflight.count(best.account.ID)
	for _, c := range cands[1:] {
		load := s.inflight.count(c.account.ID)
		if load < bestLoad || (load == bestLoad && tieBreak(c, best)) {
			best, bestLoad = c, load
		}
	}
	return best
}

// pickHighestSuccess takes the best tracked success rate. Accounts below
// the sample floor score as the average of their meaningful peers, so a
// young account is neither punished nor rewarded for having no history.
func (s *service) pickHighestSuccess(cands []*candidate) *candidate {
	rates := make([]float64, len(cands))
	meaningful := make([]bool, len(cands))
	var sum float64
	var n int
	for i, c := range cands {
		stats, ok := s.health.Snapshot(c.account.ID)
		if ok && stats.Meaningful(s.config.MinSuccessSamples) {
			rates[i] = stats.SuccessRate
			meaningful[i] = true
			sum += stats.SuccessRate
			n++
		}
	}
	var avg float64
	if n > 0 {
		avg = sum / float64(n)
	}

	rate := func(i int) float64 {
		if meaningful[i] {
			return rates[i]
		}
		return avg
	}

	best := 0
	for i := 1; i < len(cands); i++ {
		if rate(i) > rate(best) || (rate(i) == rate(best) && tieBreak(cands[i], cands[best])) {
			best = i
		}
	}
	return cands[best]
}
