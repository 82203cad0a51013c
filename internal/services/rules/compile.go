package rules

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"cascade/internal/models"
)

// compileRule turns a stored rule into its evaluated form. Parameter parsing
// happens here, once per snapshot build, so evaluation is allocation-free.
func compileRule(r *models.RoutingRule) (*compiledRule, error) {
	root := (*models.ConditionNode)(&r.Conditions)

	var match evalFunc
	if emptyNode(root) {
		// A rule without conditions is a catch-all.
		match = func(*models.TransactionContext, time.Time) (bool, error) { return true, nil }
	} else {
		var err error
		match, err = compileNode(root)
		if err != nil {
			return nil, err
		}
	}

	return &compiledRule{
		id:       r.ID,
		version:  r.Version,
		name:     r.Name,
		priority: r.Priority,
		schedule: r.Schedule,
		match:    match,
		actions:  r.Actions,
	}, nil
}

func emptyNode(n *models.ConditionNode) bool {
	return n.Kind == "" && len(n.All) == 0 && len(n.Any) == 0
}

func compileNode(node *models.ConditionNode) (evalFunc, error) {
	if node.IsGroup() {
		if node.Kind != "" {
			return nil, errors.New("node mixes a condition kind with a group")
		}
		if len(node.All) > 0 && len(node.Any) > 0 {
			return nil, errors.New("node mixes all and any groups")
		}
		if len(node.All) > 0 {
			return compileGroup(node.All, true)
		}
		return compileGroup(node.Any, false)
	}
	return compileLeaf(node)
}

// compileGroup compiles children and returns a short-circuit combinator.
// A child evaluation error makes that child false; the first error is kept
// so the caller can log it, without changing the group's result semantics.
func compileGroup(nodes []models.ConditionNode, conjunctive bool) (evalFunc, error) {
	children := make([]evalFunc, len(nodes))
	for i := range nodes {
		child, err := compileNode(&nodes[i])
		if err != nil {
			return nil, err
		}
		children[i] = child
	}

	if conjunctive {
		return func(txc *models.TransactionContext, now time.Time) (bool, error) {
			var firstErr error
			for _, child := range children {
				ok, err := child(txc, now)
				if err != nil && firstErr == nil {
					firstErr = err
				}
				if !ok {
					return false, firstErr
				}
			}
			return true, firstErr
		}, nil
	}

	return func(txc *models.TransactionContext, now time.Time) (bool, error) {
		var firstErr error
		for _, child := range children {
			ok, err := child(txc, now)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if ok {
				return true, firstErr
			}
		}
		return false, firstErr
	}, nil
}

func compileLeaf(node *models.ConditionNode) (evalFunc, error) {
	switch node.Kind {
	case models.CondAmount:
		return compileRange(node, func(txc *models.TransactionContext) (float64, error) {
			if math.IsNaN(txc.Amount) {
				return 0, errors.New("transaction amount is not a number")
			}
			return txc.Amount, nil
		})
	case models.CondCustomerTenure:
		return compileRange(node, func(txc *models.TransactionContext) (float64, error) {
			return float64(txc.Customer.TenureDays), nil
		})
	case models.CondCustomerLTV:
		return compileRange(node, func(txc *models.TransactionContext) (float64, error) {
			return txc.Customer.LifetimeValue, nil
		})

	case models.CondCurrency:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Currency })
	case models.CondCountry:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Geography.Country })
	case models.CondRegion:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Geography.Region })
	case models.CondCustomerType:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Customer.Type })
	case models.CondRiskTier:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Customer.RiskTier })
	case models.CondProductSKU:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Product.SKU })
	case models.CondProductCategory:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Product.Category })
	case models.CondCardBrand:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Method.Brand })
	case models.CondMethodType:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Method.Type })
	case models.CondWallet:
		return compileMembership(node, func(txc *models.TransactionContext) string { return txc.Method.Wallet })

	case models.CondSubscription:
		if node.Equals == nil {
			return nil, errors.New("subscription condition requires equals")
		}
		want := *node.Equals
		return func(txc *models.TransactionContext, _ time.Time) (bool, error) {
			return txc.Product.Subscription == want, nil
		}, nil
	case models.CondTrial:
		if node.Equals == nil {
			return nil, errors.New("trial condition requires equals")
		}
		want := *node.Equals
		return func(txc *models.TransactionContext, _ time.Time) (bool, error) {
			return txc.Product.Trial == want, nil
		}, nil

	case models.CondBINRange:
		return compileBINRange(node)
	case models.CondTimeOfDay:
		return compileTimeOfDay(node)
	case models.CondWeekday:
		return compileWeekday(node)
	}
	return nil, fmt.Errorf("unknown condition kind %q", node.Kind)
}

func compileRange(node *models.ConditionNode, fact func(*models.TransactionContext) (float64, error)) (evalFunc, error) {
	if node.Min == nil && node.Max == nil {
		return nil, fmt.Errorf("%s condition requires min or max", node.Kind)
	}
	min, max := node.Min, node.Max
	return func(txc *models.TransactionContext, _ time.Time) (bool, error) {
		v, err := fact(txc)
		if err != nil {
			return false, err
		}
		if min != nil && v < *min {
			return false, nil
		}
		if max != nil && v > *max {
			return false, nil
		}
		return true, nil
	}, nil
}

func compileMembership(node *models.ConditionNode, fact func(*models.TransactionContext) string) (evalFunc, error) {
	if len(node.Values) == 0 {
		return nil, fmt.Errorf("%s condition requires values", node.Kind)
	}
	set := make(map[string]struct{}, len(node.Values))
	for _, v := range node.Values {
		set[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return func(txc *models.TransactionContext, _ time.Time) (bool, error) {
		f := strings.ToUpper(strings.TrimSpace(fact(txc)))
		if f == "" {
			return false, nil
		}
		_, ok := set[f]
		return ok, nil
	}, nil
}

func compileBINRange(node *models.ConditionNode) (evalFunc, error) {
	from, to := node.From, node.To
	if err := checkBINPrefix(from); err != nil {
		return nil, err
	}
	if err := checkBINPrefix(to); err != nil {
		return nil, err
	}
	if len(from) != len(to) {
		return nil, errors.New("bin_range bounds must have equal length")
	}
	if from > to {
		return nil, errors.New("bin_range from exceeds to")
	}
	n := len(from)

	return func(txc *models.TransactionContext, _ time.Time) (bool, error) {
		bin := strings.TrimSpace(txc.Method.BIN)
		if len(bin) < n {
			return false, nil
		}
		prefix := bin[:n]
		if !digitsOnly(prefix) {
			return false, errors.New("transaction bin is not numeric")
		}
		// Same-length digit strings compare numerically as strings.
		return from <= prefix && prefix <= to, nil
	}, nil
}

func compileTimeOfDay(node *models.ConditionNode) (evalFunc, error) {
	start, err := models.ParseClock(node.From)
	if err != nil {
		return nil, fmt.Errorf("time_of_day from: %w", err)
	}
	end, err := models.ParseClock(node.To)
	if err != nil {
		return nil, fmt.Errorf("time_of_day to: %w", err)
	}
	if start == end {
		return nil, errors.New("time_of_day window is empty")
	}

	return func(_ *models.TransactionContext, now time.Time) (bool, error) {
		now = now.UTC()
		minute := now.Hour()*60 + now.Minute()
		if start < end {
			return minute >= start && minute < end, nil
		}
		// Wraps past midnight.
		return minute >= start || minute < end, nil
	}, nil
}

func compileWeekday(node *models.ConditionNode) (evalFunc, error) {
	if len(node.Values) == 0 {
		return nil, errors.New("weekday condition requires values")
	}
	set := make(map[string]struct{}, len(node.Values))
	for _, v := range node.Values {
		key := strings.ToLower(strings.TrimSpace(v))
		if !validWeekday(key) {
			return nil, fmt.Errorf("unknown weekday %q", v)
		}
		set[key] = struct{}{}
	}
	return func(_ *models.TransactionContext, now time.Time) (bool, error) {
		_, ok := set[models.WeekdayKey(now.UTC().Weekday())]
		return ok, nil
	}, nil
}

func checkBINPrefix(s string) error {
	if len(s) < minBINPrefixLen || len(s) > maxBINPrefixLen {
		return fmt.Errorf("bin_range bound must be %d to %d digits", minBINPrefixLen, maxBINPrefixLen)
	}
	if !digitsOnly(s) {
		return errors.New("bin_range bound must be digits")
	}
	return nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

func validWeekday(key string) bool {
	for _, k := range models.WeekdayKeys {
		if k == key {
			return true
		}
	}
	return false
}
