package rules

import (
	"strings"

	"cascade/internal/models"
)

// validate runs every write-time check on a rule definition. Evaluation
// assumes definitions passed here, so nothing rule-shaped can fail at
// routing time.
func (s *service) validate(rule *models.RoutingRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return invalid("name", "name is required")
	}
	if rule.MerchantID == 0 {
		return invalid("merchant_id", "merchant is required")
	}
	if rule.Priority < 0 {
		return invalid("priority", "priority cannot be negative")
	}

	if err := s.validateConditions(&rule.Conditions); err != nil {
		return err
	}
	if err := s.validateActions(rule.Actions); err != nil {
		return err
	}
	return validateSchedule(&rule.Schedule)
}

func (s *service) validateConditions(tree *models.ConditionTree) error {
	root := tree.Root()
	if emptyNode(root) {
		// Catch-all rule.
		return nil
	}
	count := 0
	return s.validateNode(root, 1, &count)
}

func (s *service) validateNode(n *models.ConditionNode, depth int, count *int) error {
	*count++
	if *count > s.config.MaxConditionNodes {
		return invalid("conditions", "condition tree exceeds %d nodes", s.config.MaxConditionNodes)
	}
	if depth > s.config.MaxConditionDepth {
		return invalid("conditions", "condition tree exceeds depth %d", s.config.MaxConditionDepth)
	}

	if n.IsGroup() {
		if n.Kind != "" {
			return invalid("conditions", "node mixes kind %q with a group", n.Kind)
		}
		if len(n.All) > 0 && len(n.Any) > 0 {
			return invalid("conditions", "node mixes all and any groups")
		}
		children := n.All
		if len(children) == 0 {
			children = n.Any
		}
		for i := range children {
			if err := s.validateNode(&children[i], depth+1, count); err != nil {
				return err
			}
		}
		return nil
	}

	if n.Kind == "" {
		return invalid("conditions", "empty condition node")
	}
	if _, err := compileLeaf(n); err != nil {
		return &ValidationError{Field: "conditions", Message: err.Error()}
	}
	return nil
}

func (s *service) validateActions(actions models.ActionList) error {
	if len(actions) == 0 {
		return invalid("actions", "at least one action is required")
	}
	if len(actions) > s.config.MaxActions {
		return invalid("actions", "more than %d actions", s.config.MaxActions)
	}

	for i, a := range actions {
		switch a.Type {
		case models.ActionRouteToPool:
			if a.PoolID == 0 {
				return invalid("actions", "route_to_pool requires pool_id")
			}
			if a.Strategy != "" && !models.ValidStrategy(a.Strategy) {
				return invalid("actions", "unknown strategy %q", a.Strategy)
			}
		case models.ActionRouteToAccount:
			if a.AccountID == 0 {
				return invalid("actions", "route_to_account requires account_id")
			}
		case models.ActionBlock:
			// Reason is optional.
		case models.ActionSurcharge:
			if a.Percent <= 0 || a.Percent > DefaultMaxSurchargePct {
				return invalid("actions", "surcharge percent must be in (0, %v]", DefaultMaxSurchargePct)
			}
			if a.Cap < 0 {
				return invalid("actions", "surcharge cap cannot be negative")
			}
		case models.ActionDiscount:
			if a.Percent <= 0 || a.Percent > 100 {
				return invalid("actions", "discount percent must be in (0, 100]")
			}
		case models.ActionRequireStepUp:
			if strings.TrimSpace(a.Level) == "" {
				return invalid("actions", "require_step_up requires a level")
			}
		case models.ActionFlagForReview:
		case models.ActionAnnotate:
			if strings.TrimSpace(a.Key) == "" {
				return invalid("actions", "annotate requires a key")
			}
		default:
			return invalid("actions", "unknown action type %q", a.Type)
		}

		if a.Terminal() && i != len(actions)-1 {
			return invalid("actions", "terminal action %q must be last", a.Type)
		}
	}
	return nil
}

func validateSchedule(sch *models.Schedule) error {
	if sch.StartAt != nil && sch.EndAt != nil && !sch.StartAt.Before(*sch.EndAt) {
		return invalid("schedule", "start must precede end")
	}
	for i, d := range sch.Weekdays {
		key := strings.ToLower(strings.TrimSpace(d))
		if !validWeekday(key) {
			return invalid("schedule", "unknown weekday %q", d)
		}
		// Stored keys are canonical lowercase; Active compares against
		// models.WeekdayKeys.
		sch.Weekdays[i] = key
	}
	for _, w := range sch.Windows {
		start, err := models.ParseClock(w.Start)
		if err != nil {
			return invalid("schedule", "window start: %v", err)
		}
		end, err := models.ParseClock(w.End)
		if err != nil {
			return invalid("schedule", "window end: %v", err)
		}
		if start == end {
			return invalid("schedule", "window is empty")
		}
	}
	return nil
}
