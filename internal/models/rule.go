package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Condition kinds. A condition node is either a leaf carrying one of these
// kinds or a group combining children with all/any semantics.
const (
	CondAmount          = "amount"
	CondCurrency        = "currency"
	CondCountry         = "country"
	CondRegion          = "region"
	CondCustomerType    = "customer_type"
	CondCustomerTenure  = "customer_tenure"
	CondCustomerLTV     = "customer_ltv"
	CondRiskTier        = "risk_tier"
	CondProductSKU      = "product_sku"
	CondProductCategory = "product_category"
	CondSubscription    = "subscription"
	CondTrial           = "trial"
	CondCardBrand       = "card_brand"
	CondMethodType      = "method_type"
	CondBINRange        = "bin_range"
	CondWallet          = "wallet"
	CondTimeOfDay       = "time_of_day"
	CondWeekday         = "weekday"
)

// Action types. Route and block actions terminate evaluation; the rest
// accumulate onto the directive.
const (
	ActionRouteToPool    = "route_to_pool"
	ActionRouteToAccount = "route_to_account"
	ActionBlock          = "block"
	ActionSurcharge      = "surcharge"
	ActionDiscount       = "discount"
	ActionRequireStepUp  = "require_step_up"
	ActionFlagForReview  = "flag_for_review"
	ActionAnnotate       = "annotate"
)

// ConditionNode is one node of a rule's condition tree. Leaves set Kind plus
// the parameter fields that kind uses; groups set All or Any (never both, and
// never alongside Kind). Membership kinds read Values, range kinds read
// Min/Max, bin_range and time_of_day read From/To, boolean kinds read Equals.
type ConditionNode struct {
	Kind   string   `json:"kind,omitempty"`
	Values []string `json:"values,omitempty"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	From   string   `json:"from,omitempty"`
	To     string   `json:"to,omitempty"`
	Equals *bool    `json:"equals,omitempty"`

	All []ConditionNode `json:"all,omitempty"`
	Any []ConditionNode `json:"any,omitempty"`
}

// IsGroup reports whether the node combines children rather than testing a fact.
func (n *ConditionNode) IsGroup() bool {
	return len(n.All) > 0 || len(n.Any) > 0
}

// ConditionTree is the root condition node stored as jsonb.
type ConditionTree ConditionNode

// Value implements the driver.Valuer interface.
func (t ConditionTree) Value() (driver.Value, error) {
	return json.Marshal(t)
}

// Scan implements the sql.Scanner interface.
func (t *ConditionTree) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, t)
}

// Root returns the tree as a plain node.
func (t *ConditionTree) Root() *ConditionNode {
	return (*ConditionNode)(t)
}

// RuleAction is one action in a rule's ordered action list. Type selects
// which of the parameter fields apply.
type RuleAction struct {
	Type      string  `json:"type"`
	PoolID    uint    `json:"pool_id,omitempty"`
	Strategy  string  `json:"strategy,omitempty"`
	AccountID uint    `json:"account_id,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Percent   float64 `json:"percent,omitempty"`
	Cap       float64 `json:"cap,omitempty"`
	Level     string  `json:"level,omitempty"`
	Key       string  `json:"key,omitempty"`
	Value     string  `json:"value,omitempty"`
}

// Terminal reports whether the action ends evaluation of the action list.
func (a RuleAction) Terminal() bool {
	switch a.Type {
	case ActionRouteToPool, ActionRouteToAccount, ActionBlock:
		return true
	}
	return false
}

// ActionList is an ordered action sequence stored as jsonb.
type ActionList []RuleAction

// Value implements the driver.Valuer interface.
func (l ActionList) Value() (driver.Value, error) {
	if l == nil {
		return json.Marshal([]RuleAction{})
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface.
func (l *ActionList) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, l)
}

// TimeWindow is an intra-day window in "HH:MM" form. End is exclusive and a
// window may wrap past midnight (start 22:00, end 02:00).
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Schedule restricts when a rule is considered during evaluation. A zero
// schedule means the rule is always in effect.
type Schedule struct {
	StartAt  *time.Time   `json:"start_at,omitempty"`
	EndAt    *time.Time   `json:"end_at,omitempty"`
	Weekdays []string     `json:"weekdays,omitempty"`
	Windows  []TimeWindow `json:"windows,omitempty"`
}

// Value implements the driver.Valuer interface.
func (s Schedule) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements the sql.Scanner interface.
func (s *Schedule) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, s)
}

// IsZero reports whether the schedule imposes no restriction.
func (s Schedule) IsZero() bool {
	return s.StartAt == nil && s.EndAt == nil && len(s.Weekdays) == 0 && len(s.Windows) == 0
}

// Active reports whether the schedule admits the given instant (UTC).
func (s Schedule) Active(now time.Time) bool {
	now = now.UTC()
	if s.StartAt != nil && now.Before(*s.StartAt) {
		return false
	}
	if s.EndAt != nil && !now.Before(*s.EndAt) {
		return false
	}
	if len(s.Weekdays) > 0 {
		day := weekdayKey(now.Weekday())
		found := false
		for _, d := range s.Weekdays {
			// Rule writes store canonical lowercase keys; fold anyway so
			// a row that never went through validation cannot go dead.
			if strings.EqualFold(strings.TrimSpace(d), day) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Windows) > 0 {
		minute := now.Hour()*60 + now.Minute()
		hit := false
		for _, w := range s.Windows {
			if windowContains(w, minute) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func windowContains(w TimeWindow, minute int) bool {
	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	// Wraps past midnight.
	return minute >= start || minute < end
}

// ParseClock parses an "HH:MM" string into minutes since midnight.
func ParseClock(s string) (int, error) {
	return parseClock(s)
}

func parseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, errors.New("clock value must be HH:MM")
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' ||
		s[3] < '0' || s[3] > '9' || s[4] < '0' || s[4] > '9' ||
		h > 23 || m > 59 {
		return 0, errors.New("clock value must be HH:MM")
	}
	return h*60 + m, nil
}

// Weekday keys accepted in schedules and weekday conditions.
var WeekdayKeys = []string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

func weekdayKey(d time.Weekday) string {
	return WeekdayKeys[int(d)]
}

// WeekdayKey returns the schedule key for a weekday.
func WeekdayKey(d time.Weekday) string {
	return weekdayKey(d)
}

// RoutingRule decides where a matching transaction goes. Rules are evaluated
// in ascending priority order and the first whose conditions hold supplies
// the directive.
type RoutingRule struct {
	ID          uint   `gorm:"primarykey"`
	MerchantID  uint   `gorm:"index;not null"`
	Name        string `gorm:"not null"`
	Description string
	Priority    int           `gorm:"not null;default:100"`
	Version     int           `gorm:"not null;default:1"`
	Active      bool          `gorm:"default:true"`
	Conditions  ConditionTree `gorm:"type:jsonb"`
	Actions     ActionList    `gorm:"type:jsonb"`
	Schedule    Schedule      `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RuleVersion is an immutable snapshot of a rule as of one version. A row is
// written on every create and update so decisions can reference the exact
// definition that produced them.
type RuleVersion struct {
	ID         uint          `gorm:"primarykey"`
	RuleID     uint          `gorm:"not null;uniqueIndex:idx_rule_version"`
	Version    int           `gorm:"not null;uniqueIndex:idx_rule_version"`
	Name       string
	Priority   int
	Active     bool
	Conditions ConditionTree `gorm:"type:jsonb"`
	Actions    ActionList    `gorm:"type:jsonb"`
	Schedule   Schedule      `gorm:"type:jsonb"`
	CreatedAt  time.Time
}
