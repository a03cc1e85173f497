package points

// EventType identifies the user action that may earn points
type EventType string

const (
	EventRegister       EventType = "register"
	EventFirstOrderPaid EventType = "first_order_paid"
	EventOrderPaid      EventType = "order_paid"
	EventDailySignIn    EventType = "daily_sign_in"
	EventShareSuccess   EventType = "share_success"
	EventCustom         EventType = "custom"

	// EventAll is only valid on risk rules and matches every event type
	EventAll EventType = "all"
)

// AllEventTypes returns the event types an activity event can carry
func AllEventTypes() []EventType {
	return []EventType{EventRegister, EventFirstOrderPaid, EventOrderPaid, EventDailySignIn, EventShareSuccess, EventCustom}
}

// IsValid reports whether t is a concrete event type
func (t EventType) IsValid() bool {
	switch t {
	case EventRegister, EventFirstOrderPaid, EventOrderPaid, EventDailySignIn, EventShareSuccess, EventCustom:
		return true
	}
	return false
}

// IsOrderEvent reports whether the event carries an order amount
func (t EventType) IsOrderEvent() bool {
	return t == EventOrderPaid || t == EventFirstOrderPaid
}

func (t EventType) String() string { return string(t) }

// RewardMode decides how a rule computes its amount
type RewardMode string

const (
	RewardFixed RewardMode = "fixed"
	RewardRate  RewardMode = "rate"
)

func (m RewardMode) IsValid() bool {
	return m == RewardFixed || m == RewardRate
}

// ScopeType narrows which actors a rule applies to
type ScopeType string

const (
	ScopeAll     ScopeType = "all"
	ScopeNewUser ScopeType = "new_user"
	ScopeLevel   ScopeType = "level"
	ScopeTag     ScopeType = "tag"
	ScopeUser    ScopeType = "user"
)

func (s ScopeType) IsValid() bool {
	switch s {
	case ScopeAll, ScopeNewUser, ScopeLevel, ScopeTag, ScopeUser:
		return true
	}
	return false
}

// NeedsValue reports whether scopeValue must be set
func (s ScopeType) NeedsValue() bool {
	return s == ScopeLevel || s == ScopeTag || s == ScopeUser
}

// AudienceType narrows which actors a campaign applies to
type AudienceType string

const (
	AudienceAll   AudienceType = "all"
	AudienceLevel AudienceType = "level"
	AudienceTag   AudienceType = "tag"
	AudienceUser  AudienceType = "user"
)

func (a AudienceType) IsValid() bool {
	switch a {
	case AudienceAll, AudienceLevel, AudienceTag, AudienceUser:
		return true
	}
	return false
}

// StackMode controls whether a rule may co-award with others on the same event
type StackMode string

const (
	StackModeStack     StackMode = "stack"
	StackModeExclusive StackMode = "exclusive"
)

func (m StackMode) IsValid() bool {
	return m == StackModeStack || m == StackModeExclusive
}

// Status is the enabled flag shared by rules, campaigns and risk rules
type Status int

const (
	StatusDisabled Status = 0
	StatusEnabled  Status = 1
)

func (s Status) IsValid() bool {
	return s == StatusDisabled || s == StatusEnabled
}

// HitAction is what a risk rule does when one of its limits is exceeded
type HitAction string

const (
	HitActionReview    HitAction = "review"
	HitActionBlock     HitAction = "block"
	HitActionDowngrade HitAction = "downgrade"
)

func (a HitAction) IsValid() bool {
	switch a {
	case HitActionReview, HitActionBlock, HitActionDowngrade:
		return true
	}
	return false
}

// severity orders actions so the strongest hit wins
func (a HitAction) severity() int {
	switch a {
	case HitActionBlock:
		return 3
	case HitActionDowngrade:
		return 2
	case HitActionReview:
		return 1
	}
	return 0
}

// Stronger returns the more severe of two actions
func (a HitAction) Stronger(b HitAction) HitAction {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// LedgerType classifies a ledger row
type LedgerType string

const (
	LedgerEarn       LedgerType = "earn"
	LedgerRedeem     LedgerType = "redeem"
	LedgerRefund     LedgerType = "refund"
	LedgerBonus      LedgerType = "bonus"
	LedgerFreeze     LedgerType = "freeze"
	LedgerUnfreeze   LedgerType = "unfreeze"
	LedgerCommission LedgerType = "commission"
)

func (t LedgerType) IsValid() bool {
	switch t {
	case LedgerEarn, LedgerRedeem, LedgerRefund, LedgerBonus, LedgerFreeze, LedgerUnfreeze, LedgerCommission:
		return true
	}
	return false
}

// IsCredit reports whether rows of this type add usable points
func (t LedgerType) IsCredit() bool {
	switch t {
	case LedgerEarn, LedgerBonus, LedgerCommission, LedgerUnfreeze:
		return true
	}
	return false
}

// MovesFrozen reports whether rows of this type shift points between usable and frozen
func (t LedgerType) MovesFrozen() bool {
	return t == LedgerFreeze || t == LedgerUnfreeze
}

func (t LedgerType) String() string { return string(t) }

// GrantType is the operator adjustment applied by a grant task
type GrantType string

const (
	GrantAdd      GrantType = "add"
	GrantDeduct   GrantType = "deduct"
	GrantFreeze   GrantType = "freeze"
	GrantUnfreeze GrantType = "unfreeze"
)

func (g GrantType) IsValid() bool {
	switch g {
	case GrantAdd, GrantDeduct, GrantFreeze, GrantUnfreeze:
		return true
	}
	return false
}

// LedgerType maps the grant to the ledger row type it writes
func (g GrantType) LedgerType() LedgerType {
	switch g {
	case GrantDeduct:
		return LedgerRedeem
	case GrantFreeze:
		return LedgerFreeze
	case GrantUnfreeze:
		return LedgerUnfreeze
	default:
		return LedgerBonus
	}
}

// TargetType selects the grant audience
type TargetType string

const (
	TargetUser  TargetType = "user"
	TargetLevel TargetType = "level"
	TargetAll   TargetType = "all"
)

func (t TargetType) IsValid() bool {
	switch t {
	case TargetUser, TargetLevel, TargetAll:
		return true
	}
	return false
}

// GrantStatus is the outcome of a grant task
type GrantStatus string

const (
	GrantStatusCompleted GrantStatus = "completed"
	GrantStatusPartial   GrantStatus = "partial"
	GrantStatusFailed    GrantStatus = "failed"
)

// ClipReason names the budget that limited an award
type ClipReason string

const (
	ClipNone        ClipReason = ""
	ClipBudgetTotal ClipReason = "budget_total"
	ClipBudgetDaily ClipReason = "budget_daily"
	ClipUserCap     ClipReason = "user_cap"
)
