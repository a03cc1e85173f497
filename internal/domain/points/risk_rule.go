package points

import (
	"strings"

	"github.com/loyalty/points/internal/domain/shared"
)

// RiskDefinition is the administered part of a risk rule
type RiskDefinition struct {
	Name             string
	EventType        EventType
	FreqLimit        int
	DailyLimit       int
	DeviceLimit      int
	IPLimit          int
	BlacklistEnabled bool
	HitAction        HitAction
}

// PointsRiskRule is an anti-abuse gate evaluated before any reward rule
type PointsRiskRule struct {
	shared.BaseAggregateRoot
	RiskDefinition
	Status Status
}

// NewPointsRiskRule validates def and creates a risk rule
func NewPointsRiskRule(def RiskDefinition, status Status) (*PointsRiskRule, error) {
	def.Name = strings.TrimSpace(def.Name)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError(shared.CodeInvalidInput, "status must be 0 or 1")
	}
	return &PointsRiskRule{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		RiskDefinition:    def,
		Status:            status,
	}, nil
}

// Update replaces the definition
func (r *PointsRiskRule) Update(def RiskDefinition) error {
	def.Name = strings.TrimSpace(def.Name)
	if err := def.Validate(); err != nil {
		return err
	}
	r.RiskDefinition = def
	r.IncrementVersion()
	return nil
}

func (r *PointsRiskRule) Enable() {
	if r.Status != StatusEnabled {
		r.Status = StatusEnabled
		r.IncrementVersion()
	}
}

func (r *PointsRiskRule) Disable() {
	if r.Status != StatusDisabled {
		r.Status = StatusDisabled
		r.IncrementVersion()
	}
}

// Validate checks limits and the hit action
func (d *RiskDefinition) Validate() error {
	var v shared.ValidationError
	if d.Name == "" {
		v.Add("name", "is required")
	}
	if d.EventType != EventAll && !d.EventType.IsValid() {
		v.Addf("eventType", "must be \"all\" or a supported event type, got %q", d.EventType)
	}
	if d.FreqLimit < 0 {
		v.Add("freqLimit", "must not be negative")
	}
	if d.DailyLimit < 0 {
		v.Add("dailyLimit", "must not be negative")
	}
	if d.DeviceLimit < 0 {
		v.Add("deviceLimit", "must not be negative")
	}
	if d.IPLimit < 0 {
		v.Add("ipLimit", "must not be negative")
	}
	if d.FreqLimit == 0 && d.DailyLimit == 0 && d.DeviceLimit == 0 && d.IPLimit == 0 {
		v.Add("freqLimit", "at least one limit must be set")
	}
	if d.FreqLimit > 0 && d.DailyLimit > 0 && d.FreqLimit > d.DailyLimit {
		v.Add("freqLimit", "must not exceed dailyLimit")
	}
	if !d.HitAction.IsValid() {
		v.Addf("hitAction", "unsupported hit action %q", d.HitAction)
	}
	return v.ErrOrNil()
}

// AppliesTo reports whether the rule gates events of type t
func (r *PointsRiskRule) AppliesTo(t EventType) bool {
	return r.Status == StatusEnabled && (r.EventType == EventAll || r.EventType == t)
}

// RiskCounts are the actor's rolling observation counts for one scope, current event included
type RiskCounts struct {
	PerMinute int64
	PerDay    int64
	Device    int64
	IP        int64
}

// Exceeded returns the name of the first limit the counts break, or "" when none
func (r *PointsRiskRule) Exceeded(c RiskCounts) string {
	switch {
	case r.FreqLimit > 0 && c.PerMinute > int64(r.FreqLimit):
		return "freq_limit"
	case r.DailyLimit > 0 && c.PerDay > int64(r.DailyLimit):
		return "daily_limit"
	case r.DeviceLimit > 0 && c.Device > int64(r.DeviceLimit):
		return "device_limit"
	case r.IPLimit > 0 && c.IP > int64(r.IPLimit):
		return "ip_limit"
	}
	return ""
}
