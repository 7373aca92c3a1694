package models

import (
	"slices"

	"github.com/google/uuid"
)

// A user-specific override of cost and window limits for one endpoint and method.
// Nil fields fall back to the built-in rule or tier defaults.
type CustomRule struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_custom_rule_route" json:"-"`
	Endpoint    string    `gorm:"not null;uniqueIndex:idx_custom_rule_route" json:"endpoint"`
	Method      string    `gorm:"not null;default:'GET';uniqueIndex:idx_custom_rule_route" json:"method"`
	Cost        *float64  `json:"cost,omitempty"`
	WindowLimit *int      `json:"window_limit,omitempty"`
	WindowMs    *int64    `json:"window_ms,omitempty"`
}

func (CustomRule) TableName() string {
	return "custom_rules"
}

// Policy is the read-only view of a user's rate limiting configuration
type Policy struct {
	UserID      uuid.UUID    `json:"user_id"`
	Tier        Tier         `json:"tier"`
	Algorithm   Algorithm    `json:"algorithm"`
	CustomRules []CustomRule `json:"custom_rules"`
	Allowlist   []string     `json:"whitelist"`
	Denylist    []string     `json:"blacklist"`
}

func (p *Policy) Denies(address string) bool {
	return slices.Contains(p.Denylist, address)
}

// Reports whether an allowlist is configured and the address is missing from it
func (p *Policy) NotAllowed(address string) bool {
	return len(p.Allowlist) > 0 && !slices.Contains(p.Allowlist, address)
}
