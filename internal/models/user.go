package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key" json:"id"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Role         string         `gorm:"default:'USER'" json:"role"`
	Tier         Tier           `gorm:"type:varchar(16);default:'FREE'" json:"tier"`
	Algorithm    Algorithm      `gorm:"column:rate_limit_algorithm;type:varchar(32);default:'TOKEN_BUCKET'" json:"rate_limit_algorithm"`
	CustomRules  []CustomRule   `gorm:"constraint:OnDelete:CASCADE" json:"custom_rules"`
	Allowlist    pq.StringArray `gorm:"type:text[]" json:"whitelist"`
	Denylist     pq.StringArray `gorm:"type:text[]" json:"blacklist"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Tier == "" {
		u.Tier = TierFree
	}
	if u.Algorithm == "" {
		u.Algorithm = AlgorithmTokenBucket
	}

	return nil
}

func (User) TableName() string {
	return "users"
}

// Returns the rate limiting policy carried by the user record
func (u *User) Policy() *Policy {
	rules := make([]CustomRule, len(u.CustomRules))
	copy(rules, u.CustomRules)

	return &Policy{
		UserID:      u.ID,
		Tier:        u.Tier,
		Algorithm:   u.Algorithm,
		CustomRules: rules,
		Allowlist:   append([]string(nil), u.Allowlist...),
		Denylist:    append([]string(nil), u.Denylist...),
	}
}
