package models

import "time"

type AuditReason string

const (
	ReasonAllowed                AuditReason = "ALLOWED"
	ReasonRateLimitExceeded      AuditReason = "RATE_LIMIT_EXCEEDED"
	ReasonCircuitBreakerFallback AuditReason = "CIRCUIT_BREAKER_FALLBACK"
)

// Represents one admission decision
type AuditRecord struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	UserID    string      `gorm:"type:uuid;index" json:"user_id"`
	Endpoint  string      `gorm:"index" json:"endpoint"`
	Method    string      `json:"method"`
	Algorithm Algorithm   `json:"algorithm"`
	Cost      int         `json:"cost"`
	Allowed   bool        `gorm:"index" json:"allowed"`
	Reason    AuditReason `json:"reason"`
	Address   string      `json:"ip"`
	UserAgent string      `json:"user_agent"`
	LatencyMs int64       `json:"latency_ms"`
	Timestamp time.Time   `gorm:"index" json:"timestamp"`
}

func (AuditRecord) TableName() string {
	return "audit_records"
}
