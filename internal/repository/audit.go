package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"gorm.io/gorm"
)

type AuditRepository struct {
	db *storage.Postgres
}

func NewAuditRepository(db *storage.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Holds aggregated admission counts
type AuditSummary struct {
	TotalRequests   int64   `json:"total_requests"`
	AllowedRequests int64   `json:"allowed_requests"`
	BlockedRequests int64   `json:"blocked_requests"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	TotalCost       int64   `json:"total_cost"`
}

// Inserts multiple audit records (for batch insertion)
func (r *AuditRepository) CreateBatch(ctx context.Context, records []models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&records).Error
}

// Retrieves the newest records, for one user when userID is not empty
func (r *AuditRepository) Recent(ctx context.Context, userID string, limit int) ([]models.AuditRecord, error) {
	records := make([]models.AuditRecord, 0, limit)

	err := r.scope(ctx, userID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error

	return records, err
}

// Aggregates counts, latency and cost, for one user when userID is not empty
func (r *AuditRepository) Summary(ctx context.Context, userID string) (*AuditSummary, error) {
	var row struct {
		TotalRequests   int64
		AllowedRequests int64
		BlockedRequests int64
		AvgLatencyMs    float64
		TotalCost       int64
	}

	err := r.scope(ctx, userID).
		Model(&models.AuditRecord{}).
		Select(`COUNT(*) AS total_requests,
			COALESCE(SUM(CASE WHEN allowed THEN 1 ELSE 0 END), 0) AS allowed_requests,
			COALESCE(SUM(CASE WHEN allowed THEN 0 ELSE 1 END), 0) AS blocked_requests,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms,
			COALESCE(SUM(cost), 0) AS total_cost`).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	return &AuditSummary{
		TotalRequests:   row.TotalRequests,
		AllowedRequests: row.AllowedRequests,
		BlockedRequests: row.BlockedRequests,
		AvgLatencyMs:    math.Round(row.AvgLatencyMs*100) / 100,
		TotalCost:       row.TotalCost,
	}, nil
}

// Returns the most frequently recorded endpoint, or ErrNotFound when nothing was recorded
func (r *AuditRepository) TopEndpoint(ctx context.Context, userID string) (string, error) {
	var row struct {
		Endpoint string
		Count    int64
	}

	err := r.scope(ctx, userID).
		Model(&models.AuditRecord{}).
		Select("endpoint, COUNT(*) AS count").
		Group("endpoint").
		Order("count DESC").
		Limit(1).
		Take(&row).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}

	return row.Endpoint, nil
}

// Counts the distinct users with at least one record
func (r *AuditRepository) DistinctUsers(ctx context.Context, userID string) (int64, error) {
	var count int64

	err := r.scope(ctx, userID).
		Model(&models.AuditRecord{}).
		Distinct("user_id").
		Count(&count).Error

	return count, err
}

// Deletes records older than the specified time
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.AuditRecord{})

	return result.RowsAffected, result.Error
}

func (r *AuditRepository) scope(ctx context.Context, userID string) *gorm.DB {
	db := r.db.DB.WithContext(ctx)
	if userID != "" {
		db = db.Where("user_id = ?", userID)
	}
	return db
}
