package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AddressList names one of the per-user address list columns
type AddressList string

const (
	Allowlist AddressList = "allowlist"
	Denylist  AddressList = "denylist"
)

type UserRepository struct {
	db *storage.Postgres
}

func NewUserRepository(db *storage.Postgres) *UserRepository {
	return &UserRepository{db: db}
}

// Inserts a new user into the database
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.DB.WithContext(ctx).Create(user).Error
}

// Retrieves user by email
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Retrieves user by id together with its custom rules
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := r.db.DB.WithContext(ctx).
		Preload("CustomRules", func(db *gorm.DB) *gorm.DB {
			return db.Order("endpoint ASC, method ASC")
		}).
		Where("id = ?", id).
		First(&user).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Retrieves all users ordered by email
func (r *UserRepository) List(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.DB.WithContext(ctx).
		Preload("CustomRules").
		Order("email ASC").
		Find(&users).Error

	return users, err
}

func (r *UserRepository) UpdateTier(ctx context.Context, id string, tier models.Tier) error {
	return r.updateColumn(ctx, id, "tier", tier)
}

func (r *UserRepository) UpdateAlgorithm(ctx context.Context, id string, algorithm models.Algorithm) error {
	return r.updateColumn(ctx, id, "rate_limit_algorithm", algorithm)
}

// Adds address to the list unless it is already present
func (r *UserRepository) AddAddress(ctx context.Context, id string, list AddressList, address string) error {
	column, err := list.column()
	if err != nil {
		return err
	}

	expr := gorm.Expr(
		fmt.Sprintf("array_append(array_remove(COALESCE(%s, '{}'::text[]), ?), ?)", column),
		address, address,
	)
	return r.updateColumn(ctx, id, column, expr)
}

func (r *UserRepository) RemoveAddress(ctx context.Context, id string, list AddressList, address string) error {
	column, err := list.column()
	if err != nil {
		return err
	}

	expr := gorm.Expr(fmt.Sprintf("array_remove(COALESCE(%s, '{}'::text[]), ?)", column), address)
	return r.updateColumn(ctx, id, column, expr)
}

// Inserts the rule or replaces the limits of the existing rule for the same route
func (r *UserRepository) UpsertCustomRule(ctx context.Context, rule *models.CustomRule) error {
	return r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "endpoint"}, {Name: "method"}},
			DoUpdates: clause.AssignmentColumns([]string{"cost", "window_limit", "window_ms"}),
		}).
		Create(rule).Error
}

// Deletes the rule for a route. Returns the number of removed rules.
func (r *UserRepository) DeleteCustomRule(ctx context.Context, userID, endpoint, method string) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("user_id = ? AND endpoint = ? AND method = ?", userID, endpoint, method).
		Delete(&models.CustomRule{})

	return result.RowsAffected, result.Error
}

func (r *UserRepository) updateColumn(ctx context.Context, id, column string, value interface{}) error {
	result := r.db.DB.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update(column, value)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (l AddressList) column() (string, error) {
	switch l {
	case Allowlist, Denylist:
		return string(l), nil
	default:
		return "", fmt.Errorf("unknown address list %q", l)
	}
}
