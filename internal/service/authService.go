package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aman-churiwal/api-ratelimiter/internal/models"
	"github.com/aman-churiwal/api-ratelimiter/internal/repository"
	"github.com/asaskevich/govalidator"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

type AuthService struct {
	users     UserStore
	apiKeys   *APIKeyService
	jwtSecret []byte // Stored in env (JWT_SECRET)
	jwtExpiry time.Duration
	now       func() time.Time
}

func NewAuthService(users UserStore, apiKeys *APIKeyService, secret string, expiryHours int) *AuthService {
	return &AuthService{
		users:     users,
		apiKeys:   apiKeys,
		jwtSecret: []byte(secret),
		jwtExpiry: time.Duration(expiryHours) * time.Hour,
		now:       time.Now,
	}
}

// Holds the profile returned by Me
type Profile struct {
	User         *models.User `json:"user"`
	APIKeyPrefix *string      `json:"api_key_prefix"`
}

// Creates a FREE user with a token bucket policy and issues its first API key
func (s *AuthService) Register(ctx context.Context, email, password string) (*models.User, string, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, "", err
	}
	if len(password) < minPasswordLength {
		return nil, "", invalid("password", "Password must be at least 8 characters")
	}

	_, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return nil, "", ErrEmailTaken
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, "", err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		Role:         models.RoleUser,
		Tier:         models.TierFree,
		Algorithm:    models.AlgorithmTokenBucket,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	apiKey, err := s.apiKeys.Issue(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}

	return user, apiKey, nil
}

// Authenticates a user and returns a JWT token
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return "", err
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	// verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	return s.IssueToken(user)
}

// Signs a token carrying the user id and role
func (s *AuthService) IssueToken(user *models.User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    user.Role,
		"exp":     now.Add(s.jwtExpiry).Unix(),
		"iat":     now.Unix(),
	})

	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	return tokenString, nil
}

// Validates a JWT token and return the claims
func (s *AuthService) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Verifying signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	if id, _ := claims["user_id"].(string); id == "" {
		return nil, errors.New("token has no subject")
	}

	return claims, nil
}

// Retrieves a user by ID
func (s *AuthService) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Returns the user and a displayable prefix of its active API key
func (s *AuthService) Me(ctx context.Context, id string) (*Profile, error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	profile := &Profile{User: user}
	apiKey, err := s.apiKeys.ActiveKey(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if apiKey != nil {
		profile.APIKeyPrefix = &apiKey.Prefix
	}

	return profile, nil
}

// Revokes the user's API key and returns a new one
func (s *AuthService) RotateAPIKey(ctx context.Context, id string) (string, error) {
	user, err := s.GetUserByID(ctx, id)
	if err != nil {
		return "", err
	}

	return s.apiKeys.Issue(ctx, user.ID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if email == "" || password == "" {
		return invalid("email", "Email and password are required")
	}
	if !govalidator.StringLength(email, "3", "255") || !govalidator.IsEmail(email) {
		return invalid("email", "Invalid email format")
	}
	return nil
}
