// Package auth registers users, verifies passwords and issues JWTs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/logger"
	"etf_dashboard/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt input limit
	Issuer            = "etf_dashboard"
)

// Claims are the JWT claims issued at login. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UserID parses the subject.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return uint(id), nil
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

type Service struct {
	db     *gorm.DB
	secret []byte
	ttl    time.Duration
	cost   int
	log    zerolog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, secret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:     db,
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		log:    logger.With("auth"),
		now:    time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*models.User, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(password) < MinPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return nil, apperr.Validation("password must be at most %d bytes", MaxPasswordLength)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, apperr.Internal("failed to check email", err)
	}
	if count > 0 {
		return nil, apperr.Conflict("email %s is already registered", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, apperr.Internal("failed to hash password", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     strings.TrimSpace(fullName),
		Role:         "user",
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, apperr.Internal("failed to create user", err)
	}

	s.log.Info().Uint("user_id", user.ID).Msg("User registered")
	return user, nil
}

// EnsureAdmin grants the admin role to email, registering the account first
// when it does not exist. created reports whether a new account was made.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (user *models.User, created bool, err error) {
	email = normalizeEmail(email)

	var existing models.User
	err = s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if user, err = s.Register(ctx, email, password, ""); err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, apperr.Internal("failed to load user", err)
	default:
		user = &existing
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(map[string]any{"role": "admin", "is_active": true}).Error; err != nil {
		return nil, false, apperr.Internal("failed to grant admin role", err)
	}
	user.Role = "admin"
	user.IsActive = true

	s.log.Info().Uint("user_id", user.ID).Bool("created", created).Msg("Admin role granted")
	return user, created, nil
}

// Login verifies credentials and issues a token. Unknown emails, wrong
// passwords and inactive accounts are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil || !user.IsActive {
		return nil, apperr.Unauthorized("invalid email or password")
	}

	token, expiresAt, err := s.IssueToken(&user)
	if err != nil {
		return nil, apperr.Internal("failed to sign token", err)
	}

	now := s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		s.log.Warn().Err(err).Uint("user_id", user.ID).Msg("Failed to record login time")
	}
	user.LastLoginAt = &now

	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: &user}, nil
}

// IssueToken signs an HS256 token for user.
func (s *Service) IssueToken(user *models.User) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: user.Email,
		Role:  user.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, expiresAt, err
}

// ParseToken validates a token signed by this service.
func (s *Service) ParseToken(token string) (*Claims, error) {
	return ParseToken(s.secret, token)
}

// ParseToken validates an HS256 token against secret.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

// GetUser loads an active user by id.
func (s *Service) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("user %d not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load user", err)
	}
	return &user, nil
}
