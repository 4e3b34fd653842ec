package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"etf_dashboard/apperr"
	"etf_dashboard/models"
	"etf_dashboard/testutil"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newService(t *testing.T) *Service {
	t.Helper()
	s := NewService(testutil.NewDB(t), "test-secret", time.Hour)
	s.cost = bcrypt.MinCost
	return s
}

func TestRegister(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	user, err := s.Register(ctx, "  Alice@Example.com ", "correct horse", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.PasswordHash)
	assert.Equal(t, "user", user.Role)

	_, err = s.Register(ctx, "alice@example.com", "another pass", "")
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	_, err = s.Register(ctx, "bob@example.com", "short", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = s.Register(ctx, "not-an-email", "long enough", "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestLoginIssuesToken(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	user, err := s.Register(ctx, "alice@example.com", "correct horse", "Alice")
	require.NoError(t, err)

	res, err := s.Login(ctx, "ALICE@example.com", "correct horse")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
	assert.NotNil(t, res.User.LastLoginAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), res.ExpiresAt, time.Minute)

	claims, err := s.ParseToken(res.Token)
	require.NoError(t, err)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "user", claims.Role)

	stored, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	user, err := s.Register(ctx, "alice@example.com", "correct horse", "")
	require.NoError(t, err)

	_, err = s.Login(ctx, "alice@example.com", "wrong horse")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
	_, err = s.Login(ctx, "nobody@example.com", "correct horse")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))

	require.NoError(t, s.db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	_, err = s.Login(ctx, "alice@example.com", "correct horse")
	assert.True(t, errors.Is(err, apperr.ErrUnauthorized))
}

func TestParseTokenRejects(t *testing.T) {
	s := newService(t)
	user := &models.User{ID: 7, Email: "a@b.c", Role: "user"}

	good, _, err := s.IssueToken(user)
	require.NoError(t, err)

	_, err = ParseToken([]byte("other-secret"), good)
	assert.Error(t, err, "wrong secret")

	s.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := s.IssueToken(user)
	require.NoError(t, err)
	_, err = s.ParseToken(expired)
	assert.Error(t, err, "expired")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "a@b.c"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ParseToken(none)
	assert.Error(t, err, "unsigned")

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(s.secret)
	require.NoError(t, err)
	_, err = s.ParseToken(noSubject)
	assert.Error(t, err, "missing subject")

	_, err = s.ParseToken("garbage")
	assert.Error(t, err)
}

func TestGetUserNotFound(t *testing.T) {
	_, err := newService(t).GetUser(context.Background(), 42)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestEnsureAdmin(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	admin, created, err := s.EnsureAdmin(ctx, "Root@Example.com", "bootstrap-pass")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "admin", admin.Role)

	res, err := s.Login(ctx, "root@example.com", "bootstrap-pass")
	require.NoError(t, err)
	claims, err := s.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Role)

	user, err := s.Register(ctx, "carol@example.com", "carol-pass", "")
	require.NoError(t, err)
	promoted, created, err := s.EnsureAdmin(ctx, "carol@example.com", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, promoted.ID)

	stored, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "admin", stored.Role)

	_, _, err = s.EnsureAdmin(ctx, "dave@example.com", "short")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
