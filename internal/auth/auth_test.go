package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/p2pmarket/internal/db"
)

const testSecret = "test-secret"

func newService() *AuthService {
	return NewAuthService(db.NewMemoryStore(), testSecret)
}

func TestRegister(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "testuser", "testpass1")
	require.NoError(t, err)
	assert.Equal(t, "testuser", user.Username)
	assert.NotZero(t, user.ID)
	assert.NotEqual(t, "testpass1", user.PasswordHash, "password must be stored hashed")

	_, err = svc.Register(ctx, "testuser", "otherpass")
	assert.Error(t, err, "duplicate username must be rejected")
}

func TestRegister_Validation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"EmptyUsername", "", "validpass"},
		{"EmptyPassword", "validuser", ""},
		{"LongUsername", strings.Repeat("a", 51), "validpass"},
		{"LongPassword", "validuser", strings.Repeat("p", 101)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(ctx, tt.username, tt.password)
			assert.Error(t, err)
		})
	}
}

func TestLogin(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "testuser", "testpass1")
	require.NoError(t, err)

	token, err := svc.Login(ctx, "testuser", "testpass1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, err = svc.Login(ctx, "testuser", "wrongpass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "testpass1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestGetUserFromToken(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	user, err := svc.Register(ctx, "testuser", "testpass1")
	require.NoError(t, err)
	token, err := svc.Login(ctx, "testuser", "testpass1")
	require.NoError(t, err)

	id, err := svc.GetUserFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)

	_, err = svc.GetUserFromToken("not.a.token")
	assert.Error(t, err)

	// A token signed with a different secret is rejected.
	other := NewAuthService(db.NewMemoryStore(), "other-secret")
	_, err = other.GetUserFromToken(token)
	assert.Error(t, err)
}
