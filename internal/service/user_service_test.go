package service

import (
	"context"
	"testing"

	"finpro-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	users := newFakeUserRepo()
	jwt := token.NewJWTManager("test-secret", 1)
	svc := NewUserService(users, jwt)

	u, err := svc.Register(context.Background(), RegisterRequest{Username: "alice", Name: "Alice", Email: "alice@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEmpty(t, u.SessionID)
	assert.NotEqual(t, "pw", u.Password)

	res, err := svc.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, u.SessionID, res.User.SessionID)

	claims, err := jwt.VerifyToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, u.SessionID, claims.SessionID)
}

func TestRegisterRejectsDuplicatesAndBadInput(t *testing.T) {
	svc := NewUserService(newFakeUserRepo(alice()), token.NewJWTManager("s", 1))

	_, err := svc.Register(context.Background(), RegisterRequest{Username: "alice", Password: "pw"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = svc.Register(context.Background(), RegisterRequest{Username: "bob"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Register(context.Background(), RegisterRequest{Username: "bob", Password: "pw", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	users := newFakeUserRepo()
	svc := NewUserService(users, token.NewJWTManager("s", 1))
	_, err := svc.Register(context.Background(), RegisterRequest{Username: "alice", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.Login(context.Background(), "nobody", "pw")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.GetProfile(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
