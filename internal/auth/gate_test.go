package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/model"
	"github.com/bspark23/chatsphere-pro/internal/repo"
)

const testSecret = "unit-test-secret"

type stubUsers struct {
	users map[string]*model.User
}

func (s *stubUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, repo.ErrUserNotFound
	}
	return u, nil
}

func (s *stubUsers) SetStatus(context.Context, string, string) error { return nil }

func (s *stubUsers) SetOffline(context.Context, string, time.Time) error { return nil }

func newTestGate(t *testing.T) (*Gate, string) {
	t.Helper()

	id := primitive.NewObjectID()
	users := &stubUsers{users: map[string]*model.User{
		id.Hex(): {ID: id, Username: "alice", Avatar: "https://cdn.example/alice.png"},
	}}
	return NewGate(testSecret, users, zap.NewNop()), id.Hex()
}

func signToken(t *testing.T, secret, userID string, expiresIn time.Duration) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(expiresIn).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthenticateResolvesIdentity(t *testing.T) {
	gate, userID := newTestGate(t)

	identity, err := gate.Authenticate(context.Background(), signToken(t, testSecret, userID, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, userID, identity.ID)
	assert.Equal(t, "alice", identity.Username)
	assert.Equal(t, "https://cdn.example/alice.png", identity.Avatar)
}

func TestAuthenticateRejectsMissingCredential(t *testing.T) {
	gate, _ := newTestGate(t)

	_, err := gate.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	gate, userID := newTestGate(t)

	_, err := gate.Authenticate(context.Background(), signToken(t, testSecret, userID, -time.Minute))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	gate, userID := newTestGate(t)

	_, err := gate.Authenticate(context.Background(), signToken(t, "some-other-secret", userID, time.Hour))
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthenticateRejectsUnsignedToken(t *testing.T) {
	gate, userID := newTestGate(t)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"userId": userID,
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = gate.Authenticate(context.Background(), unsigned)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthenticateRejectsMissingSubjectClaim(t *testing.T) {
	gate, _ := newTestGate(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = gate.Authenticate(context.Background(), signed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestAuthenticateRejectsUnknownSubject(t *testing.T) {
	gate, _ := newTestGate(t)

	ghost := primitive.NewObjectID().Hex()
	_, err := gate.Authenticate(context.Background(), signToken(t, testSecret, ghost, time.Hour))
	assert.ErrorIs(t, err, ErrUnknownSubject)
}

func TestTokenFromRequestAuthorizationHeader(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")

	assert.Equal(t, "abc.def.ghi", TokenFromRequest(r))
}

func TestTokenFromRequestSubprotocolFallback(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Sec-WebSocket-Protocol", "bearer, abc.def.ghi")

	assert.Equal(t, "abc.def.ghi", TokenFromRequest(r))
}

func TestTokenFromRequestIgnoresURL(t *testing.T) {
	// credentials in the URL end up in access logs; they are never read
	r := httptest.NewRequest("GET", "/ws?token=abc.def.ghi", nil)

	assert.Empty(t, TokenFromRequest(r))
}

func TestTokenFromRequestHeaderWinsOverSubprotocol(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer from-header")
	r.Header.Set("Sec-WebSocket-Protocol", "bearer, from-subprotocol")

	assert.Equal(t, "from-header", TokenFromRequest(r))
}
