package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bspark23/chatsphere-pro/internal/repo"
)

var (
	ErrNoCredential   = errors.New("no bearer credential presented")
	ErrTokenInvalid   = errors.New("token is malformed or has a bad signature")
	ErrTokenExpired   = errors.New("token is expired")
	ErrUnknownSubject = errors.New("token subject no longer exists")
)

// Identity is the resolved connection identity: an opaque id plus a
// display name, cached on the connection for its lifetime.
type Identity struct {
	ID       string
	Username string
	Avatar   string
}

// Gate validates a bearer credential at connection establishment and
// resolves it to an Identity. Rejection happens before the connection
// touches the registry, so no partial state is created.
type Gate struct {
	secret []byte
	users  repo.UserRepository
	logger *zap.Logger
}

func NewGate(secret string, users repo.UserRepository, logger *zap.Logger) *Gate {
	return &Gate{
		secret: []byte(secret),
		users:  users,
		logger: logger,
	}
}

// Authenticate validates signature and expiry, then looks the encoded
// subject up in the identity store.
func (g *Gate) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenInvalid
	}

	userID, _ := claims["userId"].(string)
	if userID == "" {
		return nil, fmt.Errorf("%w: missing userId claim", ErrTokenInvalid)
	}

	user, err := g.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			g.logger.Warn("token subject not found", zap.String("user_id", userID))
			return nil, ErrUnknownSubject
		}
		return nil, fmt.Errorf("resolve identity %s: %w", userID, err)
	}

	return &Identity{
		ID:       user.ID.Hex(),
		Username: user.Username,
		Avatar:   user.Avatar,
	}, nil
}

// TokenFromRequest pulls the bearer credential out of the websocket
// handshake. Browsers cannot set Authorization on an upgrade request, so
// a "bearer, <token>" subprotocol pair is accepted as a fallback. The
// URL is never consulted.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	parts := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(parts) == 2 && strings.TrimSpace(parts[0]) == "bearer" {
		return strings.TrimSpace(parts[1])
	}

	return ""
}
