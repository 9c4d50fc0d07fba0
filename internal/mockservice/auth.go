package mockservice

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultGrantTTL is the lifetime of tokens issued with a zero ttl.
const DefaultGrantTTL = 24 * time.Hour

// ErrEmptyToken is returned when a request carries no auth key.
var ErrEmptyToken = errors.New("auth key cannot be empty")

// Grant is the claim set of an access token. An empty Channels list grants
// every channel.
type Grant struct {
	UUID     string   `json:"uuid,omitempty"`
	Channels []string `json:"chs,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the grant covers all of channels.
func (g *Grant) Allows(channels ...string) bool {
	if len(g.Channels) == 0 {
		return true
	}
	for _, channel := range channels {
		if !slices.Contains(g.Channels, channel) {
			return false
		}
	}
	return true
}

// Authority issues and verifies HS256 access tokens, standing in for the
// access manager of the real service.
type Authority struct {
	secret []byte
	now    func() time.Time
}

// NewAuthority creates an authority signing with secret.
func NewAuthority(secret string) *Authority {
	return &Authority{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for uuid limited to channels. A zero ttl uses
// DefaultGrantTTL.
func (a *Authority) Issue(uuid string, channels []string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultGrantTTL
	}
	now := a.now()
	grant := Grant{
		UUID:     uuid,
		Channels: channels,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, grant).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify checks the signature and expiry of token and returns its grant.
func (a *Authority) Verify(token string) (*Grant, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	grant := &Grant{}
	_, err := jwt.ParseWithClaims(token, grant, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return grant, nil
}

// authorized admits the request when no authority is configured or its
// auth key grants every one of channels. Otherwise it writes 403.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request, channels ...string) bool {
	if s.auth == nil {
		return true
	}
	grant, err := s.auth.Verify(r.URL.Query().Get("auth"))
	if err == nil && grant.Allows(channels...) {
		return true
	}

	s.logger.Debug().Err(err).Strs("channels", channels).Msg("access denied")
	writeJSON(w, http.StatusForbidden, map[string]any{
		"status":  http.StatusForbidden,
		"error":   true,
		"message": "Forbidden",
		"service": "Access Manager",
	})
	return false
}
