// internal/auth/authenticator.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/cambia-lobby/internal/models"
	"github.com/sirupsen/logrus"
)

// CookieName is the cookie browsers carry the bearer token in.
const CookieName = "auth_token"

// ErrNoCredential is returned when a request carries no token at all.
var ErrNoCredential = errors.New("no auth token provided")

// Directory resolves a user's display name. The postgres user table implements it.
type Directory interface {
	DisplayName(ctx context.Context, userID uuid.UUID) (string, error)
}

// Authenticator turns a bearer credential into the user it identifies. It is consulted
// on every connection attempt and every poll request.
type Authenticator struct {
	// Directory is optional; without it the token's name claim or a fallback is used.
	Directory Directory
	Logger    logrus.FieldLogger
}

// NewAuthenticator returns an Authenticator backed by dir (which may be nil).
func NewAuthenticator(dir Directory, logger logrus.FieldLogger) *Authenticator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Authenticator{Directory: dir, Logger: logger}
}

// Authenticate verifies token and returns the user. The display name comes from the
// directory when one is configured, then from the token's "name" claim, then from
// FallbackName.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrNoCredential
	}
	claims, err := parse(token)
	if err != nil {
		return models.User{}, err
	}
	sub, ok := claims["sub"].(string)
	if !ok {
		return models.User{}, fmt.Errorf("missing sub in jwt")
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return models.User{}, fmt.Errorf("invalid user id in token: %w", err)
	}

	user := models.User{ID: id}
	if a.Directory != nil {
		name, err := a.Directory.DisplayName(ctx, id)
		if err != nil {
			a.Logger.Debugf("display name lookup for %s failed: %v", id, err)
		} else {
			user.Username = name
		}
	}
	if user.Username == "" {
		user.Username, _ = claims["name"].(string)
	}
	if user.Username == "" {
		user.Username = FallbackName(id)
	}
	return user, nil
}

// AuthenticateRequest extracts the token from r and authenticates it.
func (a *Authenticator) AuthenticateRequest(r *http.Request) (models.User, error) {
	return a.Authenticate(r.Context(), TokenFromRequest(r))
}

// FallbackName is the display name of a user nobody has named yet.
func FallbackName(id uuid.UUID) string {
	return "User_" + id.String()[:4]
}

// TokenFromRequest looks for a bearer token in the Authorization header, then the
// auth_token cookie, then a "token" query parameter (browsers cannot set headers on a
// websocket upgrade).
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := extractCookieToken(r.Header.Get("Cookie"), CookieName); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// extractCookieToken extracts a named cookie value from "Cookie" header, or returns empty if not found.
func extractCookieToken(cookieHeader, cookieName string) string {
	parts := strings.Split(cookieHeader, cookieName+"=")
	if len(parts) < 2 {
		return ""
	}
	token := parts[1]
	if idx := strings.Index(token, ";"); idx != -1 {
		token = token[:idx]
	}
	return token
}
