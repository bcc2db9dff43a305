package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ariefcatur/go-grocery-orders/internal/apperr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const RoleAdmin = "admin"

type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok && id.UserID != ""
}

// Authenticator accepts an HS256 bearer token (sub = user id, role) or a guest session token.
// Guests share the order repository under the user id "guest:<token>".
type Authenticator struct {
	Secret []byte
	Log    zerolog.Logger
}

func (a *Authenticator) identify(r *http.Request) (Identity, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return Identity{}, &apperr.AuthError{Reason: "malformed authorization header"}
		}
		tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return a.Secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !tok.Valid {
			return Identity{}, &apperr.AuthError{Reason: "invalid token"}
		}
		claims, ok := tok.Claims.(jwt.MapClaims)
		if !ok {
			return Identity{}, &apperr.AuthError{Reason: "invalid token"}
		}
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return Identity{}, &apperr.AuthError{Reason: "token has no subject"}
		}
		role, _ := claims["role"].(string)
		return Identity{UserID: sub, Role: role}, nil
	}
	if g := strings.TrimSpace(r.Header.Get("X-Guest-Token")); g != "" {
		return Identity{UserID: "guest:" + g}, nil
	}
	return Identity{}, &apperr.AuthError{Reason: "no active session"}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.identify(r)
		if err != nil {
			writeError(w, r, a.Log, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || id.Role != RoleAdmin {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IssueToken signs a token for tests and local tooling.
func (a *Authenticator) IssueToken(userID, role string) (string, error) {
	if len(a.Secret) == 0 {
		return "", errors.New("no signing secret")
	}
	claims := jwt.MapClaims{"sub": userID}
	if role != "" {
		claims["role"] = role
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}
