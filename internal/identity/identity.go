// Package identity verifies bearer tokens and exposes the authenticated user
// to the rest of the service. Tokens are issued by an external identity
// provider; this package only validates them.
package identity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"github.com/vaultdrive/vaultdrive/internal/drive"
	"github.com/vaultdrive/vaultdrive/internal/metrics"
)

type contextKey string

const userContextKey contextKey = "user"

// Claims holds the verified token claims.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens. Shared-secret JWT and OIDC can both be
// configured; OIDC is tried when the local secret does not match.
type Verifier struct {
	secret       []byte
	oidcVerifier *oidc.IDTokenVerifier
}

// Config holds verifier settings. An empty JWTSecret disables local JWT
// validation; an empty IssuerURL disables OIDC.
type Config struct {
	JWTSecret string
	IssuerURL string
	ClientID  string
}

// NewVerifier creates a Verifier from config.
func NewVerifier(ctx context.Context, cfg Config) (*Verifier, error) {
	v := &Verifier{}
	if cfg.JWTSecret != "" {
		v.secret = []byte(cfg.JWTSecret)
	}
	if cfg.IssuerURL != "" {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("oidc provider init: %w", err)
		}
		v.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	if v.secret == nil && v.oidcVerifier == nil {
		return nil, fmt.Errorf("no token verification configured")
	}
	return v, nil
}

// Verify validates a token string and returns its claims.
func (v *Verifier) Verify(ctx context.Context, tokenStr string) (*Claims, error) {
	if v.secret != nil {
		claims, err := v.verifyLocal(tokenStr)
		if err == nil {
			return claims, nil
		}
		if v.oidcVerifier == nil {
			return nil, err
		}
	}
	return v.verifyOIDC(ctx, tokenStr)
}

func (v *Verifier) verifyLocal(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token carries no user identity")
	}
	return claims, nil
}

func (v *Verifier) verifyOIDC(ctx context.Context, tokenStr string) (*Claims, error) {
	idToken, err := v.oidcVerifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	if idToken.Subject == "" {
		return nil, fmt.Errorf("token carries no subject")
	}
	return &Claims{
		UserID: idToken.Subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: idToken.Subject,
			Issuer:  idToken.Issuer,
		},
	}, nil
}

// Middleware validates the request's bearer token and stores the claims in
// the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, "missing authentication token")
			return
		}

		claims, err := v.Verify(r.Context(), tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, "invalid token")
			return
		}

		metrics.RecordAuthAttempt(true)
		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

// WithClaims injects claims into a context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// ContextIdentity reads the authenticated user from request contexts. It
// implements drive.Identity.
type ContextIdentity struct{}

// CurrentUser returns the caller's user ID from the context claims.
func (ContextIdentity) CurrentUser(ctx context.Context) (string, error) {
	claims := GetClaims(ctx)
	if claims == nil || claims.UserID == "" {
		return "", drive.ErrAuthentication
	}
	return claims.UserID, nil
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, for SSE clients that cannot set headers
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":%q,"code":%d}`, message, http.StatusUnauthorized)
}
