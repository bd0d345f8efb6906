package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleService = "service"
	RoleAdmin   = "admin"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

// Claims identifies the calling service or operator.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthManager mints and verifies HS256 bearer tokens.
type AuthManager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthManager(secret, issuer string) *AuthManager {
	return &AuthManager{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Mint signs a token for subject with role. The seed command uses it for local runs.
func (a *AuthManager) Mint(subject, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ParseFromRequest(r *http.Request) (*Claims, error) {
	// Authorization: Bearer <jwt>
	hdr := r.Header.Get("Authorization")
	if len(hdr) < 7 || !strings.EqualFold(hdr[:7], "bearer ") {
		return nil, errMissingToken
	}
	return a.parse(strings.TrimSpace(hdr[7:]))
}

func (a *AuthManager) parse(tok string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return nil, errInvalidToken
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFrom returns the claims stored by RequireRole.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// RequireRole admits requests whose token carries one of roles. Admin
// tokens pass every check.
func (a *AuthManager) RequireRole(roles ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := a.ParseFromRequest(r)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="reconciler"`)
				WriteError(w, http.StatusUnauthorized, err.Error())
				return
			}
			if !hasRole(claims.Role, roles) {
				WriteError(w, http.StatusForbidden, "insufficient role")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func hasRole(role string, allowed []string) bool {
	if role == RoleAdmin {
		return true
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
