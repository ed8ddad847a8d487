package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims issued by the identity service.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
}

// JWTValidator validates HS256 tokens signed with a shared secret.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator returns nil when secret is empty.
func NewJWTValidator(secret, issuer string) *JWTValidator {
	if secret == "" {
		return nil
	}
	return &JWTValidator{secret: []byte(secret), issuer: issuer}
}

// Validate parses tokenStr and returns its claims.
func (v *JWTValidator) Validate(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token subject is required")
	}
	if claims.CompanyID == "" {
		return nil, fmt.Errorf("token company binding is required")
	}
	return claims, nil
}

// Sign issues a token for claims. Only used by tests and local tooling;
// production tokens come from the identity service.
func (v *JWTValidator) Sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Principal converts validated claims into a request principal.
func (c *Claims) Principal() Principal {
	return Principal{UserID: c.Subject, CompanyID: c.CompanyID, Role: c.Role}
}

// PrincipalFromAuthorization validates an "Authorization: Bearer" value.
func (v *JWTValidator) PrincipalFromAuthorization(header string) (Principal, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return Principal{}, fmt.Errorf("invalid authorization header format")
	}
	claims, err := v.Validate(strings.TrimSpace(parts[1]))
	if err != nil {
		return Principal{}, err
	}
	return claims.Principal(), nil
}

var publicPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// Middleware authenticates every non-public request. A nil validator fails
// closed.
func Middleware(v *JWTValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, "missing Authorization header")
				return
			}
			if v == nil {
				writeUnauthorized(w, "authentication not configured")
				return
			}

			p, err := v.PrincipalFromAuthorization(header)
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="expense-approvals"`)
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":{"code":"UNAUTHORIZED","message":%q}}`, msg)
}

// Authenticate returns ctx carrying the principal of an authorization
// header value. Used by the gRPC interceptor.
func (v *JWTValidator) Authenticate(ctx context.Context, header string) (context.Context, error) {
	if v == nil {
		return nil, fmt.Errorf("authentication not configured")
	}
	p, err := v.PrincipalFromAuthorization(header)
	if err != nil {
		return nil, err
	}
	return WithPrincipal(ctx, p), nil
}
