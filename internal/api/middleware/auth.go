package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/marketplace-ledger/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	traceContextKey    contextKey = "trace_id"
)

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
	RoleBuyer  = "buyer"
)

var (
	jwtSecret   []byte
	jwtIssuer   string
	jwtAudience string
)

// identity is the caller a verified token speaks for. Sellers and buyers
// act on behalf of one organization; admins usually carry none.
type identity struct {
	UserID         string
	Role           string
	OrganizationID string
}

type authClaims struct {
	UserID         string `json:"user_id"`
	Role           string `json:"role"`
	OrganizationID string `json:"organization_id,omitempty"`
	jwt.RegisteredClaims
}

// authError pairs a problem slug with its client-facing detail.
type authError struct {
	slug   string
	detail string
}

func (e *authError) Error() string { return e.detail }

var (
	errMissingHeader = &authError{"auth/authorization-header-required", "Authorization header required"}
	errTokenFormat   = &authError{"auth/invalid-token-format", "Invalid token format"}
	errInvalidToken  = &authError{"auth/invalid-token", "Invalid token"}
	errInvalidClaims = &authError{"auth/invalid-token-claims", "Invalid token claims"}
	errUnknownRole   = &authError{"auth/unknown-role", "Token role is not recognised"}
	errMissingOrg    = &authError{"auth/organization-required", "Seller and buyer tokens must carry an organization_id"}
)

func SetJWTSecret(secret string) {
	if secret == "" {
		return
	}
	jwtSecret = []byte(secret)
}

func SetJWTValidation(issuer, audience string) {
	jwtIssuer = strings.TrimSpace(issuer)
	jwtAudience = strings.TrimSpace(audience)
}

// JWTSecret returns a copy of the signing key.
func JWTSecret() []byte {
	return append([]byte(nil), jwtSecret...)
}

// AuthMiddleware verifies the bearer token and stores the caller's identity
// in the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtSecret) == 0 {
			problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), http.StatusText(http.StatusInternalServerError), "auth is not configured")
			return
		}
		id, err := authenticate(r.Header.Get("Authorization"))
		if err != nil {
			var ae *authError
			if !errors.As(err, &ae) {
				ae = errInvalidToken
			}
			problem.Write(w, r, http.StatusUnauthorized, problem.Type(ae.slug), http.StatusText(http.StatusUnauthorized), ae.detail)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, id)))
	})
}

func authenticate(header string) (identity, error) {
	if header == "" {
		return identity{}, errMissingHeader
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return identity{}, errTokenFormat
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if jwtIssuer != "" {
		opts = append(opts, jwt.WithIssuer(jwtIssuer))
	}
	if jwtAudience != "" {
		opts = append(opts, jwt.WithAudience(jwtAudience))
	}
	claims := &authClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return identity{}, errInvalidToken
	}

	if claims.UserID == "" || (claims.Subject != "" && claims.Subject != claims.UserID) {
		return identity{}, errInvalidClaims
	}
	switch claims.Role {
	case RoleAdmin:
	case RoleSeller, RoleBuyer:
		if _, err := uuid.Parse(claims.OrganizationID); err != nil {
			return identity{}, errMissingOrg
		}
	default:
		return identity{}, errUnknownRole
	}
	return identity{UserID: claims.UserID, Role: claims.Role, OrganizationID: claims.OrganizationID}, nil
}

// RequireRole admits only callers holding role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return RequireAnyRole(role)
}

// RequireAnyRole admits callers holding one of roles.
func RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := UserRoleFromContext(r.Context())
			for _, allowed := range roles {
				if role == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), http.StatusText(http.StatusForbidden), "insufficient permissions")
		})
	}
}

func identityFromContext(ctx context.Context) identity {
	if ctx == nil {
		return identity{}
	}
	id, _ := ctx.Value(identityContextKey).(identity)
	return id
}

func UserIDFromContext(ctx context.Context) string {
	return identityFromContext(ctx).UserID
}

func UserRoleFromContext(ctx context.Context) string {
	return identityFromContext(ctx).Role
}

// OrganizationIDFromContext returns the organization the token was issued for.
func OrganizationIDFromContext(ctx context.Context) string {
	return identityFromContext(ctx).OrganizationID
}

// TraceIDFromContext returns the request's trace id, set by TraceMiddleware.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(traceContextKey).(string)
	return v
}
