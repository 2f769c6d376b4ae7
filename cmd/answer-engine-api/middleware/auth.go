// Package middleware provides HTTP middleware for the Answer Engine API.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Context keys for request-scoped values.
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// ZonesKey is the context key for the zones the user may query.
	ZonesKey contextKey = "zones"
	// RolesKey is the context key for user roles.
	RolesKey contextKey = "roles"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	Secret  string // HMAC signing key
	Issuer  string // optional issuer check
}

// Auth returns an authentication middleware. Tokens are HMAC-signed JWTs
// carrying the user ID in "sub" and the permitted zones in a "zones"
// string-array claim. An absent or empty "zones" claim permits all zones.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Dev mode: take the user from a header, permit everything
			if !cfg.Enabled {
				userID := r.Header.Get("X-User-ID")
				if userID == "" {
					userID = "dev"
				}

				ctx := context.WithValue(r.Context(), UserIDKey, userID)
				ctx = context.WithValue(ctx, RolesKey, []string{"admin"})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			claims, err := validateToken(parts[1], cfg)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, ZonesKey, claims.Zones)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenClaims represents validated token claims.
type TokenClaims struct {
	UserID string
	Zones  []string
	Roles  []string
}

func validateToken(tokenStr string, cfg AuthConfig) (*TokenClaims, error) {
	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token is not valid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type")
	}

	claims := &TokenClaims{}
	claims.UserID, _ = mapClaims["sub"].(string)
	if claims.UserID == "" {
		return nil, fmt.Errorf("missing sub claim")
	}
	claims.Zones = stringSliceClaim(mapClaims, "zones")
	claims.Roles = stringSliceClaim(mapClaims, "roles")

	return claims, nil
}

func stringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// UserFromContext extracts the user ID from context.
func UserFromContext(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ZonesFromContext extracts the permitted zones from context.
// Nil means no restriction.
func ZonesFromContext(ctx context.Context) []string {
	if v := ctx.Value(ZonesKey); v != nil {
		if zones, ok := v.([]string); ok {
			return zones
		}
	}
	return nil
}

// ZoneAllowed reports whether the context's user may query the given zone.
func ZoneAllowed(ctx context.Context, zone string) bool {
	zones := ZonesFromContext(ctx)
	if len(zones) == 0 {
		return true
	}
	for _, z := range zones {
		if strings.EqualFold(z, zone) {
			return true
		}
	}
	return false
}

// HasRole checks if the context has a specific role.
func HasRole(ctx context.Context, role string) bool {
	if v := ctx.Value(RolesKey); v != nil {
		if roles, ok := v.([]string); ok {
			for _, r := range roles {
				if r == role || r == "admin" {
					return true
				}
			}
		}
	}
	return false
}

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
