package middleware

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"expert-booking/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Claims carried by tokens from the identity provider. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var knownRoles = []string{utils.RoleClient, utils.RoleExpert, utils.RoleAdmin}

// Authenticate validates the bearer token and stores the caller's principal in the request context.
func Authenticate(secret, issuer string, logger *zap.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5 * time.Second),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.ResponseUnauthorized(w, "Missing authorization token")
				return
			}

			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				utils.ResponseUnauthorized(w, "Invalid token format. Use: Bearer <token>")
				return
			}

			claims := &Claims{}
			_, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					utils.ResponseUnauthorized(w, "Token expired")
					return
				}
				logger.Warn("Rejected bearer token",
					zap.String("path", r.URL.Path),
					zap.Error(err))
				utils.ResponseUnauthorized(w, "Invalid token")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil || !slices.Contains(knownRoles, claims.Role) {
				logger.Warn("Token carries an unusable principal",
					zap.String("sub", claims.Subject),
					zap.String("role", claims.Role))
				utils.ResponseUnauthorized(w, "Invalid token")
				return
			}

			ctx := utils.SetPrincipal(r.Context(), utils.Principal{ID: userID, Role: claims.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only for the listed roles. Must run after Authenticate.
func RequireRole(logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := utils.GetPrincipalFromContext(r.Context())
			if !ok {
				utils.ResponseUnauthorized(w, "Authentication required")
				return
			}

			if !slices.Contains(roles, principal.Role) {
				logger.Warn("Role check: access denied",
					zap.String("user_id", principal.ID.String()),
					zap.String("role", principal.Role),
					zap.String("path", r.URL.Path))
				utils.ResponseForbidden(w, strings.Join(roles, " or ")+" access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
