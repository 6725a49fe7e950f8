package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/errors"
	"github.com/rs/zerolog/log"
)

// AdminRole is the role carried by operator tokens.
const AdminRole = "admin"

// Claims defines the JWT claims structure.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type contextKey string

// ClaimsKey is the context key for validated claims.
const ClaimsKey = contextKey("claims")

// Manager issues and validates HS256 tokens with a single secret.
type Manager struct {
	key []byte
}

// NewManager creates a new Manager. The secret must not be empty.
func NewManager(secret string) (*Manager, error) {
	if secret == "" {
		return nil, errors.NotValidf("empty JWT secret")
	}
	return &Manager{key: []byte(secret)}, nil
}

// GenerateJWT creates a new admin token for subject that expires after ttl.
func (m *Manager) GenerateJWT(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.NotValidf("empty token subject")
	}
	if ttl <= 0 {
		return "", errors.NotValidf("token lifetime %s", ttl)
	}

	now := time.Now()
	claims := &Claims{
		Role: AdminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.key)
	return signed, errors.Trace(err)
}

// ValidateJWT parses and validates a JWT string.
func (m *Manager) ValidateJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Annotate(err, "invalid token")
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Role != AdminRole {
		return nil, errors.Errorf("token role %q is not allowed", claims.Role)
	}
	return claims, nil
}

// Middleware rejects requests without a valid token in the Authorization header or the token cookie.
func (m *Manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := tokenFromRequest(r)
			if tokenStr == "" {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}

			claims, err := m.ValidateJWT(tokenStr)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected auth token")
				http.Error(w, "Invalid auth token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by Middleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}
