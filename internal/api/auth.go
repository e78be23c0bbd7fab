package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fuomag9/inframirror/internal/models"
	"github.com/fuomag9/inframirror/internal/store"
	"github.com/fuomag9/inframirror/internal/websocket"
)

type contextKey string

const principalContextKey contextKey = "principal"

// apiKeyPrefixLen is the number of leading key characters stored in clear
// for lookup
const apiKeyPrefixLen = 8

// Principal is the authenticated caller: a user session or an API key
type Principal struct {
	UserID   int            `json:"user_id,omitempty"`
	Username string         `json:"username,omitempty"`
	APIKey   *models.APIKey `json:"api_key,omitempty"`
}

// Allows reports whether the caller may act with the given scope. Users
// have every scope.
func (p *Principal) Allows(scope string) bool {
	if p.APIKey == nil {
		return true
	}
	return p.APIKey.HasScope(scope)
}

func principalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey).(*Principal)
	return p
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents login response
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// HandleLogin exchanges credentials for a JWT
func HandleLogin(s *store.Store, secret string, ttl time.Duration, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, logger, err)
			return
		}

		user, err := s.GetUserByUsername(r.Context(), req.Username)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			writeError(w, logger, err)
			return
		}
		if user == nil || !user.Active ||
			bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
			logger.Info("Login failed", zap.String("username", req.Username), zap.String("remote", clientIP(r)))
			writeMessage(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		expiresAt := time.Now().Add(ttl)
		token, err := generateJWT(user.ID, secret, expiresAt)
		if err != nil {
			writeError(w, logger, fmt.Errorf("failed to sign token: %w", err))
			return
		}

		logger.Info("Login succeeded", zap.String("username", user.Username))
		writeJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt.UTC(), User: user})
	}
}

// HandleGetCurrentPrincipal returns the authenticated caller
func HandleGetCurrentPrincipal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, principalFrom(r.Context()))
	}
}

// AuthMiddleware authenticates requests by bearer JWT or X-API-Key. API keys
// need the read scope for safe methods and the write scope otherwise.
func AuthMiddleware(secret string, s *store.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authenticate(r, secret, s)
			if err != nil {
				logger.Debug("Authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
				writeMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			scope := models.ScopeWrite
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				scope = models.ScopeRead
			}
			if !p.Allows(scope) {
				writeMessage(w, http.StatusForbidden, "api key lacks the "+scope+" scope")
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects API keys without scope
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p := principalFrom(r.Context()); p == nil || !p.Allows(scope) {
				writeMessage(w, http.StatusForbidden, "api key lacks the "+scope+" scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func authenticate(r *http.Request, secret string, s *store.Store) (*Principal, error) {
	if raw := r.Header.Get("X-API-Key"); raw != "" {
		key, err := authenticateAPIKey(r.Context(), s, raw)
		if err != nil {
			return nil, err
		}
		return &Principal{APIKey: key}, nil
	}

	authHeader := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || tokenString == "" {
		return nil, errors.New("missing bearer token or api key")
	}

	userID, err := parseJWT(tokenString, secret)
	if err != nil {
		return nil, err
	}
	user, err := s.GetUser(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, errors.New("user is disabled")
	}
	return &Principal{UserID: user.ID, Username: user.Username}, nil
}

// authenticateAPIKey finds the key by its clear prefix and checks the rest
// against the stored bcrypt hash.
func authenticateAPIKey(ctx context.Context, s *store.Store, raw string) (*models.APIKey, error) {
	if len(raw) <= apiKeyPrefixLen {
		return nil, errors.New("malformed api key")
	}
	candidates, err := s.APIKeysByPrefix(ctx, raw[:apiKeyPrefixLen])
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		key := &candidates[i]
		if key.IsExpired() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) == nil {
			_ = s.TouchAPIKey(ctx, key.ID)
			return key, nil
		}
	}
	return nil, errors.New("unknown or expired api key")
}

func parseJWT(tokenString, secret string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("unexpected claims")
	}
	uid, ok := claims["user_id"].(float64)
	if !ok {
		return 0, errors.New("token has no user_id")
	}
	return int(uid), nil
}

// generateJWT generates a JWT token for a user
func generateJWT(userID int, secret string, expiresAt time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"iat":     time.Now().Unix(),
		"exp":     expiresAt.Unix(),
	})
	return token.SignedString([]byte(secret))
}

// WebSocketAuthenticator accepts the same credentials as the REST API. The
// JWT may also come from the token query parameter.
func WebSocketAuthenticator(secret string, s *store.Store) websocket.Authenticator {
	jwtAuth := websocket.JWTAuthenticator(secret)
	return func(r *http.Request) (string, bool) {
		if raw := r.Header.Get("X-API-Key"); raw != "" {
			key, err := authenticateAPIKey(r.Context(), s, raw)
			if err != nil || !key.HasScope(models.ScopeRead) {
				return "", false
			}
			return fmt.Sprintf("apikey:%d", key.ID), true
		}
		return jwtAuth(r)
	}
}

// BootstrapAdmin makes sure the configured admin account exists. An existing
// account keeps its password.
func BootstrapAdmin(ctx context.Context, s *store.Store, username, password, passwordHash string) (bool, error) {
	_, err := s.GetUserByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	hash := passwordHash
	if hash == "" {
		if password == "" {
			return false, errors.New("ADMIN_PASSWORD or ADMIN_PASSWORD_HASH is required to create the admin user")
		}
		generated, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return false, fmt.Errorf("failed to hash admin password: %w", err)
		}
		hash = string(generated)
	} else if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return false, fmt.Errorf("ADMIN_PASSWORD_HASH is not a bcrypt hash: %w", err)
	}
	return s.EnsureUser(ctx, username, hash)
}
