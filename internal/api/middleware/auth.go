// Package middleware holds the gin middleware of the HTTP API.
package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/netprint/internal/db"
)

const (
	cookieName           = "netprint_auth"
	tokenDuration        = 24 * time.Hour
	tokenIssuer          = "netprint"
	settingsKeyPassword  = "admin_password"
	settingsKeyJWTSecret = "jwt_secret"
)

// SettingsStore is where the admin password hash and signing key live.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Claims struct {
	jwt.RegisteredClaims
	Authenticated bool `json:"authenticated"`
}

// AuthMiddleware guards the API with a single admin password. When disabled
// every request is let through.
type AuthMiddleware struct {
	store   SettingsStore
	secret  []byte
	enabled bool
	logger  *zap.Logger
}

type PasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StatusResponse struct {
	Enabled       bool `json:"enabled"`
	Authenticated bool `json:"authenticated"`
	SetupRequired bool `json:"setup_required"`
}

func NewAuthMiddleware(ctx context.Context, store SettingsStore, enabled bool, logger *zap.Logger) (*AuthMiddleware, error) {
	a := &AuthMiddleware{store: store, enabled: enabled, logger: logger.Named("auth")}
	if !enabled {
		return a, nil
	}

	secret, err := a.loadSigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	a.secret = secret
	return a, nil
}

// loadSigningKey returns the persisted HMAC key, generating one on first use.
func (a *AuthMiddleware) loadSigningKey(ctx context.Context) ([]byte, error) {
	stored, err := a.store.GetSetting(ctx, settingsKeyJWTSecret)
	switch {
	case err == nil:
		return hex.DecodeString(stored)
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := a.store.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	a.logger.Info("generated signing key")
	return key, nil
}

// passwordHash reports the stored hash; set is false before setup.
func (a *AuthMiddleware) passwordHash(ctx context.Context) (hash string, set bool, err error) {
	hash, err = a.store.GetSetting(ctx, settingsKeyPassword)
	if errors.Is(err, db.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

func (a *AuthMiddleware) storePassword(ctx context.Context, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return a.store.SetSetting(ctx, settingsKeyPassword, string(hashed))
}

func (a *AuthMiddleware) signToken(now time.Time) (string, time.Time, error) {
	expires := now.Add(tokenDuration)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Authenticated: true,
	})
	signed, err := token.SignedString(a.secret)
	return signed, expires, err
}

func (a *AuthMiddleware) parseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid || !claims.Authenticated {
		return nil, errors.New("token does not grant access")
	}
	return claims, nil
}

// requestToken looks at the cookie, then the bearer header, then the query
// string, which is the only option for browser websocket clients.
func requestToken(c *gin.Context) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// issueToken signs a fresh token and sets it as a cookie. It writes the
// error response itself and reports whether it succeeded.
func (a *AuthMiddleware) issueToken(c *gin.Context) (TokenResponse, bool) {
	token, expires, err := a.signToken(time.Now())
	if err != nil {
		a.logger.Error("failed to sign token", zap.Error(err))
		authError(c, http.StatusInternalServerError, "token_error", "Failed to generate token")
		return TokenResponse{}, false
	}
	c.SetCookie(cookieName, token, int(tokenDuration.Seconds()), "/", "", false, true)
	return TokenResponse{Token: token, ExpiresAt: expires}, true
}

func authError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": message})
}

func (a *AuthMiddleware) Status(c *gin.Context) {
	if !a.enabled {
		c.JSON(http.StatusOK, StatusResponse{Authenticated: true})
		return
	}

	if raw := requestToken(c); raw != "" {
		if _, err := a.parseToken(raw); err == nil {
			c.JSON(http.StatusOK, StatusResponse{Enabled: true, Authenticated: true})
			return
		}
	}

	_, set, err := a.passwordHash(c.Request.Context())
	if err != nil {
		authError(c, http.StatusInternalServerError, "database_error", "Failed to read settings")
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Enabled: true, SetupRequired: !set})
}

// Setup stores the first admin password. It is refused once a password
// exists.
func (a *AuthMiddleware) Setup(c *gin.Context) {
	if !a.enabled {
		authError(c, http.StatusBadRequest, "auth_disabled", "Authentication is disabled")
		return
	}

	var req PasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "validation_error", "Password must be at least 6 characters")
		return
	}

	ctx := c.Request.Context()
	_, set, err := a.passwordHash(ctx)
	if err != nil {
		authError(c, http.StatusInternalServerError, "database_error", "Failed to read settings")
		return
	}
	if set {
		authError(c, http.StatusBadRequest, "already_setup", "Setup already completed")
		return
	}
	if err := a.storePassword(ctx, req.Password); err != nil {
		authError(c, http.StatusInternalServerError, "database_error", "Failed to save password")
		return
	}

	a.logger.Info("admin password set")
	if resp, ok := a.issueToken(c); ok {
		c.JSON(http.StatusOK, resp)
	}
}

func (a *AuthMiddleware) Login(c *gin.Context) {
	if !a.enabled {
		authError(c, http.StatusBadRequest, "auth_disabled", "Authentication is disabled")
		return
	}

	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "validation_error", "Password is required")
		return
	}

	hash, set, err := a.passwordHash(c.Request.Context())
	switch {
	case err != nil:
		authError(c, http.StatusInternalServerError, "database_error", "Failed to read settings")
		return
	case !set:
		authError(c, http.StatusForbidden, "setup_required", "Setup required")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		a.logger.Warn("failed login", zap.String("client_ip", c.ClientIP()))
		authError(c, http.StatusUnauthorized, "invalid_password", "Invalid password")
		return
	}

	if resp, ok := a.issueToken(c); ok {
		c.JSON(http.StatusOK, resp)
	}
}

func (a *AuthMiddleware) Logout(c *gin.Context) {
	c.SetCookie(cookieName, "", -1, "/", "", false, true)
	c.Status(http.StatusNoContent)
}

func (a *AuthMiddleware) ChangePassword(c *gin.Context) {
	if !a.enabled {
		authError(c, http.StatusBadRequest, "auth_disabled", "Authentication is disabled")
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		authError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	ctx := c.Request.Context()
	hash, _, err := a.passwordHash(ctx)
	if err != nil {
		authError(c, http.StatusInternalServerError, "database_error", "Failed to read settings")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.CurrentPassword)) != nil {
		authError(c, http.StatusUnauthorized, "invalid_password", "Current password is incorrect")
		return
	}
	if err := a.storePassword(ctx, req.NewPassword); err != nil {
		authError(c, http.StatusInternalServerError, "database_error", "Failed to update password")
		return
	}

	a.logger.Info("admin password changed")
	if resp, ok := a.issueToken(c); ok {
		c.JSON(http.StatusOK, resp)
	}
}

// RequireAuth rejects requests without a valid token.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.enabled {
			c.Next()
			return
		}

		raw := requestToken(c)
		if raw == "" {
			authError(c, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		claims, err := a.parseToken(raw)
		if err != nil {
			authError(c, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		c.Set("claims", claims)
		c.Next()
	}
}

// RegisterAuthRoutes mounts the endpoints reachable without a token.
func RegisterAuthRoutes(r *gin.RouterGroup, a *AuthMiddleware) {
	r.GET("/auth/status", a.Status)
	r.POST("/auth/setup", a.Setup)
	r.POST("/auth/login", a.Login)
	r.POST("/auth/logout", a.Logout)
}
