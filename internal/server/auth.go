package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/pauldest/newsdigest/config"
)

const tokenTTL = 24 * time.Hour

// Auth is a single-admin JWT login. With no jwt_secret configured the
// surface runs open (local deployments).
type Auth struct {
	secret       []byte
	adminUser    string
	passwordHash []byte
}

// NewAuth hashes the configured admin password at startup.
func NewAuth(cfg config.ServerConfig) (*Auth, error) {
	a := &Auth{adminUser: cfg.AdminUser}
	if cfg.JWTSecret == "" {
		return a, nil
	}
	a.secret = []byte(cfg.JWTSecret)
	if cfg.AdminPassword == "" {
		return nil, fmt.Errorf("server.admin_password required when jwt_secret is set")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash admin password: %w", err)
	}
	a.passwordHash = hash
	return a, nil
}

// Enabled reports whether requests must carry a token.
func (a *Auth) Enabled() bool { return len(a.secret) > 0 }

// Register mounts the login route.
func (a *Auth) Register(g *echo.Group) {
	g.POST("/login", a.handleLogin)
}

func (a *Auth) handleLogin(c echo.Context) error {
	if !a.Enabled() {
		return c.JSON(http.StatusOK, map[string]string{"token": ""})
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Username != a.adminUser ||
		bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub": req.Username,
		"exp": time.Now().Add(tokenTTL).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"token": signed})
}

// Middleware validates the bearer token on protected routes.
func (a *Auth) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			raw := strings.TrimPrefix(header, "Bearer ")
			if raw == "" || raw == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return a.secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims, ok := token.Claims.(jwt.MapClaims); ok {
				c.Set("user", claims["sub"])
			}
			return next(c)
		}
	}
}
