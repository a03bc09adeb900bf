package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/svat/internal/runtime"
	"github.com/mohammad-safakhou/svat/internal/store"
)

const minPasswordLength = 8

type AuthHandler struct {
	Store         *store.Store
	Secret        []byte
	TokenTTL      time.Duration
	SecureCookies bool
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/signup", a.signup)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
	g.GET("/me", a.me, runtime.EchoAuthMiddleware(a.Secret))
}

// Signup
//
//	@Summary	User signup
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		AuthSignupRequest	true	"Signup payload"
//	@Success	201		{object}	TokenResponse
//	@Failure	400		{object}	HTTPError
//	@Failure	409		{object}	HTTPError
//	@Router		/auth/signup [post]
func (a *AuthHandler) signup(c echo.Context) error {
	var req AuthSignupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a valid email is required")
	}
	if len(req.Password) < minPasswordLength {
		return echo.NewHTTPError(http.StatusBadRequest, "password too short")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	id, err := a.Store.CreateUser(c.Request().Context(), req.Email, string(hash), strings.TrimSpace(req.FullName))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	signed, err := a.issue(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, TokenResponse{Token: signed})
}

// Login
//
//	@Summary		Login
//	@Description	Returns JWT in cookie and body; supports Bearer flows
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthLoginRequest	true	"Login payload"
//	@Success		200		{object}	TokenResponse
//	@Failure		401		{object}	HTTPError
//	@Router			/auth/login [post]
func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email and password are required")
	}
	id, hash, err := a.Store.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	signed, err := a.issue(c, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

// Logout
//
//	@Summary	Logout
//	@Tags		auth
//	@Success	200	{string}	string	"OK"
//	@Router		/auth/logout [post]
func (a *AuthHandler) logout(c echo.Context) error {
	cookie := new(http.Cookie)
	cookie.Name = runtime.AuthCookie
	cookie.Value = ""
	cookie.Path = "/"
	cookie.MaxAge = -1
	c.SetCookie(cookie)
	return c.NoContent(http.StatusOK)
}

func (a *AuthHandler) me(c echo.Context) error {
	u, err := a.Store.GetUserByID(c.Request().Context(), runtime.UserID(c))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unknown user")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, MeResponse{UserID: u.ID, Email: u.Email, FullName: u.FullName})
}

// issue signs a token, sets it as the auth cookie and mirrors it in the
// Authorization response header.
func (a *AuthHandler) issue(c echo.Context, userID string) (string, error) {
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	signed, err := runtime.SignJWT(userID, a.Secret, ttl)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	cookie := new(http.Cookie)
	cookie.Name = runtime.AuthCookie
	cookie.Value = signed
	cookie.Path = "/"
	cookie.HttpOnly = true
	cookie.SameSite = http.SameSiteLaxMode
	cookie.Secure = a.SecureCookies
	cookie.Expires = time.Now().Add(ttl)
	c.SetCookie(cookie)
	c.Response().Header().Set("Authorization", "Bearer "+signed)
	return signed, nil
}
