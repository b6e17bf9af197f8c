package novasite

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleAdmin reports the session state and hands out the CSRF token the
// other admin calls must echo back in X-CSRF-Token.
func (a *App) handleAdmin(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"authenticated": IsAdmin(c),
		"csrf":          CsrfToken(c),
	})
}

func (a *App) handleAdminLogin(c echo.Context) error {
	if !a.loginLimiter.Allow(c.RealIP()) {
		return jsonError(c, http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) != 1 {
		a.log.Warn("admin login failed", zap.String("ip", c.RealIP()))
		return jsonError(c, http.StatusUnauthorized, "Invalid password")
	}
	if err := setAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// handleAdminSubmissions lists stored submissions, newest first, optionally
// filtered with ?type=.
func (a *App) handleAdminSubmissions(c echo.Context) error {
	typ := SubmissionType(c.QueryParam("type"))
	if typ != "" && !typ.Valid() {
		return jsonError(c, http.StatusBadRequest, "Unknown type")
	}
	subs, err := a.Store.ListSubmissions(typ)
	if err != nil {
		return err
	}
	if subs == nil {
		subs = []Submission{}
	}
	count, err := a.Store.CountSubscribers()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"submissions": subs,
		"subscribers": count,
	})
}

func (a *App) handleAdminDeleteSubscriber(c echo.Context) error {
	email := c.Param("email")
	if err := a.Store.DeleteSubscriber(email); err != nil {
		if isNotFound(err) {
			return echo.NewHTTPError(http.StatusNotFound, "Subscriber not found")
		}
		return err
	}
	a.log.Info("subscriber removed", zap.String("email", email))
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
