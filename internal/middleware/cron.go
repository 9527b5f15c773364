package middleware

import (
	"crypto/subtle"
	"net"
	"strings"

	"digital-goods-marketplace/internal/apperror"

	"github.com/labstack/echo/v4"
)

// CronAuth guards the scheduler endpoints. With a secret set the caller must
// send it as a bearer token; without one only loopback callers get through.
func CronAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if secret == "" {
				if !isLoopback(c.Request().RemoteAddr) {
					return apperror.New(apperror.CodeForbidden, "cron endpoints are local only")
				}
				return next(c)
			}

			got, _ := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				return apperror.New(apperror.CodeUnauthorized, "invalid cron secret")
			}
			return next(c)
		}
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
