package web

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// bearerAuth accepts HS256 tokens signed with secret
func bearerAuth(secret []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw, ok := strings.CutPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
			if !ok || raw == "" {
				return errorResponse(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "missing bearer token")
			}

			claims := jwt.RegisteredClaims{}
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				return errorResponse(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "invalid token")
			}
			c.Set("subject", claims.Subject)
			return next(c)
		}
	}
}
