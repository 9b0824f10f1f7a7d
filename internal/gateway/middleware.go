package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const (
	claimsKey = "standhub.claims"
	tokenKey  = "standhub.token"
)

type errorBody struct {
	Error string `json:"error"`
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// requireSession rejects requests without a valid session token with 401
// and stores the verified claims on the context.
func requireSession(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := bearerToken(c.Request())
			if !ok {
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "missing bearer token"})
			}
			claims, err := issuer.Verify(token)
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("Rejected session token")
				return c.JSON(http.StatusUnauthorized, errorBody{Error: "invalid or expired token"})
			}
			c.Set(claimsKey, claims)
			c.Set(tokenKey, token)
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) *Claims {
	claims, _ := c.Get(claimsKey).(*Claims)
	return claims
}

// requestLogger logs one line per request.
func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		log.Info().
			Str("method", c.Request().Method).
			Str("path", c.Request().URL.Path).
			Int("status", c.Response().Status).
			Dur("latency", time.Since(start)).
			Msg("Request handled")
		return nil
	}
}
