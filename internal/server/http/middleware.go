package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/metrics"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/service"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/tenantctx"
)

// authMiddleware verifies the bearer token and installs the tenant context on
// the request. This is the single entry point where client identity becomes a
// TenantContext; handlers and everything below read it from the context only.
func authMiddleware(auth service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return writeError(c, errs.ErrUnauthorized)
			}
			tc, err := auth.ParseToken(token)
			if err != nil {
				return writeError(c, errs.ErrUnauthorized)
			}

			ctx := tenantctx.With(c.Request().Context(), tc)
			ctx = tenantctx.WithClientIP(ctx, c.RealIP())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// adminMiddleware gates admin routes. The storage layer checks again; this
// just fails fast with the right status.
func adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tc, ok := tenantctx.From(c.Request().Context())
		if !ok {
			return writeError(c, errs.ErrUnauthorized)
		}
		if !tc.IsAdmin {
			return writeError(c, errs.ErrAdminRequired)
		}
		return next(c)
	}
}

// metricsMiddleware records request count and duration per route.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()

		err := next(c)

		duration := time.Since(start).Seconds()
		method := c.Request().Method
		path := c.Path()
		status := strconv.Itoa(c.Response().Status)

		metrics.RequestCounter.WithLabelValues(method, path, status).Inc()
		metrics.RequestDuration.WithLabelValues(method, path, status).Observe(duration)

		return err
	}
}

// requestLogger logs one line per request. Tenant ids are logged, request
// bodies never are.
func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			fields := []zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote", c.RealIP()),
			}
			if tc, ok := tenantctx.From(c.Request().Context()); ok {
				fields = append(fields, zap.String("tenant", tc.TenantID.String()))
				if tc.IsAdmin {
					fields = append(fields, zap.Bool("admin", true))
				}
			}

			switch {
			case err != nil || c.Response().Status >= http.StatusInternalServerError:
				log.Error("request", fields...)
			case c.Response().Status >= http.StatusBadRequest:
				log.Warn("request", fields...)
			default:
				log.Info("request", fields...)
			}
			return err
		}
	}
}
