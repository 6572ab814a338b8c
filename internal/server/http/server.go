// Package http exposes the service over a JSON HTTP API.
package http

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/repository"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MB

// Server wires services to routes.
type Server struct {
	e         *echo.Echo
	auth      service.AuthService
	entries   service.EntryService
	store     service.ContextStore
	inference *service.InferenceAdapter
	erasure   *service.ErasureService
	audits    repository.AuditRepository
	log       *zap.Logger
}

// New constructs the HTTP server and registers all routes.
func New(
	auth service.AuthService,
	entries service.EntryService,
	store service.ContextStore,
	inference *service.InferenceAdapter,
	erasure *service.ErasureService,
	audits repository.AuditRepository,
	log *zap.Logger,
) *Server {
	s := &Server{
		e:         echo.New(),
		auth:      auth,
		entries:   entries,
		store:     store,
		inference: inference,
		erasure:   erasure,
		audits:    audits,
		log:       log,
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.e
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxBodyBytes)))
	e.Use(requestLogger(s.log))
	e.Use(metricsMiddleware)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/register", s.register)
	e.POST("/api/login", s.login)

	api := e.Group("/api", authMiddleware(s.auth))

	entryHandlers{s, model.KindMood}.mount(api.Group("/mood"))
	entryHandlers{s, model.KindDream}.mount(api.Group("/dreams"))
	entryHandlers{s, model.KindTherapy}.mount(api.Group("/therapy"))

	api.GET("/ai/context", s.getAIContext)
	api.PUT("/ai/context", s.updateAIContext)
	api.DELETE("/ai/context", s.deleteAIContext)
	api.GET("/ai/conversations/:session_id", s.getConversation)
	api.POST("/ai/conversations/:session_id/messages", s.appendMessage)
	api.DELETE("/ai/conversations/:session_id", s.deleteConversation)

	api.DELETE("/account", s.eraseAccount)

	admin := api.Group("/admin", adminMiddleware)
	admin.GET("/audit", s.queryAudit)
	admin.GET("/audit/suspicious", s.suspiciousAudit)
	admin.GET("/entries/:kind", s.adminListEntries)
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func readBody(c echo.Context) ([]byte, error) {
	defer c.Request().Body.Close()
	return io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
}

func paramID(c echo.Context) (uuid.UUID, error) {
	return paramUUID(c, "id")
}

func paramUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.FromString(c.Param(name))
	if err != nil {
		return uuid.Nil, errs.Validation(name, "not a uuid")
	}
	return id, nil
}

func kindFromParam(p string) (model.EntryKind, bool) {
	switch p {
	case "mood":
		return model.KindMood, true
	case "dreams":
		return model.KindDream, true
	case "therapy":
		return model.KindTherapy, true
	default:
		return "", false
	}
}

func parseEntryFilter(c echo.Context) (model.EntryFilter, error) {
	var f model.EntryFilter
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.Validation("since", "not RFC3339")
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errs.Validation("until", "not RFC3339")
		}
		f.Until = &t
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errs.Validation("limit", "not a positive integer")
		}
		f.Limit = n
	}
	f.IncludeDeleted = c.QueryParam("include_deleted") == "true"
	return f, nil
}
