package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

type entryResponse struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func toEntryResponse(e *model.Entry) entryResponse {
	return entryResponse{
		ID:        e.ID.String(),
		Payload:   json.RawMessage(e.Payload),
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

// entryHandlers serves one entry kind; the same handler set is mounted under
// /mood, /dreams and /therapy with the kind fixed at route registration.
type entryHandlers struct {
	s    *Server
	kind model.EntryKind
}

func (h entryHandlers) create(c echo.Context) error {
	payload, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	e, err := h.s.entries.Create(c.Request().Context(), h.kind, payload)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toEntryResponse(e))
}

func (h entryHandlers) get(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}
	e, err := h.s.entries.Get(c.Request().Context(), h.kind, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h entryHandlers) list(c echo.Context) error {
	f, err := parseEntryFilter(c)
	if err != nil {
		return writeError(c, err)
	}
	out, err := h.s.entries.List(c.Request().Context(), h.kind, f)
	if err != nil {
		return writeError(c, err)
	}
	resp := make([]entryResponse, 0, len(out))
	for i := range out {
		resp = append(resp, toEntryResponse(&out[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h entryHandlers) update(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}
	payload, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	e, err := h.s.entries.Update(c.Request().Context(), h.kind, id, model.EntryPatch{Payload: payload})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toEntryResponse(e))
}

func (h entryHandlers) delete(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}
	if err := h.s.entries.Delete(c.Request().Context(), h.kind, id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h entryHandlers) analyze(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := h.s.inference.Analyze(c.Request().Context(), h.kind, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h entryHandlers) mount(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
	g.POST("/:id/analyze", h.analyze)
}
