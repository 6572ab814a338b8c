package http

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

// aiContextResponse carries the context state base64-encoded; it is opaque
// ciphertext the server never interprets.
type aiContextResponse struct {
	State       string    `json:"state"`
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int64     `json:"access_count"`
}

func toAIContextResponse(c *model.AIContext) aiContextResponse {
	return aiContextResponse{
		State:       base64.StdEncoding.EncodeToString(c.EncryptedState),
		LastUpdated: c.LastUpdated,
		ExpiresAt:   c.ExpiresAt,
		AccessCount: c.AccessCount,
	}
}

type aiContextUpdateRequest struct {
	State string `json:"state"`
}

type messageResponse struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	SequenceNumber int64     `json:"sequence_number"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageResponse(m *model.ConversationMessage) messageResponse {
	return messageResponse{
		ID:             m.ID.String(),
		SessionID:      m.SessionID.String(),
		SequenceNumber: m.SequenceNumber,
		Role:           string(m.Role),
		Content:        base64.StdEncoding.EncodeToString(m.EncryptedContent),
		CreatedAt:      m.CreatedAt,
	}
}

type appendMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) getAIContext(c echo.Context) error {
	ac, err := s.store.GetContext(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toAIContextResponse(ac))
}

func (s *Server) updateAIContext(c echo.Context) error {
	var req aiContextUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	state, err := base64.StdEncoding.DecodeString(req.State)
	if err != nil || len(state) == 0 {
		return writeError(c, errs.Validation("state", "must be non-empty base64"))
	}
	ac, err := s.store.UpdateContext(c.Request().Context(), state)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toAIContextResponse(ac))
}

func (s *Server) deleteAIContext(c echo.Context) error {
	if err := s.store.DeleteContext(c.Request().Context()); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getConversation(c echo.Context) error {
	sid, err := paramUUID(c, "session_id")
	if err != nil {
		return writeError(c, err)
	}
	msgs, err := s.store.GetConversation(c.Request().Context(), sid)
	if err != nil {
		return writeError(c, err)
	}
	resp := make([]messageResponse, 0, len(msgs))
	for i := range msgs {
		resp = append(resp, toMessageResponse(&msgs[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) appendMessage(c echo.Context) error {
	sid, err := paramUUID(c, "session_id")
	if err != nil {
		return writeError(c, err)
	}
	var req appendMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		return writeError(c, errs.Validation("content", "must be base64"))
	}
	msg, err := s.store.AppendMessage(c.Request().Context(), sid, model.MessageRole(req.Role), content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toMessageResponse(msg))
}

func (s *Server) deleteConversation(c echo.Context) error {
	sid, err := paramUUID(c, "session_id")
	if err != nil {
		return writeError(c, err)
	}
	if err := s.store.DeleteConversation(c.Request().Context(), sid); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
