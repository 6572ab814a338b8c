package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/labstack/echo/v4"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/errs"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/model"
)

type auditEntryResponse struct {
	ID          int64     `json:"id"`
	ActorUserID string    `json:"actor_user_id,omitempty"`
	TableName   string    `json:"table_name"`
	Operation   string    `json:"operation"`
	RecordID    string    `json:"record_id,omitempty"`
	AdminAction bool      `json:"admin_action"`
	Suspicious  bool      `json:"suspicious"`
	ClientIP    string    `json:"client_ip,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toAuditResponse(e *model.AuditEntry) auditEntryResponse {
	resp := auditEntryResponse{
		ID:          e.ID,
		TableName:   e.TableName,
		Operation:   string(e.Operation),
		RecordID:    e.RecordID,
		AdminAction: e.AdminAction,
		Suspicious:  e.FlaggedSuspicious,
		ClientIP:    e.ClientIP,
		CreatedAt:   e.CreatedAt,
	}
	if e.ActorUserID != nil {
		resp.ActorUserID = e.ActorUserID.String()
	}
	return resp
}

// queryAudit serves the admin audit trail with optional filters. The storage
// layer verifies the admin context again; this handler only parses.
func (s *Server) queryAudit(c echo.Context) error {
	var f model.AuditFilter

	if v := c.QueryParam("actor"); v != "" {
		id, err := uuid.FromString(v)
		if err != nil {
			return writeError(c, errs.Validation("actor", "not a uuid"))
		}
		f.ActorUserID = &id
	}
	f.TableName = c.QueryParam("table")
	f.Operation = model.Operation(c.QueryParam("op"))
	if v := c.QueryParam("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return writeError(c, errs.Validation("since", "not RFC3339"))
		}
		f.Since = &t
	}
	if v := c.QueryParam("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return writeError(c, errs.Validation("until", "not RFC3339"))
		}
		f.Until = &t
	}
	f.OnlyAdmin = c.QueryParam("admin_only") == "true"
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, errs.Validation("limit", "not a positive integer"))
		}
		f.Limit = n
	}

	out, err := s.audits.Query(c.Request().Context(), f)
	if err != nil {
		return writeError(c, err)
	}
	resp := make([]auditEntryResponse, 0, len(out))
	for i := range out {
		resp = append(resp, toAuditResponse(&out[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) suspiciousAudit(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return writeError(c, errs.Validation("limit", "not a positive integer"))
		}
		limit = n
	}
	out, err := s.audits.Suspicious(c.Request().Context(), limit)
	if err != nil {
		return writeError(c, err)
	}
	resp := make([]auditEntryResponse, 0, len(out))
	for i := range out {
		resp = append(resp, toAuditResponse(&out[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

// adminListEntries lists entries across all owners. The bypass is audited in
// the same transaction by the storage layer.
func (s *Server) adminListEntries(c echo.Context) error {
	kind, ok := kindFromParam(c.Param("kind"))
	if !ok {
		return writeError(c, errs.Validation("kind", "unknown entry kind"))
	}
	f, err := parseEntryFilter(c)
	if err != nil {
		return writeError(c, err)
	}
	out, err := s.entries.AdminListAll(c.Request().Context(), kind, f)
	if err != nil {
		return writeError(c, err)
	}
	type adminEntryResponse struct {
		entryResponse
		OwnerID string `json:"owner_id"`
	}
	resp := make([]adminEntryResponse, 0, len(out))
	for i := range out {
		resp = append(resp, adminEntryResponse{
			entryResponse: toEntryResponse(&out[i]),
			OwnerID:       out[i].OwnerID.String(),
		})
	}
	return c.JSON(http.StatusOK, resp)
}
