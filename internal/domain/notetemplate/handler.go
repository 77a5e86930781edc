package notetemplate

import (
	"bytes"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/auth"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleViewer))
	readGroup.GET("/note-templates", h.List)
	readGroup.GET("/note-templates/export.xlsx", h.ExportXLSX)
	readGroup.GET("/note-templates/:discipline/:note_type", h.Fetch)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	writeGroup.POST("/note-templates", h.Save)
	writeGroup.PATCH("/note-templates/:id", h.Patch)
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	if items == nil {
		items = []*Expanded{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data":  items,
		"total": len(items),
	})
}

func (h *Handler) Fetch(c echo.Context) error {
	d, err := url.PathUnescape(c.Param("discipline"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid discipline")
	}
	nt, err := url.PathUnescape(c.Param("note_type"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid note_type")
	}
	t, err := h.svc.FetchWithSections(c.Request().Context(), Discipline(d), NoteType(nt))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

// Save answers 201 when the template was created and 200 when an existing
// one was replaced.
func (h *Handler) Save(c echo.Context) error {
	var req SaveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, inserted, err := h.svc.Save(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	return c.JSON(status, t)
}

func (h *Handler) Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req PatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	t, err := h.svc.Patch(c.Request().Context(), id, req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	var buf bytes.Buffer
	if err := h.svc.ExportXLSX(c.Request().Context(), &buf); err != nil {
		return apperr.HTTPError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="note-templates.xlsx"`)
	return c.Blob(http.StatusOK, mimeXLSX, buf.Bytes())
}
