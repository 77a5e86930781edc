package notedocument

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicaldocs/internal/platform/apperr"
	"github.com/ehr/clinicaldocs/internal/platform/auth"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
)

// ErrorBody is the JSON form of an ErrorState.
type ErrorBody struct {
	Status    string `json:"status"`
	Reason    Reason `json:"reason"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RetryURL  string `json:"retry_url"`
}

type errorPageRenderer interface {
	RenderError(w io.Writer, p noterender.ErrorPage) error
}

type Handler struct {
	svc      *Service
	registry *noterender.Registry
}

func NewHandler(svc *Service, registry *noterender.Registry) *Handler {
	return &Handler{svc: svc, registry: registry}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleAdmin, auth.RoleClinician, auth.RoleViewer))
	readGroup.GET("/visit-notes/:visit_id/document", h.Document)
}

// Document handles GET /visit-notes/:visit_id/document?format=json|html|pdf.
func (h *Handler) Document(c echo.Context) error {
	renderer, err := h.registry.Lookup(c.QueryParam("format"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	visitID := c.Param("visit_id")
	doc, err := h.svc.Compose(c.Request().Context(), visitID)
	if err != nil {
		var es *ErrorState
		if errors.As(err, &es) {
			return h.writeErrorState(c, renderer, es)
		}
		return apperr.HTTPError(err)
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, doc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "render document").SetInternal(err)
	}
	if renderer.ContentType() == "application/pdf" {
		c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", "visit-note-"+visitID+".pdf"))
	}
	return c.Blob(http.StatusOK, renderer.ContentType(), buf.Bytes())
}

func (h *Handler) writeErrorState(c echo.Context, renderer noterender.Renderer, es *ErrorState) error {
	retryURL := c.Request().URL.RequestURI()

	if page, ok := renderer.(errorPageRenderer); ok {
		title := "Note not found"
		switch es.Reason {
		case ReasonUnavailable:
			title = "Note unavailable"
		case ReasonInvalid:
			title = "Note unreadable"
		}
		var buf bytes.Buffer
		if err := page.RenderError(&buf, noterender.ErrorPage{
			Title:     title,
			Message:   es.Message,
			Retryable: es.Retryable,
			RetryURL:  retryURL,
		}); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "render error page").SetInternal(err)
		}
		return c.HTMLBlob(es.StatusCode(), buf.Bytes())
	}

	return c.JSON(es.StatusCode(), ErrorBody{
		Status:    "error",
		Reason:    es.Reason,
		Message:   es.Message,
		Retryable: es.Retryable,
		RetryURL:  retryURL,
	})
}
