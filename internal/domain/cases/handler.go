package cases

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicsync/clinicsync/internal/platform/auth"
	"github.com/clinicsync/clinicsync/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "manager", "practitioner"))
	read.GET("/cases", h.List)
	read.GET("/cases/:id", h.Get)

	write := api.Group("", auth.RequireRole("admin", "manager"))
	write.PUT("/cases/:id/status", h.SetStatus)
	write.POST("/cases/:id/reactivate", h.Reactivate)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := uuid.Parse(c.QueryParam("clinic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	params := pagination.FromContext(c)
	items, total, err := h.svc.ListByClinic(c.Request().Context(), clinicID, c.QueryParam("status"), params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, params.Limit, params.Offset))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "case not found")
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	setBy := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.SetManualStatus(c.Request().Context(), id, body.Status, setBy); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": body.Status})
}

func (h *Handler) Reactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Reactivate(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
