package credential

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicsync/clinicsync/internal/platform/auth"
	"github.com/clinicsync/clinicsync/internal/pms"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "manager"))
	g.POST("/credentials", h.Connect)
	g.GET("/credentials", h.List)
	g.GET("/credentials/:id", h.Get)
	g.POST("/credentials/:id/test", h.Test)
	g.POST("/credentials/:id/pause", h.Pause)
	g.POST("/credentials/:id/resume", h.Resume)
	g.DELETE("/credentials/:id", h.Disconnect)
}

func (h *Handler) Connect(c echo.Context) error {
	var in ConnectInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cred, err := h.svc.Connect(c.Request().Context(), in)
	if err != nil {
		if pms.IsCredential(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "vendor rejected the api key")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cred)
}

func (h *Handler) List(c echo.Context) error {
	clinicID, err := uuid.Parse(c.QueryParam("clinic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	creds, err := h.svc.ListByClinic(c.Request().Context(), clinicID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, creds)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	cred, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "credential not found")
	}
	return c.JSON(http.StatusOK, cred)
}

// Test re-verifies a stored credential against the vendor API.
func (h *Handler) Test(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cred, err := h.svc.Get(ctx, id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "credential not found")
	}
	client, err := h.svc.Client(cred, pms.Options{})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := client.TestConnection(ctx); err != nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"ok": false, "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

func (h *Handler) Pause(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) Resume(c echo.Context) error {
	return h.setActive(c, true)
}

// Disconnect deactivates the credential. Rows are never hard-deleted so the
// sync history stays attributable.
func (h *Handler) Disconnect(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *Handler) setActive(c echo.Context, active bool) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	var svcErr error
	if active {
		svcErr = h.svc.Resume(ctx, id)
	} else {
		svcErr = h.svc.Pause(ctx, id)
	}
	if svcErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, svcErr.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"active": active})
}
