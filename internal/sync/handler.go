package sync

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicsync/clinicsync/internal/domain/credential"
	"github.com/clinicsync/clinicsync/internal/domain/syncrun"
	"github.com/clinicsync/clinicsync/internal/platform/auth"
	"github.com/clinicsync/clinicsync/internal/pms"
	"github.com/clinicsync/clinicsync/pkg/pagination"
)

// CredentialController is the control-plane slice of the credential service.
type CredentialController interface {
	GetByClinicVendor(ctx context.Context, clinicID uuid.UUID, vendor pms.Vendor) (*credential.Credential, error)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
}

type Handler struct {
	orch  *Orchestrator
	runs  syncrun.Repository
	creds CredentialController
}

func NewHandler(orch *Orchestrator, runs syncrun.Repository, creds CredentialController) *Handler {
	return &Handler{orch: orch, runs: runs, creds: creds}
}

// RegisterTriggerRoutes mounts the scheduler-facing trigger endpoint. The
// caller applies the shared-secret middleware to the group.
func (h *Handler) RegisterTriggerRoutes(g *echo.Group) {
	g.POST("/sync/trigger", h.Trigger)
}

// RegisterRoutes mounts the operator-facing control and inspection endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "manager"))
	g.POST("/sync/control", h.Control)
	g.GET("/sync/runs", h.ListRuns)
	g.GET("/sync/runs/:id", h.GetRun)
}

type triggerRequest struct {
	ClinicID  *uuid.UUID `json:"clinic_id"`
	Vendor    string     `json:"vendor"`
	ForceFull bool       `json:"force_full"`
}

// Trigger starts a sync cycle and reports per-clinic outcomes. It always
// answers 200: a clinic failing to sync is a result, not a transport error.
func (h *Handler) Trigger(c echo.Context) error {
	var req triggerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	opts := TriggerOptions{ForceFull: req.ForceFull}
	if req.ClinicID != nil {
		opts.ClinicID = *req.ClinicID
	}
	if req.Vendor != "" {
		vendor, err := pms.ParseVendor(req.Vendor)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		opts.Vendor = vendor
	}

	results := h.orch.Trigger(c.Request().Context(), opts)
	if results == nil {
		results = []ClinicResult{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
}

type controlRequest struct {
	ClinicID uuid.UUID `json:"clinic_id"`
	Vendor   string    `json:"vendor"`
	Action   string    `json:"action"`
}

// Control pauses or resumes syncing for a clinic+vendor, or forces a full
// re-sync.
func (h *Handler) Control(c echo.Context) error {
	var req controlRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ClinicID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	vendor, err := pms.ParseVendor(req.Vendor)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	cred, err := h.creds.GetByClinicVendor(ctx, req.ClinicID, vendor)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "no credential for clinic and vendor")
	}

	switch req.Action {
	case "pause":
		if err := h.creds.Pause(ctx, cred.ID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
	case "resume":
		if err := h.creds.Resume(ctx, cred.ID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "resumed"})
	case "force_full":
		results := h.orch.Trigger(ctx, TriggerOptions{ClinicID: req.ClinicID, Vendor: vendor, ForceFull: true})
		return c.JSON(http.StatusOK, map[string]interface{}{"results": results})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "action must be pause, resume or force_full")
	}
}

func (h *Handler) ListRuns(c echo.Context) error {
	clinicID, err := uuid.Parse(c.QueryParam("clinic_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "clinic_id is required")
	}
	params := pagination.FromContext(c)
	runs, total, err := h.runs.List(c.Request().Context(), clinicID, params.Limit, params.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(runs, total, params.Limit, params.Offset))
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	run, err := h.runs.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}
