package medrecord

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("doctor", "nurse", "medical_records", "billing", "cashier"))
	readGroup.GET("/visits/:id/medical-record", h.GetByVisit)
	readGroup.GET("/medical-records/:id", h.GetRecord)

	writeGroup := api.Group("", auth.RequireRole("doctor", "nurse"))
	writeGroup.POST("/medical-records/:id/diagnoses", h.AddDiagnosis)
	writeGroup.POST("/medical-records/:id/procedures", h.AddProcedure)
	writeGroup.POST("/medical-records/:id/prescriptions", h.AddPrescription)
	writeGroup.POST("/medical-records/:id/materials", h.AddMaterialUsage)
	writeGroup.DELETE("/medical-records/:id/entries/:kind/:entryId", h.RemoveEntry)

	doctorGroup := api.Group("", auth.RequireRole("doctor", "medical_records"))
	doctorGroup.POST("/visits/:id/medical-record", h.OpenRecord)
	doctorGroup.POST("/medical-records/:id/lock", h.LockRecord)
	// Unlock roles are configurable and checked by the service.
	api.POST("/medical-records/:id/unlock", h.UnlockRecord)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s", name)
	}
	return id, nil
}

// bind decodes and validates the request body into v.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	return c.Validate(v)
}

func (h *Handler) OpenRecord(c echo.Context) error {
	visitID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Open(ctx, visitID, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) GetByVisit(c echo.Context) error {
	visitID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.GetByVisit(ctx, visitID)
	if err != nil {
		return err
	}
	view, err := h.svc.Get(ctx, rec.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) GetRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	view, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) LockRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Lock(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UnlockRecord(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req UnlockRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Unlock(ctx, id, req.Reason, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) AddDiagnosis(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var d Diagnosis
	if err := bind(c, &d); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AddDiagnosis(ctx, id, &d, auth.ActorFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) AddProcedure(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p Procedure
	if err := bind(c, &p); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AddProcedure(ctx, id, &p, auth.ActorFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) AddPrescription(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var p Prescription
	if err := bind(c, &p); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AddPrescription(ctx, id, &p, auth.ActorFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) AddMaterialUsage(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var m MaterialUsage
	if err := bind(c, &m); err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.AddMaterialUsage(ctx, id, &m, auth.ActorFromContext(ctx)); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) RemoveEntry(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	entryID, err := parseID(c, "entryId")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.RemoveEntry(ctx, id, EntryKind(c.Param("kind")), entryID, auth.ActorFromContext(ctx)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
