package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("registrar", "nurse", "doctor", "cashier", "billing", "medical_records"))
	readGroup.GET("/visits", h.ListVisits)
	readGroup.GET("/visits/:id", h.GetVisit)
	readGroup.GET("/visits/:id/status-history", h.GetStatusHistory)

	writeGroup := api.Group("", auth.RequireRole("registrar", "nurse", "doctor"))
	writeGroup.POST("/visits", h.RegisterVisit)
	writeGroup.POST("/visits/:id/transitions", h.TransitionVisit)
}

// parseID reads a UUID path parameter.
func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) RegisterVisit(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	v, err := h.svc.Register(c.Request().Context(), req, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) GetVisit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	v, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) ListVisits(c echo.Context) error {
	pg := pagination.FromContext(c)

	var filter ListFilter
	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return apperr.InvalidInput("invalid patient_id")
		}
		filter.PatientID = &pid
	}
	if st := c.QueryParam("status"); st != "" {
		if !knownStatus(Status(st)) {
			return apperr.InvalidInput("invalid status %q", st)
		}
		filter.Status = Status(st)
	}
	if t := c.QueryParam("type"); t != "" {
		if !Type(t).Valid() {
			return apperr.InvalidInput("invalid type %q", t)
		}
		filter.Type = Type(t)
	}

	visits, total, err := h.svc.List(c.Request().Context(), filter, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, pg).WithNext(c.Request().URL.Path))
}

func (h *Handler) TransitionVisit(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	v, err := h.svc.RequestTransition(c.Request().Context(), id, req.To, req.Reason, auth.ActorFromContext(c.Request().Context()))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) GetStatusHistory(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	history, err := h.svc.History(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, history)
}
