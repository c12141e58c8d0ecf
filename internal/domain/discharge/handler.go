package discharge

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
	readGroup := api.Group("", auth.RequireRole("doctor", "nurse", "registrar", "cashier", "billing", "medical_records"))
	readGroup.GET("/visits/:id/discharge-eligibility", h.GetEligibility)
	readGroup.GET("/visits/:id/discharge-summary", h.GetSummary)

	api.POST("/visits/:id/discharge-summary", h.CreateSummary, auth.RequireRole("doctor"))
	api.POST("/visits/:id/checkout", h.Checkout, auth.RequireRole("registrar", "cashier", "doctor"))
}

func parseVisitID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid id")
	}
	return id, nil
}

func (h *Handler) GetEligibility(c echo.Context) error {
	visitID, err := parseVisitID(c)
	if err != nil {
		return err
	}
	elig, err := h.svc.Eligibility(c.Request().Context(), visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, elig)
}

func (h *Handler) CreateSummary(c echo.Context) error {
	visitID, err := parseVisitID(c)
	if err != nil {
		return err
	}
	var in SummaryInput
	if err := c.Bind(&in); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	if err := c.Validate(&in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	sum, err := h.svc.CreateDischargeSummary(ctx, visitID, in, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sum)
}

func (h *Handler) GetSummary(c echo.Context) error {
	visitID, err := parseVisitID(c)
	if err != nil {
		return err
	}
	sum, err := h.svc.GetSummary(c.Request().Context(), visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) Checkout(c echo.Context) error {
	visitID, err := parseVisitID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	v, err := h.svc.Checkout(ctx, visitID, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
