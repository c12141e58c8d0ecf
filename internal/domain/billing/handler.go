package billing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
)

type Handler struct {
	agg      *Aggregator
	payments *PaymentProcessor
}

func NewHandler(agg *Aggregator, payments *PaymentProcessor) *Handler {
	return &Handler{agg: agg, payments: payments}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("billing", "cashier", "registrar", "doctor"))
	readGroup.GET("/visits/:id/billing/preview", h.PreviewBilling)
	readGroup.GET("/visits/:id/billing", h.GetVisitBilling)
	readGroup.GET("/billings/:id", h.GetBilling)
	readGroup.GET("/billings/:id/payments", h.ListPayments)

	writeGroup := api.Group("", auth.RequireRole("billing", "cashier"))
	writeGroup.POST("/visits/:id/billing", h.CreateBilling)
	writeGroup.POST("/billings/:id/refresh", h.RefreshBilling)
	writeGroup.POST("/billings/:id/payments", h.ProcessPayment)
	writeGroup.POST("/billings/:id/adjustments", h.AdjustBilling)
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.InvalidInput("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) PreviewBilling(c echo.Context) error {
	visitID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	b, err := h.agg.Preview(c.Request().Context(), visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) CreateBilling(c echo.Context) error {
	visitID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req CreateRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
		}
		if err := c.Validate(&req); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()
	st, err := h.agg.Create(ctx, visitID, req.Variant, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetBilling(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.agg.Statement(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) GetVisitBilling(c echo.Context) error {
	visitID, err := parseID(c, "id")
	if err != nil {
		return err
	}
	st, err := h.agg.StatementForVisit(c.Request().Context(), visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) RefreshBilling(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	st, err := h.agg.Refresh(ctx, id, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.payments.ProcessPayment(ctx, id, req, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	if res.Payment == nil {
		return c.JSON(http.StatusOK, res)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) AdjustBilling(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req AdjustmentRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	b, err := h.payments.AdjustBilling(ctx, id, req, auth.ActorFromContext(ctx))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	payments, err := h.payments.ListPayments(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, payments)
}
