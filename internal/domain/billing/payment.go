package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
)

// PaymentProcessor applies adjustments and records payments against a
// billing, one locked unit of work per request.
type PaymentProcessor struct {
	repo             Repository
	tx               db.TxRunner
	visits           Visits
	allowOverpayment bool
	logger           zerolog.Logger
	now              func() time.Time
}

func NewPaymentProcessor(repo Repository, tx db.TxRunner, visits Visits, allowOverpayment bool, logger zerolog.Logger) *PaymentProcessor {
	return &PaymentProcessor{
		repo:             repo,
		tx:               tx,
		visits:           visits,
		allowOverpayment: allowOverpayment,
		logger:           logger.With().Str("component", "payment_processor").Logger(),
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func validatePayment(req PaymentRequest) error {
	if !req.Amount.IsPositive() {
		return apperr.New(apperr.KindInvalidPayment, "amount must be greater than zero")
	}
	if req.Amount.Exponent() < -MoneyScale {
		return apperr.New(apperr.KindInvalidPayment, "amount has more than %d decimal places", MoneyScale)
	}
	if !req.Method.Valid() {
		return apperr.New(apperr.KindInvalidPayment, "unknown payment method %q", req.Method)
	}
	if req.Method == MethodCash {
		if req.AmountReceived == nil {
			return apperr.New(apperr.KindInvalidPayment, "amount_received is required for cash payments")
		}
		if req.AmountReceived.LessThan(req.Amount) {
			return apperr.New(apperr.KindInvalidPayment, "amount received %s is less than amount %s",
				req.AmountReceived.StringFixed(MoneyScale), req.Amount.StringFixed(MoneyScale))
		}
	}
	return nil
}

// lockOpen locks the visit and then the billing, in that order. Bills of
// completed or cancelled visits are closed to payments and adjustments.
func (p *PaymentProcessor) lockOpen(ctx context.Context, billingID uuid.UUID) (*Billing, error) {
	current, err := p.repo.GetByID(ctx, billingID)
	if err != nil {
		return nil, err
	}
	v, err := p.visits.Lock(ctx, current.VisitID)
	if err != nil {
		return nil, err
	}
	if visit.IsTerminal(v.Status) {
		return nil, apperr.InvalidTransition("billing %s belongs to %s visit %s", billingID, v.Status, v.ID)
	}
	return p.repo.LockByID(ctx, billingID)
}

// adjust applies adj and recomputes the balance. The adjusted payable may not
// drop below what has already been collected.
func (p *PaymentProcessor) adjust(b *Billing, adj Adjustment) error {
	if err := ApplyAdjustment(b, adj); err != nil {
		return err
	}
	Recompute(b, b.Subtotal, b.PaidAmount)
	if b.PaidAmount.GreaterThan(b.PatientPayable) && !p.allowOverpayment {
		return apperr.New(apperr.KindOverPayment, "adjusted payable %s is below the %s already paid",
			b.PatientPayable.StringFixed(MoneyScale), b.PaidAmount.StringFixed(MoneyScale))
	}
	return nil
}

// AdjustBilling applies discount, insurance coverage or tax without
// recording a payment. A bill fully covered by insurance is settled this way.
func (p *PaymentProcessor) AdjustBilling(ctx context.Context, billingID uuid.UUID, req AdjustmentRequest, actor auth.Actor) (*Billing, error) {
	adj := req.adjustment()
	if adj.empty() {
		return nil, apperr.InvalidInput("adjustment carries no changes")
	}

	var b *Billing
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = p.lockOpen(ctx, billingID)
		if err != nil {
			return err
		}
		if err := p.adjust(b, adj); err != nil {
			return err
		}
		return p.repo.Update(ctx, b)
	})
	if err != nil {
		p.logger.Warn().
			Str("billing_id", billingID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("billing adjustment rejected")
		return nil, err
	}
	p.logger.Info().
		Str("billing_id", billingID.String()).
		Str("discount", b.Discount.StringFixed(MoneyScale)).
		Str("insurance", b.InsuranceCoverage.StringFixed(MoneyScale)).
		Str("tax", b.Tax.StringFixed(MoneyScale)).
		Str("payable", b.PatientPayable.StringFixed(MoneyScale)).
		Str("remaining", b.RemainingAmount.StringFixed(MoneyScale)).
		Str("status", string(b.PaymentStatus)).
		Str("actor", actor.UserID).
		Msg("billing adjusted")
	return b, nil
}

// ProcessPayment locks the billing, applies any adjustment, records the
// payment and recomputes the totals. Nothing is written unless every step
// succeeds. A zero amount with an adjustment only adjusts the bill.
func (p *PaymentProcessor) ProcessPayment(ctx context.Context, billingID uuid.UUID, req PaymentRequest, actor auth.Actor) (*PaymentResult, error) {
	if req.Amount.IsZero() && !req.adjustment().empty() {
		b, err := p.AdjustBilling(ctx, billingID, req.adjustmentRequest(), actor)
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Billing: b}, nil
	}

	var res *PaymentResult
	err := p.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := p.lockOpen(ctx, billingID)
		if err != nil {
			return err
		}
		if err := p.adjust(b, req.adjustment()); err != nil {
			return err
		}

		if err := validatePayment(req); err != nil {
			return err
		}
		if req.Amount.GreaterThan(b.RemainingAmount) && !p.allowOverpayment {
			return apperr.New(apperr.KindOverPayment, "payment of %s exceeds remaining balance %s",
				req.Amount.StringFixed(MoneyScale), b.RemainingAmount.StringFixed(MoneyScale))
		}

		now := p.now()
		pay := &Payment{
			BillingID:  b.ID,
			Amount:     req.Amount,
			Method:     req.Method,
			Reference:  req.Reference,
			ReceivedBy: actor.UserID,
			ReceivedAt: now,
			Notes:      req.Notes,
		}
		if req.Method == MethodCash {
			received := *req.AmountReceived
			change := received.Sub(req.Amount)
			pay.AmountReceived = &received
			pay.ChangeGiven = &change
		}
		if err := p.repo.AddPayment(ctx, pay); err != nil {
			return err
		}

		Recompute(b, b.Subtotal, b.PaidAmount.Add(req.Amount))
		b.ProcessedBy = &actor.UserID
		b.ProcessedAt = &now
		if err := p.repo.Update(ctx, b); err != nil {
			return err
		}

		res = &PaymentResult{Billing: b, Payment: pay, ChangeGiven: pay.ChangeGiven}
		return nil
	})
	if err != nil {
		p.logger.Warn().
			Str("billing_id", billingID.String()).
			Str("amount", req.Amount.String()).
			Str("method", string(req.Method)).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("payment rejected")
		return nil, err
	}

	evt := p.logger.Info().
		Str("billing_id", billingID.String()).
		Str("payment_id", res.Payment.ID.String()).
		Str("amount", res.Payment.Amount.StringFixed(MoneyScale)).
		Str("method", string(res.Payment.Method)).
		Str("paid", res.Billing.PaidAmount.StringFixed(MoneyScale)).
		Str("remaining", res.Billing.RemainingAmount.StringFixed(MoneyScale)).
		Str("status", string(res.Billing.PaymentStatus)).
		Bool("adjusted", !req.adjustment().empty()).
		Str("actor", actor.UserID)
	if res.ChangeGiven != nil {
		evt = evt.Str("change", res.ChangeGiven.StringFixed(MoneyScale))
	}
	evt.Msg("payment recorded")
	return res, nil
}

func (p *PaymentProcessor) ListPayments(ctx context.Context, billingID uuid.UUID) ([]*Payment, error) {
	if _, err := p.repo.GetByID(ctx, billingID); err != nil {
		return nil, err
	}
	return p.repo.Payments(ctx, billingID)
}
