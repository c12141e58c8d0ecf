package billing

import (
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// Adjustment carries the bill-level fields a payment may change. Nil fields
// keep their stored value.
type Adjustment struct {
	Discount           *decimal.Decimal
	DiscountPercentage *decimal.Decimal
	InsuranceCoverage  *decimal.Decimal
	Tax                *decimal.Decimal
}

func (a Adjustment) empty() bool {
	return a.Discount == nil && a.DiscountPercentage == nil && a.InsuranceCoverage == nil && a.Tax == nil
}

// Subtotal sums item totals.
func Subtotal(items []*Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.TotalPrice)
	}
	return sum
}

// ResolveDiscount returns the discount for one adjustment event. A supplied
// percentage wins over a nominal amount; the two are never summed. The
// returned percentage is nil when the nominal amount is authoritative.
func ResolveDiscount(subtotal decimal.Decimal, nominal, percentage *decimal.Decimal) (decimal.Decimal, *decimal.Decimal) {
	if percentage != nil {
		p := *percentage
		return RoundMoney(subtotal.Mul(p).Div(hundred)), &p
	}
	if nominal != nil {
		return RoundMoney(*nominal), nil
	}
	return decimal.Zero, nil
}

// ApplyAdjustment validates adj and stores it on b. It does not recompute
// derived fields.
func ApplyAdjustment(b *Billing, adj Adjustment) error {
	fields := []struct {
		name  string
		value *decimal.Decimal
	}{
		{"discount", adj.Discount},
		{"discount_percentage", adj.DiscountPercentage},
		{"insurance_coverage", adj.InsuranceCoverage},
		{"tax", adj.Tax},
	}
	for _, f := range fields {
		if f.value != nil && f.value.IsNegative() {
			return apperr.New(apperr.KindInvalidPayment, "%s must not be negative", f.name)
		}
	}
	if adj.DiscountPercentage != nil && adj.DiscountPercentage.GreaterThan(hundred) {
		return apperr.New(apperr.KindInvalidPayment, "discount_percentage must not exceed 100")
	}

	if adj.Discount != nil || adj.DiscountPercentage != nil {
		b.Discount, b.DiscountPercentage = ResolveDiscount(b.Subtotal, adj.Discount, adj.DiscountPercentage)
	}
	if adj.InsuranceCoverage != nil {
		b.InsuranceCoverage = RoundMoney(*adj.InsuranceCoverage)
	}
	if adj.Tax != nil {
		b.Tax = RoundMoney(*adj.Tax)
	}
	return nil
}

// Recompute sets every derived field of b from its subtotal, adjustments
// and the amount paid so far. It is the only place totals are computed.
func Recompute(b *Billing, subtotal, paid decimal.Decimal) {
	b.Subtotal = subtotal
	if b.DiscountPercentage != nil {
		b.Discount = RoundMoney(subtotal.Mul(*b.DiscountPercentage).Div(hundred))
	}
	total := subtotal.Sub(b.Discount).Sub(b.InsuranceCoverage).Add(b.Tax)
	b.TotalAmount = RoundMoney(maxZero(total))
	b.PatientPayable = b.TotalAmount
	b.PaidAmount = paid
	b.RemainingAmount = maxZero(b.PatientPayable.Sub(paid))

	switch {
	case b.RemainingAmount.IsZero():
		b.PaymentStatus = StatusPaid
	case paid.IsPositive():
		b.PaymentStatus = StatusPartial
	default:
		b.PaymentStatus = StatusUnpaid
	}
}
