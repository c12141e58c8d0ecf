package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestRecompute_PercentageDiscount(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{DiscountPercentage: decp("10")}))
	Recompute(b, dec("150000"), decimal.Zero)

	assertMoney(t, "15000", b.Discount, "discount")
	assertMoney(t, "135000", b.TotalAmount, "total")
	assertMoney(t, "135000", b.PatientPayable, "payable")
	assertMoney(t, "135000", b.RemainingAmount, "remaining")
	assert.Equal(t, StatusUnpaid, b.PaymentStatus)
}

func TestResolveDiscount_PercentageWinsOverNominal(t *testing.T) {
	discount, pct := ResolveDiscount(dec("200000"), decp("5000"), decp("10"))
	assertMoney(t, "20000", discount, "discount")
	require.NotNil(t, pct)
	assertMoney(t, "10", *pct, "percentage")

	discount, pct = ResolveDiscount(dec("200000"), decp("5000"), nil)
	assertMoney(t, "5000", discount, "discount")
	assert.Nil(t, pct)
}

func TestApplyAdjustment_NominalReplacesStoredPercentage(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{DiscountPercentage: decp("10")}))
	Recompute(b, dec("100000"), decimal.Zero)
	assertMoney(t, "10000", b.Discount, "discount")

	require.NoError(t, ApplyAdjustment(b, Adjustment{Discount: decp("2500")}))
	Recompute(b, b.Subtotal, decimal.Zero)
	assert.Nil(t, b.DiscountPercentage)
	assertMoney(t, "2500", b.Discount, "discount")
	assertMoney(t, "97500", b.TotalAmount, "total")
}

func TestApplyAdjustment_Rejects(t *testing.T) {
	tests := []struct {
		name string
		adj  Adjustment
	}{
		{"negative discount", Adjustment{Discount: decp("-1")}},
		{"negative insurance", Adjustment{InsuranceCoverage: decp("-100")}},
		{"negative tax", Adjustment{Tax: decp("-0.01")}},
		{"percentage over 100", Adjustment{DiscountPercentage: decp("100.01")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Billing{Discount: dec("10")}
			err := ApplyAdjustment(b, tt.adj)
			assert.ErrorIs(t, err, apperr.ErrInvalidPayment)
			assertMoney(t, "10", b.Discount, "discount")
		})
	}
}

func TestRecompute_TotalNeverNegative(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{Discount: decp("80000"), InsuranceCoverage: decp("50000")}))
	Recompute(b, dec("100000"), decimal.Zero)

	assertMoney(t, "0", b.TotalAmount, "total")
	assertMoney(t, "0", b.RemainingAmount, "remaining")
	assert.Equal(t, StatusPaid, b.PaymentStatus, "insurance covering everything settles the bill")
}

func TestRecompute_TaxAndInsurance(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{InsuranceCoverage: decp("40000"), Tax: decp("1100")}))
	Recompute(b, dec("100000"), dec("20000"))

	assertMoney(t, "61100", b.TotalAmount, "total")
	assertMoney(t, "41100", b.RemainingAmount, "remaining")
	assert.Equal(t, StatusPartial, b.PaymentStatus)
	assert.True(t, b.PaidAmount.Add(b.RemainingAmount).Equal(b.PatientPayable))
}

func TestRecompute_Statuses(t *testing.T) {
	tests := []struct {
		paid string
		want PaymentStatus
	}{
		{"0", StatusUnpaid},
		{"0.01", StatusPartial},
		{"999.99", StatusPartial},
		{"1000", StatusPaid},
	}
	for _, tt := range tests {
		b := &Billing{}
		Recompute(b, dec("1000"), dec(tt.paid))
		assert.Equal(t, tt.want, b.PaymentStatus, "paid %s", tt.paid)
		assert.True(t, b.PaidAmount.Add(b.RemainingAmount).Equal(b.PatientPayable), "paid %s", tt.paid)
	}
}

func TestRecompute_RoundsHalfUpOnce(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{DiscountPercentage: decp("15")}))
	Recompute(b, dec("10.10"), decimal.Zero)

	// 10.10 * 15% = 1.515
	assertMoney(t, "1.52", b.Discount, "discount")
	assertMoney(t, "8.58", b.TotalAmount, "total")
}

func TestRecompute_PercentageFollowsSubtotal(t *testing.T) {
	b := &Billing{}
	require.NoError(t, ApplyAdjustment(b, Adjustment{DiscountPercentage: decp("10")}))
	Recompute(b, dec("100000"), decimal.Zero)
	Recompute(b, dec("120000"), decimal.Zero)

	assertMoney(t, "12000", b.Discount, "discount")
	assertMoney(t, "108000", b.TotalAmount, "total")
}

func TestSubtotal(t *testing.T) {
	items := []*Item{
		ItemDraft{Quantity: 1, UnitPrice: dec("50000")}.item(uuid.Nil),
		ItemDraft{Quantity: 3, UnitPrice: dec("1250.50")}.item(uuid.Nil),
		ItemDraft{Quantity: 2, UnitPrice: dec("7000"), Discount: dec("500")}.item(uuid.Nil),
	}
	assertMoney(t, "50000", items[0].TotalPrice, "consultation")
	assertMoney(t, "3751.50", items[1].TotalPrice, "drug")
	assertMoney(t, "13500", items[2].TotalPrice, "material")
	assertMoney(t, "67251.50", Subtotal(items), "subtotal")
}

func TestStayDays(t *testing.T) {
	in := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		out  time.Time
		want int
	}{
		{"same instant", in, 1},
		{"checkout before checkin", in.Add(-time.Hour), 1},
		{"two hours", in.Add(2 * time.Hour), 1},
		{"exactly one day", in.Add(24 * time.Hour), 1},
		{"one day and a minute", in.Add(24*time.Hour + time.Minute), 2},
		{"fifty hours", in.Add(50 * time.Hour), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StayDays(in, tt.out))
		})
	}
}

func TestParseMoney(t *testing.T) {
	d, err := ParseMoney("1500.25")
	require.NoError(t, err)
	assertMoney(t, "1500.25", d, "amount")

	_, err = ParseMoney("1.005")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = ParseMoney("abc")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}
