package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/domain/visit"
)

// ItemType is the kind of billable unit on a line.
type ItemType string

const (
	ItemService  ItemType = "service"
	ItemDrug     ItemType = "drug"
	ItemMaterial ItemType = "material"
	ItemRoom     ItemType = "room"
)

// Variant selects which visit types an aggregation accepts.
type Variant string

const (
	// VariantDischarge bills an inpatient stay at discharge.
	VariantDischarge Variant = "discharge"
	// VariantCheckout bills an outpatient or emergency visit.
	VariantCheckout Variant = "checkout"
	// VariantAuto picks discharge or checkout from the visit type.
	VariantAuto Variant = "auto"
)

func (v Variant) Valid() bool {
	switch v {
	case VariantDischarge, VariantCheckout, VariantAuto:
		return true
	}
	return false
}

type PaymentMethod string

const (
	MethodCash      PaymentMethod = "cash"
	MethodTransfer  PaymentMethod = "transfer"
	MethodCard      PaymentMethod = "card"
	MethodInsurance PaymentMethod = "insurance"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCard, MethodInsurance:
		return true
	}
	return false
}

type PaymentStatus string

const (
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusPartial PaymentStatus = "partial"
	StatusPaid    PaymentStatus = "paid"
)

// Billing maps to the billing table. One per visit.
type Billing struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	VisitID            uuid.UUID        `db:"visit_id" json:"visit_id"`
	Subtotal           decimal.Decimal  `db:"subtotal" json:"subtotal"`
	Discount           decimal.Decimal  `db:"discount" json:"discount"`
	DiscountPercentage *decimal.Decimal `db:"discount_percentage" json:"discount_percentage,omitempty"`
	Tax                decimal.Decimal  `db:"tax" json:"tax"`
	InsuranceCoverage  decimal.Decimal  `db:"insurance_coverage" json:"insurance_coverage"`
	TotalAmount        decimal.Decimal  `db:"total_amount" json:"total_amount"`
	PatientPayable     decimal.Decimal  `db:"patient_payable" json:"patient_payable"`
	PaidAmount         decimal.Decimal  `db:"paid_amount" json:"paid_amount"`
	RemainingAmount    decimal.Decimal  `db:"remaining_amount" json:"remaining_amount"`
	PaymentStatus      PaymentStatus    `db:"payment_status" json:"payment_status"`
	ProcessedBy        *string          `db:"processed_by" json:"processed_by,omitempty"`
	ProcessedAt        *time.Time       `db:"processed_at" json:"processed_at,omitempty"`
	CreatedBy          string           `db:"created_by" json:"created_by"`
	Version            int              `db:"version" json:"version"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// Item maps to the billing_item table. SourceRef identifies the clinical
// fact the line was built from and is unique within a billing.
type Item struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	BillingID   uuid.UUID       `db:"billing_id" json:"billing_id"`
	Type        ItemType        `db:"item_type" json:"type"`
	SourceRef   string          `db:"source_ref" json:"source_ref"`
	Description string          `db:"description" json:"description"`
	Quantity    int             `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
	Discount    decimal.Decimal `db:"discount" json:"discount"`
	TotalPrice  decimal.Decimal `db:"total_price" json:"total_price"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ItemDraft is a normalized charge produced by a ChargeSource.
type ItemDraft struct {
	Type        ItemType
	SourceRef   string
	Description string
	Quantity    int
	UnitPrice   decimal.Decimal
	Discount    decimal.Decimal
}

// Total is unit price times quantity less the line discount, never negative.
func (d ItemDraft) Total() decimal.Decimal {
	gross := d.UnitPrice.Mul(decimal.NewFromInt(int64(d.Quantity)))
	return RoundMoney(maxZero(gross.Sub(d.Discount)))
}

func (d ItemDraft) item(billingID uuid.UUID) *Item {
	return &Item{
		BillingID:   billingID,
		Type:        d.Type,
		SourceRef:   d.SourceRef,
		Description: d.Description,
		Quantity:    d.Quantity,
		UnitPrice:   d.UnitPrice,
		Discount:    d.Discount,
		TotalPrice:  d.Total(),
	}
}

// Payment maps to the append-only payment table.
type Payment struct {
	ID             uuid.UUID        `db:"id" json:"id"`
	BillingID      uuid.UUID        `db:"billing_id" json:"billing_id"`
	Amount         decimal.Decimal  `db:"amount" json:"amount"`
	Method         PaymentMethod    `db:"method" json:"method"`
	Reference      *string          `db:"reference" json:"reference,omitempty"`
	AmountReceived *decimal.Decimal `db:"amount_received" json:"amount_received,omitempty"`
	ChangeGiven    *decimal.Decimal `db:"change_given" json:"change_given,omitempty"`
	ReceivedBy     string           `db:"received_by" json:"received_by"`
	ReceivedAt     time.Time        `db:"received_at" json:"received_at"`
	Notes          *string          `db:"notes" json:"notes,omitempty"`
}

// Statement is a billing with its items.
type Statement struct {
	*Billing
	Items []*Item `json:"items"`
}

// Breakdown is a non-persisted itemized preview of a visit's bill.
type Breakdown struct {
	VisitID        uuid.UUID       `json:"visit_id"`
	VisitType      visit.Type      `json:"visit_type"`
	Items          []*Item         `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PatientPayable decimal.Decimal `json:"patient_payable"`
}

type CreateRequest struct {
	Variant Variant `json:"variant" validate:"omitempty,oneof=discharge checkout auto"`
}

// PaymentRequest records one payment, optionally adjusting the bill first.
// Amount and method are checked by the processor so they fail as
// invalid_payment.
type PaymentRequest struct {
	Discount           *decimal.Decimal `json:"discount,omitempty" validate:"omitempty,money_nonneg"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty" validate:"omitempty,percent"`
	InsuranceCoverage  *decimal.Decimal `json:"insurance_coverage,omitempty" validate:"omitempty,money_nonneg"`
	Tax                *decimal.Decimal `json:"tax,omitempty" validate:"omitempty,money_nonneg"`
	Amount             decimal.Decimal  `json:"amount"`
	Method             PaymentMethod    `json:"payment_method"`
	AmountReceived     *decimal.Decimal `json:"amount_received,omitempty" validate:"omitempty,money_nonneg"`
	Reference          *string          `json:"payment_reference,omitempty" validate:"omitempty,max=100"`
	Notes              *string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

func (r PaymentRequest) adjustment() Adjustment {
	return r.adjustmentRequest().adjustment()
}

func (r PaymentRequest) adjustmentRequest() AdjustmentRequest {
	return AdjustmentRequest{
		Discount:           r.Discount,
		DiscountPercentage: r.DiscountPercentage,
		InsuranceCoverage:  r.InsuranceCoverage,
		Tax:                r.Tax,
	}
}

// AdjustmentRequest changes a bill's discount, insurance coverage or tax
// without a payment.
type AdjustmentRequest struct {
	Discount           *decimal.Decimal `json:"discount,omitempty" validate:"omitempty,money_nonneg"`
	DiscountPercentage *decimal.Decimal `json:"discount_percentage,omitempty" validate:"omitempty,percent"`
	InsuranceCoverage  *decimal.Decimal `json:"insurance_coverage,omitempty" validate:"omitempty,money_nonneg"`
	Tax                *decimal.Decimal `json:"tax,omitempty" validate:"omitempty,money_nonneg"`
}

func (r AdjustmentRequest) adjustment() Adjustment {
	return Adjustment{
		Discount:           r.Discount,
		DiscountPercentage: r.DiscountPercentage,
		InsuranceCoverage:  r.InsuranceCoverage,
		Tax:                r.Tax,
	}
}

// PaymentResult carries no Payment when the request only adjusted the bill.
type PaymentResult struct {
	Billing     *Billing         `json:"billing"`
	Payment     *Payment         `json:"payment,omitempty"`
	ChangeGiven *decimal.Decimal `json:"change_given,omitempty"`
}
