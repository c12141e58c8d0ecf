package billing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/domain/visit"
)

// ChargeSource turns one kind of billable clinical fact into item drafts.
// Collect must not write.
type ChargeSource interface {
	Name() string
	Collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error)
}

// DrugCharge is a dispensed prescription priced from the drug catalogue.
type DrugCharge struct {
	PrescriptionID uuid.UUID
	DrugName       string
	Quantity       int
	UnitPrice      decimal.Decimal
}

// ProcedureCharge is a performed procedure at the service's flat price.
type ProcedureCharge struct {
	ProcedureID uuid.UUID
	ServiceName string
	Price       decimal.Decimal
}

// MaterialCharge is a material usage at the price captured when used.
type MaterialCharge struct {
	UsageID      uuid.UUID
	MaterialName string
	Quantity     int
	UnitPrice    decimal.Decimal
}

// RoomStayCharge is one room occupancy. CheckOut is nil while the patient
// is still in the room.
type RoomStayCharge struct {
	StayID    uuid.UUID
	RoomName  string
	DailyRate decimal.Decimal
	CheckIn   time.Time
	CheckOut  *time.Time
}

// ChargeReader reads the billable clinical rows of a visit.
type ChargeReader interface {
	Prescriptions(ctx context.Context, visitID uuid.UUID) ([]DrugCharge, error)
	Procedures(ctx context.Context, visitID uuid.UUID) ([]ProcedureCharge, error)
	Materials(ctx context.Context, visitID uuid.UUID) ([]MaterialCharge, error)
	RoomStays(ctx context.Context, visitID uuid.UUID) ([]RoomStayCharge, error)
}

// DefaultSources returns the charge sources in the order their lines appear
// on a bill.
func DefaultSources(reader ChargeReader, consultationFee decimal.Decimal) []ChargeSource {
	return []ChargeSource{
		ConsultationSource{Fee: consultationFee},
		ProcedureSource{Reader: reader},
		DrugSource{Reader: reader},
		MaterialSource{Reader: reader},
		&RoomStaySource{Reader: reader},
	}
}

// ConsultationSource bills a flat fee once per visit.
type ConsultationSource struct {
	Fee decimal.Decimal
}

func (ConsultationSource) Name() string { return "consultation" }

func (s ConsultationSource) Collect(_ context.Context, v *visit.Visit) ([]ItemDraft, error) {
	if !s.Fee.IsPositive() {
		return nil, nil
	}
	return []ItemDraft{{
		Type:        ItemService,
		SourceRef:   "consultation:" + v.ID.String(),
		Description: "Consultation fee",
		Quantity:    1,
		UnitPrice:   s.Fee,
	}}, nil
}

type DrugSource struct {
	Reader ChargeReader
}

func (DrugSource) Name() string { return "drug" }

func (s DrugSource) Collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error) {
	rows, err := s.Reader.Prescriptions(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemDraft, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemDraft{
			Type:        ItemDrug,
			SourceRef:   "prescription:" + r.PrescriptionID.String(),
			Description: r.DrugName,
			Quantity:    r.Quantity,
			UnitPrice:   r.UnitPrice,
		})
	}
	return out, nil
}

// ProcedureSource bills each procedure once at the flat service price.
type ProcedureSource struct {
	Reader ChargeReader
}

func (ProcedureSource) Name() string { return "procedure" }

func (s ProcedureSource) Collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error) {
	rows, err := s.Reader.Procedures(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemDraft, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemDraft{
			Type:        ItemService,
			SourceRef:   "procedure:" + r.ProcedureID.String(),
			Description: r.ServiceName,
			Quantity:    1,
			UnitPrice:   r.Price,
		})
	}
	return out, nil
}

type MaterialSource struct {
	Reader ChargeReader
}

func (MaterialSource) Name() string { return "material" }

func (s MaterialSource) Collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error) {
	rows, err := s.Reader.Materials(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	out := make([]ItemDraft, 0, len(rows))
	for _, r := range rows {
		out = append(out, ItemDraft{
			Type:        ItemMaterial,
			SourceRef:   "material_usage:" + r.UsageID.String(),
			Description: r.MaterialName,
			Quantity:    r.Quantity,
			UnitPrice:   r.UnitPrice,
		})
	}
	return out, nil
}

// RoomStaySource bills daily rate times whole days started. Open stays are
// measured up to Now.
type RoomStaySource struct {
	Reader ChargeReader
	Now    func() time.Time
}

func (*RoomStaySource) Name() string { return "room" }

func (s *RoomStaySource) Collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error) {
	rows, err := s.Reader.RoomStays(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	out := make([]ItemDraft, 0, len(rows))
	for _, r := range rows {
		end := now
		if r.CheckOut != nil {
			end = *r.CheckOut
		}
		days := StayDays(r.CheckIn, end)
		out = append(out, ItemDraft{
			Type:        ItemRoom,
			SourceRef:   "room_stay:" + r.StayID.String(),
			Description: fmt.Sprintf("%s (%d day(s))", r.RoomName, days),
			Quantity:    days,
			UnitPrice:   r.DailyRate,
		})
	}
	return out, nil
}

// StayDays counts started 24h periods between in and out, at least one.
func StayDays(in, out time.Time) int {
	elapsed := out.Sub(in)
	if elapsed <= 0 {
		return 1
	}
	days := int(math.Ceil(elapsed.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}
