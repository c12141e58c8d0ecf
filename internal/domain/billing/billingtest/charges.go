package billingtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/clinicbill/internal/domain/billing"
)

// Charges is a billing.ChargeReader over rows set by the test.
type Charges struct {
	mu            sync.Mutex
	prescriptions map[uuid.UUID][]billing.DrugCharge
	procedures    map[uuid.UUID][]billing.ProcedureCharge
	materials     map[uuid.UUID][]billing.MaterialCharge
	stays         map[uuid.UUID][]billing.RoomStayCharge
	// Err, when set, is returned by every read.
	Err error
}

func NewCharges() *Charges {
	return &Charges{
		prescriptions: make(map[uuid.UUID][]billing.DrugCharge),
		procedures:    make(map[uuid.UUID][]billing.ProcedureCharge),
		materials:     make(map[uuid.UUID][]billing.MaterialCharge),
		stays:         make(map[uuid.UUID][]billing.RoomStayCharge),
	}
}

func (c *Charges) AddPrescription(visitID uuid.UUID, ch billing.DrugCharge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prescriptions[visitID] = append(c.prescriptions[visitID], ch)
}

func (c *Charges) AddProcedure(visitID uuid.UUID, ch billing.ProcedureCharge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.procedures[visitID] = append(c.procedures[visitID], ch)
}

func (c *Charges) AddMaterial(visitID uuid.UUID, ch billing.MaterialCharge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.materials[visitID] = append(c.materials[visitID], ch)
}

func (c *Charges) AddRoomStay(visitID uuid.UUID, ch billing.RoomStayCharge) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stays[visitID] = append(c.stays[visitID], ch)
}

// ClearProcedures drops the visit's procedures, as if they were removed
// from the record.
func (c *Charges) ClearProcedures(visitID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procedures, visitID)
}

func (c *Charges) Prescriptions(_ context.Context, visitID uuid.UUID) ([]billing.DrugCharge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.DrugCharge(nil), c.prescriptions[visitID]...), c.Err
}

func (c *Charges) Procedures(_ context.Context, visitID uuid.UUID) ([]billing.ProcedureCharge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.ProcedureCharge(nil), c.procedures[visitID]...), c.Err
}

func (c *Charges) Materials(_ context.Context, visitID uuid.UUID) ([]billing.MaterialCharge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.MaterialCharge(nil), c.materials[visitID]...), c.Err
}

func (c *Charges) RoomStays(_ context.Context, visitID uuid.UUID) ([]billing.RoomStayCharge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.RoomStayCharge(nil), c.stays[visitID]...), c.Err
}
