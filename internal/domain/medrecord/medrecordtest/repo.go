// Package medrecordtest provides an in-memory medrecord.Repository.
package medrecordtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ehr/clinicbill/internal/domain/medrecord"
	"github.com/ehr/clinicbill/internal/platform/apperr"
)

type state struct {
	records       map[uuid.UUID]medrecord.MedicalRecord
	diagnoses     []medrecord.Diagnosis
	procedures    []medrecord.Procedure
	prescriptions []medrecord.Prescription
	materials     []medrecord.MaterialUsage
}

func (s state) clone() state {
	records := make(map[uuid.UUID]medrecord.MedicalRecord, len(s.records))
	for k, v := range s.records {
		records[k] = v
	}
	return state{
		records:       records,
		diagnoses:     append([]medrecord.Diagnosis(nil), s.diagnoses...),
		procedures:    append([]medrecord.Procedure(nil), s.procedures...),
		prescriptions: append([]medrecord.Prescription(nil), s.prescriptions...),
		materials:     append([]medrecord.MaterialUsage(nil), s.materials...),
	}
}

// Repo keeps records and entries in memory. Catalogue rows referenced by
// entries must be registered with AddService, AddDrug or AddMaterial.
type Repo struct {
	mu        sync.Mutex
	st        state
	services  map[uuid.UUID]bool
	drugs     map[uuid.UUID]bool
	materials map[uuid.UUID]decimal.Decimal
}

func NewRepo() *Repo {
	return &Repo{
		st:        state{records: make(map[uuid.UUID]medrecord.MedicalRecord)},
		services:  make(map[uuid.UUID]bool),
		drugs:     make(map[uuid.UUID]bool),
		materials: make(map[uuid.UUID]decimal.Decimal),
	}
}

func (r *Repo) AddService(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[id] = true
}

func (r *Repo) AddDrug(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drugs[id] = true
}

func (r *Repo) AddMaterial(id uuid.UUID, unitPrice decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.materials[id] = unitPrice
}

// Put stores rec as-is, assigning an ID when missing.
func (r *Repo) Put(rec *medrecord.MedicalRecord) *medrecord.MedicalRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	r.st.records[rec.ID] = *rec
	return rec
}

func (r *Repo) Snapshot() func() {
	r.mu.Lock()
	saved := r.st.clone()
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.st = saved
	}
}

func (r *Repo) Create(_ context.Context, rec *medrecord.MedicalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.st.records {
		if existing.VisitID == rec.VisitID {
			return apperr.New(apperr.KindAlreadyExists, "medical record for visit %s already exists", rec.VisitID)
		}
	}
	rec.ID = uuid.New()
	rec.IsLocked = false
	rec.IsDraft = true
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	r.st.records[rec.ID] = *rec
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.st.records[id]
	if !ok {
		return nil, apperr.NotFound("medical record %s not found", id)
	}
	return &rec, nil
}

func (r *Repo) GetByVisit(_ context.Context, visitID uuid.UUID) (*medrecord.MedicalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.st.records {
		if rec.VisitID == visitID {
			rec := rec
			return &rec, nil
		}
	}
	return nil, apperr.NotFound("medical record for visit %s not found", visitID)
}

func (r *Repo) LockByID(ctx context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *Repo) ShareByID(ctx context.Context, id uuid.UUID) (*medrecord.MedicalRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *Repo) Update(_ context.Context, rec *medrecord.MedicalRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.records[rec.ID]; !ok {
		return apperr.NotFound("medical record %s not found", rec.ID)
	}
	rec.UpdatedAt = time.Now()
	r.st.records[rec.ID] = *rec
	return nil
}

func (r *Repo) AddDiagnosis(_ context.Context, d *medrecord.Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	r.st.diagnoses = append(r.st.diagnoses, *d)
	return nil
}

func (r *Repo) AddProcedure(_ context.Context, p *medrecord.Procedure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.services[p.ServiceID] {
		return apperr.NotFound("service %s not found", p.ServiceID)
	}
	p.ID = uuid.New()
	p.PerformedAt = time.Now()
	r.st.procedures = append(r.st.procedures, *p)
	return nil
}

func (r *Repo) AddPrescription(_ context.Context, p *medrecord.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.drugs[p.DrugID] {
		return apperr.NotFound("drug %s not found", p.DrugID)
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	r.st.prescriptions = append(r.st.prescriptions, *p)
	return nil
}

func (r *Repo) AddMaterialUsage(_ context.Context, m *medrecord.MaterialUsage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	price, ok := r.materials[m.MaterialID]
	if !ok {
		return apperr.NotFound("material %s not found", m.MaterialID)
	}
	m.ID = uuid.New()
	m.UnitPrice = price
	m.UsedAt = time.Now()
	r.st.materials = append(r.st.materials, *m)
	return nil
}

func (r *Repo) RemoveEntry(_ context.Context, kind medrecord.EntryKind, recordID, entryID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := false
	switch kind {
	case medrecord.EntryDiagnosis:
		r.st.diagnoses, removed = without(r.st.diagnoses, func(d medrecord.Diagnosis) bool {
			return d.ID == entryID && d.RecordID == recordID
		})
	case medrecord.EntryProcedure:
		r.st.procedures, removed = without(r.st.procedures, func(p medrecord.Procedure) bool {
			return p.ID == entryID && p.RecordID == recordID
		})
	case medrecord.EntryPrescription:
		r.st.prescriptions, removed = without(r.st.prescriptions, func(p medrecord.Prescription) bool {
			return p.ID == entryID && p.RecordID == recordID
		})
	case medrecord.EntryMaterial:
		r.st.materials, removed = without(r.st.materials, func(m medrecord.MaterialUsage) bool {
			return m.ID == entryID && m.RecordID == recordID
		})
	default:
		return apperr.InvalidInput("unknown entry kind %q", kind)
	}
	if !removed {
		return apperr.NotFound("%s %s not found on record %s", kind, entryID, recordID)
	}
	return nil
}

func without[T any](items []T, match func(T) bool) ([]T, bool) {
	out := make([]T, 0, len(items))
	removed := false
	for _, it := range items {
		if match(it) {
			removed = true
			continue
		}
		out = append(out, it)
	}
	return out, removed
}

func (r *Repo) CountDiagnoses(_ context.Context, recordID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.st.diagnoses {
		if d.RecordID == recordID {
			n++
		}
	}
	return n, nil
}

func (r *Repo) Entries(_ context.Context, recordID uuid.UUID) (*medrecord.Entries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := &medrecord.Entries{
		Diagnoses:     []*medrecord.Diagnosis{},
		Procedures:    []*medrecord.Procedure{},
		Prescriptions: []*medrecord.Prescription{},
		Materials:     []*medrecord.MaterialUsage{},
	}
	for _, d := range r.st.diagnoses {
		if d.RecordID == recordID {
			d := d
			out.Diagnoses = append(out.Diagnoses, &d)
		}
	}
	for _, p := range r.st.procedures {
		if p.RecordID == recordID {
			p := p
			out.Procedures = append(out.Procedures, &p)
		}
	}
	for _, p := range r.st.prescriptions {
		if p.RecordID == recordID {
			p := p
			out.Prescriptions = append(out.Prescriptions, &p)
		}
	}
	for _, m := range r.st.materials {
		if m.RecordID == recordID {
			m := m
			out.Materials = append(out.Materials, &m)
		}
	}
	return out, nil
}
