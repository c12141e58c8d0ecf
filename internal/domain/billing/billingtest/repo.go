// Package billingtest provides in-memory billing stores for tests.
package billingtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicbill/internal/domain/billing"
	"github.com/ehr/clinicbill/internal/platform/apperr"
)

type state struct {
	billings map[uuid.UUID]billing.Billing
	items    []billing.Item
	payments []billing.Payment
}

func (s state) clone() state {
	billings := make(map[uuid.UUID]billing.Billing, len(s.billings))
	for k, v := range s.billings {
		billings[k] = v
	}
	return state{
		billings: billings,
		items:    append([]billing.Item(nil), s.items...),
		payments: append([]billing.Payment(nil), s.payments...),
	}
}

// Repo implements billing.Repository in memory.
type Repo struct {
	mu sync.Mutex
	st state
}

func NewRepo() *Repo {
	return &Repo{st: state{billings: make(map[uuid.UUID]billing.Billing)}}
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

func (r *Repo) CreateWithItems(_ context.Context, b *billing.Billing, items []*billing.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.st.billings {
		if existing.VisitID == b.VisitID {
			return apperr.New(apperr.KindAlreadyExists, "billing for visit %s already exists", b.VisitID)
		}
	}
	b.ID = uuid.New()
	b.Version = 1
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	r.st.billings[b.ID] = *b
	r.addItems(b.ID, items)
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uuid.UUID) (*billing.Billing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.st.billings[id]
	if !ok {
		return nil, apperr.NotFound("billing %s not found", id)
	}
	return &b, nil
}

func (r *Repo) GetByVisit(_ context.Context, visitID uuid.UUID) (*billing.Billing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.st.billings {
		if b.VisitID == visitID {
			b := b
			return &b, nil
		}
	}
	return nil, apperr.NotFound("billing for visit %s not found", visitID)
}

func (r *Repo) LockByID(ctx context.Context, id uuid.UUID) (*billing.Billing, error) {
	return r.GetByID(ctx, id)
}

func (r *Repo) LockByVisit(ctx context.Context, visitID uuid.UUID) (*billing.Billing, error) {
	return r.GetByVisit(ctx, visitID)
}

func (r *Repo) Update(_ context.Context, b *billing.Billing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.st.billings[b.ID]
	if !ok {
		return apperr.NotFound("billing %s not found", b.ID)
	}
	if cur.Version != b.Version {
		return apperr.New(apperr.KindConcurrentModification, "billing %s was modified concurrently", b.ID)
	}
	b.Version++
	b.UpdatedAt = time.Now()
	r.st.billings[b.ID] = *b
	return nil
}

// Put stores b as-is, for tests that need a billing in a given state.
func (r *Repo) Put(b *billing.Billing) *billing.Billing {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Version == 0 {
		b.Version = 1
	}
	r.st.billings[b.ID] = *b
	return b
}

func (r *Repo) Items(_ context.Context, billingID uuid.UUID) ([]*billing.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*billing.Item{}
	for _, it := range r.st.items {
		if it.BillingID == billingID {
			it := it
			out = append(out, &it)
		}
	}
	return out, nil
}

func (r *Repo) AddItems(_ context.Context, billingID uuid.UUID, items []*billing.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		for _, have := range r.st.items {
			if have.BillingID == billingID && have.SourceRef == it.SourceRef {
				return apperr.New(apperr.KindAlreadyExists, "billing item %s already exists", it.SourceRef)
			}
		}
	}
	r.addItems(billingID, items)
	return nil
}

func (r *Repo) addItems(billingID uuid.UUID, items []*billing.Item) {
	for _, it := range items {
		it.ID = uuid.New()
		it.BillingID = billingID
		it.CreatedAt = time.Now()
		r.st.items = append(r.st.items, *it)
	}
}

func (r *Repo) RemoveItems(_ context.Context, billingID uuid.UUID, itemIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[uuid.UUID]bool, len(itemIDs))
	for _, id := range itemIDs {
		drop[id] = true
	}
	kept := r.st.items[:0:0]
	for _, it := range r.st.items {
		if it.BillingID == billingID && drop[it.ID] {
			continue
		}
		kept = append(kept, it)
	}
	r.st.items = kept
	return nil
}

func (r *Repo) AddPayment(_ context.Context, p *billing.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.st.billings[p.BillingID]; !ok {
		return apperr.NotFound("billing %s not found", p.BillingID)
	}
	p.ID = uuid.New()
	r.st.payments = append(r.st.payments, *p)
	return nil
}

func (r *Repo) Payments(_ context.Context, billingID uuid.UUID) ([]*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*billing.Payment{}
	for _, p := range r.st.payments {
		if p.BillingID == billingID {
			p := p
			out = append(out, &p)
		}
	}
	return out, nil
}
