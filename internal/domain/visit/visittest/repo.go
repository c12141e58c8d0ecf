// Package visittest provides an in-memory visit.Repository for tests of
// packages that drive visit transitions.
package visittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
)

type Repo struct {
	mu      sync.Mutex
	visits  map[uuid.UUID]visit.Visit
	history []visit.StatusHistory
}

func NewRepo() *Repo {
	return &Repo{visits: make(map[uuid.UUID]visit.Visit)}
}

// Put stores v as-is, assigning an ID when missing.
func (r *Repo) Put(v *visit.Visit) *visit.Visit {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.Version == 0 {
		v.Version = 1
	}
	r.visits[v.ID] = *v
	return v
}

func (r *Repo) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	visits := make(map[uuid.UUID]visit.Visit, len(r.visits))
	for k, v := range r.visits {
		visits[k] = v
	}
	history := append([]visit.StatusHistory(nil), r.history...)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.visits = visits
		r.history = history
	}
}

func (r *Repo) Create(_ context.Context, v *visit.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.ID = uuid.New()
	v.Version = 1
	v.CreatedAt = time.Now()
	v.UpdatedAt = v.CreatedAt
	r.visits[v.ID] = *v
	return nil
}

func (r *Repo) GetByID(_ context.Context, id uuid.UUID) (*visit.Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.visits[id]
	if !ok {
		return nil, apperr.NotFound("visit %s not found", id)
	}
	return &v, nil
}

func (r *Repo) LockByID(ctx context.Context, id uuid.UUID) (*visit.Visit, error) {
	return r.GetByID(ctx, id)
}

func (r *Repo) Update(_ context.Context, v *visit.Visit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.visits[v.ID]
	if !ok {
		return apperr.NotFound("visit %s not found", v.ID)
	}
	if cur.Version != v.Version {
		return apperr.New(apperr.KindConcurrentModification, "visit %s was modified concurrently", v.ID)
	}
	v.Version++
	v.UpdatedAt = time.Now()
	r.visits[v.ID] = *v
	return nil
}

func (r *Repo) List(_ context.Context, f visit.ListFilter, limit, offset int) ([]*visit.Visit, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*visit.Visit
	for _, v := range r.visits {
		v := v
		if f.PatientID != nil && v.PatientID != *f.PatientID {
			continue
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.Type != "" && v.Type != f.Type {
			continue
		}
		all = append(all, &v)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ArrivedAt.After(all[j].ArrivedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *Repo) AddStatusHistory(_ context.Context, h *visit.StatusHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.ID = uuid.New()
	r.history = append(r.history, *h)
	return nil
}

func (r *Repo) GetStatusHistory(_ context.Context, visitID uuid.UUID) ([]*visit.StatusHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*visit.StatusHistory
	for _, h := range r.history {
		if h.VisitID == visitID {
			h := h
			out = append(out, &h)
		}
	}
	return out, nil
}
