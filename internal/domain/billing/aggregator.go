package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicbill/internal/domain/medrecord"
	"github.com/ehr/clinicbill/internal/domain/visit"
	"github.com/ehr/clinicbill/internal/platform/apperr"
	"github.com/ehr/clinicbill/internal/platform/auth"
	"github.com/ehr/clinicbill/internal/platform/db"
)

// Visits reads and row-locks visits.
type Visits interface {
	Get(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
	Lock(ctx context.Context, id uuid.UUID) (*visit.Visit, error)
}

// Records finds a visit's medical record.
type Records interface {
	GetByVisit(ctx context.Context, visitID uuid.UUID) (*medrecord.MedicalRecord, error)
}

// Aggregator builds itemized bills from the charge sources.
type Aggregator struct {
	repo    Repository
	tx      db.TxRunner
	visits  Visits
	records Records
	sources []ChargeSource
	logger  zerolog.Logger
}

func NewAggregator(repo Repository, tx db.TxRunner, visits Visits, records Records, sources []ChargeSource, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		repo:    repo,
		tx:      tx,
		visits:  visits,
		records: records,
		sources: sources,
		logger:  logger.With().Str("component", "billing_aggregator").Logger(),
	}
}

// collect runs every source and concatenates their drafts in source order.
// Sources share one connection inside a transaction, so they run one at a
// time there.
func (a *Aggregator) collect(ctx context.Context, v *visit.Visit) ([]ItemDraft, error) {
	results := make([][]ItemDraft, len(a.sources))
	g, gctx := errgroup.WithContext(ctx)
	if db.InTx(ctx) {
		g.SetLimit(1)
	}
	for i, src := range a.sources {
		i, src := i, src
		g.Go(func() error {
			drafts, err := src.Collect(gctx, v)
			if err != nil {
				return fmt.Errorf("collect %s charges: %w", src.Name(), err)
			}
			results[i] = drafts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []ItemDraft
	for _, drafts := range results {
		out = append(out, drafts...)
	}
	return out, nil
}

// billable loads the visit and checks it has clinical documentation.
func (a *Aggregator) billable(ctx context.Context, visitID uuid.UUID, load func(context.Context, uuid.UUID) (*visit.Visit, error)) (*visit.Visit, error) {
	v, err := load(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if v.Status == visit.StatusCancelled {
		return nil, apperr.InvalidTransition("visit %s is cancelled", v.ID)
	}
	if _, err := a.records.GetByVisit(ctx, visitID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.PreconditionFailed("visit %s has no medical record", visitID)
		}
		return nil, err
	}
	return v, nil
}

func checkVariant(t visit.Type, variant Variant) error {
	switch variant {
	case VariantDischarge:
		if t != visit.TypeInpatient {
			return apperr.New(apperr.KindInvalidVisitType, "discharge billing requires an inpatient visit, got %s", t)
		}
	case VariantCheckout:
		if t == visit.TypeInpatient {
			return apperr.New(apperr.KindInvalidVisitType, "checkout billing is not available for inpatient visits")
		}
	case VariantAuto:
	default:
		return apperr.InvalidInput("unknown billing variant %q", variant)
	}
	return nil
}

func itemsFrom(drafts []ItemDraft, billingID uuid.UUID) []*Item {
	items := make([]*Item, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, d.item(billingID))
	}
	return items
}

// Preview returns the bill the visit would get now without writing anything.
func (a *Aggregator) Preview(ctx context.Context, visitID uuid.UUID) (*Breakdown, error) {
	v, err := a.billable(ctx, visitID, a.visits.Get)
	if err != nil {
		return nil, err
	}
	drafts, err := a.collect(ctx, v)
	if err != nil {
		return nil, err
	}
	items := itemsFrom(drafts, uuid.Nil)
	b := &Billing{}
	Recompute(b, Subtotal(items), decimal.Zero)
	return &Breakdown{
		VisitID:        v.ID,
		VisitType:      v.Type,
		Items:          items,
		Subtotal:       b.Subtotal,
		TotalAmount:    b.TotalAmount,
		PatientPayable: b.PatientPayable,
	}, nil
}

// Create persists the visit's first billing. The visit row is locked while
// charges are read and the billing is written.
func (a *Aggregator) Create(ctx context.Context, visitID uuid.UUID, variant Variant, actor auth.Actor) (*Statement, error) {
	if variant == "" {
		variant = VariantAuto
	}
	var st *Statement
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		v, err := a.billable(ctx, visitID, a.visits.Lock)
		if err != nil {
			return err
		}
		if err := checkVariant(v.Type, variant); err != nil {
			return err
		}
		if visit.IsTerminal(v.Status) {
			return apperr.InvalidTransition("visit %s is %s", v.ID, v.Status)
		}

		existing, err := a.repo.GetByVisit(ctx, visitID)
		switch {
		case err == nil:
			return apperr.New(apperr.KindAlreadyExists, "billing %s already exists for visit %s", existing.ID, visitID)
		case !errors.Is(err, apperr.ErrNotFound):
			return err
		}

		drafts, err := a.collect(ctx, v)
		if err != nil {
			return err
		}
		items := itemsFrom(drafts, uuid.Nil)
		b := &Billing{VisitID: visitID, CreatedBy: actor.UserID}
		Recompute(b, Subtotal(items), decimal.Zero)
		if err := a.repo.CreateWithItems(ctx, b, items); err != nil {
			return err
		}
		st = &Statement{Billing: b, Items: items}
		return nil
	})
	if err != nil {
		a.logger.Warn().
			Str("visit_id", visitID.String()).
			Str("variant", string(variant)).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("billing creation rejected")
		return nil, err
	}
	a.logger.Info().
		Str("billing_id", st.ID.String()).
		Str("visit_id", visitID.String()).
		Str("variant", string(variant)).
		Int("items", len(st.Items)).
		Str("subtotal", st.Subtotal.StringFixed(MoneyScale)).
		Str("total", st.TotalAmount.StringFixed(MoneyScale)).
		Str("actor", actor.UserID).
		Msg("billing created")
	return st, nil
}

// Refresh re-aggregates an existing billing. Charges not yet on the bill are
// added by source reference; lines whose source disappeared are removed only
// while nothing has been paid. Existing lines are never duplicated.
func (a *Aggregator) Refresh(ctx context.Context, billingID uuid.UUID, actor auth.Actor) (*Statement, error) {
	var (
		st             *Statement
		added, removed int
	)
	err := a.tx.WithTx(ctx, func(ctx context.Context) error {
		current, err := a.repo.GetByID(ctx, billingID)
		if err != nil {
			return err
		}
		v, err := a.billable(ctx, current.VisitID, a.visits.Lock)
		if err != nil {
			return err
		}
		if visit.IsTerminal(v.Status) {
			return apperr.InvalidTransition("billing of %s visit %s is closed", v.Status, v.ID)
		}
		b, err := a.repo.LockByID(ctx, billingID)
		if err != nil {
			return err
		}

		drafts, err := a.collect(ctx, v)
		if err != nil {
			return err
		}
		items, err := a.repo.Items(ctx, b.ID)
		if err != nil {
			return err
		}

		have := make(map[string]*Item, len(items))
		for _, it := range items {
			have[it.SourceRef] = it
		}
		seen := make(map[string]bool, len(drafts))
		var fresh []*Item
		for _, d := range drafts {
			seen[d.SourceRef] = true
			if _, ok := have[d.SourceRef]; !ok {
				fresh = append(fresh, d.item(b.ID))
			}
		}

		var stale []uuid.UUID
		keep := make([]*Item, 0, len(items)+len(fresh))
		for _, it := range items {
			if !seen[it.SourceRef] && b.PaidAmount.IsZero() {
				stale = append(stale, it.ID)
				continue
			}
			keep = append(keep, it)
		}

		if err := a.repo.RemoveItems(ctx, b.ID, stale); err != nil {
			return err
		}
		if err := a.repo.AddItems(ctx, b.ID, fresh); err != nil {
			return err
		}
		keep = append(keep, fresh...)

		Recompute(b, Subtotal(keep), b.PaidAmount)
		if err := a.repo.Update(ctx, b); err != nil {
			return err
		}
		st = &Statement{Billing: b, Items: keep}
		added, removed = len(fresh), len(stale)
		return nil
	})
	if err != nil {
		a.logger.Warn().
			Str("billing_id", billingID.String()).
			Str("kind", string(apperr.KindOf(err))).
			Str("actor", actor.UserID).
			Msg("billing refresh rejected")
		return nil, err
	}
	a.logger.Info().
		Str("billing_id", billingID.String()).
		Int("added", added).
		Int("removed", removed).
		Str("total", st.TotalAmount.StringFixed(MoneyScale)).
		Str("remaining", st.RemainingAmount.StringFixed(MoneyScale)).
		Str("actor", actor.UserID).
		Msg("billing refreshed")
	return st, nil
}

// Statement returns a billing with its items.
func (a *Aggregator) Statement(ctx context.Context, billingID uuid.UUID) (*Statement, error) {
	b, err := a.repo.GetByID(ctx, billingID)
	if err != nil {
		return nil, err
	}
	return a.statement(ctx, b)
}

func (a *Aggregator) StatementForVisit(ctx context.Context, visitID uuid.UUID) (*Statement, error) {
	b, err := a.repo.GetByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return a.statement(ctx, b)
}

func (a *Aggregator) statement(ctx context.Context, b *Billing) (*Statement, error) {
	items, err := a.repo.Items(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	return &Statement{Billing: b, Items: items}, nil
}
