package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
	"github.com/tbourn/go-billing-reconciler/internal/utils"
)

const reportAttempts = 3

var (
	conflictTracer = otel.Tracer("services/conflicts")
	validate       = validator.New()
)

// EntityMerger folds duplicate business entities together on behalf of a
// merge resolution. Implementations must be idempotent: a merge interrupted
// after the merger ran is retried from scratch.
type EntityMerger interface {
	Merge(ctx context.Context, c domain.Conflict, primaryEntityID string) error
}

// ConflictReport describes one detection of a disagreement. Subject, when
// set, is kept on the conflict after it is resolved.
type ConflictReport struct {
	Type    domain.ConflictType
	Refs    domain.ConflictRefs
	Local   any
	Remote  any
	Field   string
	Subject string
}

// ReportResult identifies the conflict a report landed on.
type ReportResult struct {
	ID      string
	Deduped bool
}

// ResolveParams is the operator's resolution request.
type ResolveParams struct {
	Action          domain.ResolutionAction `json:"action"            validate:"required,oneof=ignore link merge"`
	Note            string                  `json:"note"              validate:"max=2000"`
	PrimaryEntityID string                  `json:"primary_entity_id" validate:"omitempty,max=64"`
}

// ResolutionResult is the conflict after Resolve. Replayed is set when the
// conflict was already terminal and nothing changed.
type ResolutionResult struct {
	Conflict *domain.Conflict
	Replayed bool
}

// ConflictFilter selects a page of conflicts.
type ConflictFilter struct {
	Status   domain.ConflictStatus
	Type     domain.ConflictType
	Page     int
	PageSize int
}

// ConflictService stores detected conflicts and applies operator resolutions.
type ConflictService struct {
	DB     *gorm.DB
	Merger EntityMerger
	Now    func() time.Time
}

// NewConflictService returns a service backed by db.
func NewConflictService(db *gorm.DB, merger EntityMerger) *ConflictService {
	return &ConflictService{DB: db, Merger: merger, Now: time.Now}
}

func (s *ConflictService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Report records a detection. A pending or resolving conflict with the same
// type and references is refreshed in place (snapshots replaced, detection
// count incremented); otherwise a new pending conflict is created.
func (s *ConflictService) Report(ctx context.Context, r ConflictReport) (ReportResult, error) {
	return s.report(ctx, s.DB, r)
}

// report is Report against db, which may be an open transaction.
func (s *ConflictService) report(ctx context.Context, db *gorm.DB, r ConflictReport) (ReportResult, error) {
	ctx, span := conflictTracer.Start(ctx, "ConflictService.Report")
	defer span.End()

	if !r.Type.Valid() {
		return ReportResult{}, fmt.Errorf("%w: conflict type %q", ErrInvalidInput, r.Type)
	}
	if r.Refs.Empty() {
		return ReportResult{}, ErrInvalidConflictRefs
	}
	local, err := snapshot(r.Local)
	if err != nil {
		return ReportResult{}, fmt.Errorf("%w: local snapshot: %v", ErrInvalidInput, err)
	}
	remote, err := snapshot(r.Remote)
	if err != nil {
		return ReportResult{}, fmt.Errorf("%w: remote snapshot: %v", ErrInvalidInput, err)
	}

	key := domain.ConflictDedupKey(r.Type, r.Refs)
	snap := repo.ConflictSnapshot{LocalData: local, RemoteData: remote, Field: domain.StrPtr(r.Field)}

	for attempt := 0; attempt < reportAttempts; attempt++ {
		now := s.now()
		id, err := repo.RefreshOpenConflict(ctx, db, key, snap, now)
		if err == nil {
			observability.ConflictsReported.WithLabelValues(string(r.Type), "true").Inc()
			span.SetAttributes(attribute.Bool("conflict.deduped", true))
			return ReportResult{ID: id, Deduped: true}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return ReportResult{}, transient("refresh conflict", err)
		}

		c := &domain.Conflict{
			Type:                 r.Type,
			Status:               domain.ConflictPending,
			LocalCustomerID:      domain.StrPtr(r.Refs.LocalCustomerID),
			RemoteCustomerID:     domain.StrPtr(r.Refs.RemoteCustomerID),
			RemotePaymentID:      domain.StrPtr(r.Refs.RemotePaymentID),
			RemoteSubscriptionID: domain.StrPtr(r.Refs.RemoteSubscriptionID),
			LocalData:            local,
			RemoteData:           remote,
			Field:                domain.StrPtr(r.Field),
			DetectionCount:       1,
			PendingKey:           &key,
			SubjectKey:           domain.StrPtr(r.Subject),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		// savepoint inside an enclosing transaction, so a lost race does not
		// abort it on postgres
		err = db.Transaction(func(tx *gorm.DB) error {
			return repo.CreateConflict(ctx, tx, c)
		})
		if err == nil {
			observability.ConflictsReported.WithLabelValues(string(r.Type), "false").Inc()
			log.Ctx(ctx).Info().Str("conflict_id", c.ID).Str("type", string(r.Type)).Msg("conflict opened")
			return ReportResult{ID: c.ID}, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return ReportResult{}, transient("create conflict", err)
		}
		// lost the insert race; the winner's row is refreshable now
	}
	return ReportResult{}, transient("report conflict", errors.New("dedup retries exhausted"))
}

// Get fetches a conflict.
func (s *ConflictService) Get(ctx context.Context, id string) (*domain.Conflict, error) {
	c, err := repo.GetConflict(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transient("get conflict", err)
	}
	return c, nil
}

// List returns a page of conflicts and the total match count.
func (s *ConflictService) List(ctx context.Context, f ConflictFilter) ([]domain.Conflict, int64, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: conflict type %q", ErrInvalidInput, f.Type)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: conflict status %q", ErrInvalidInput, f.Status)
	}
	page, size := utils.ClampPage(f.Page, f.PageSize)
	items, total, err := repo.ListConflicts(ctx, s.DB, repo.ConflictQuery{
		Status: f.Status,
		Type:   f.Type,
		Offset: (page - 1) * size,
		Limit:  size,
	})
	if err != nil {
		return nil, 0, transient("list conflicts", err)
	}
	return items, total, nil
}

// Counts aggregates conflicts by (type, status).
func (s *ConflictService) Counts(ctx context.Context) ([]repo.TypeStatusCount, error) {
	rows, err := repo.ConflictCountsByTypeStatus(ctx, s.DB)
	if err != nil {
		return nil, transient("count conflicts", err)
	}
	return rows, nil
}

// Resolve applies an operator decision. Resolving a conflict that is
// already resolved or ignored returns its recorded resolution unchanged.
func (s *ConflictService) Resolve(ctx context.Context, actor, id string, p ResolveParams) (ResolutionResult, error) {
	ctx, span := conflictTracer.Start(ctx, "ConflictService.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("conflict.id", id), attribute.String("conflict.action", string(p.Action)))

	if strings.TrimSpace(actor) == "" {
		return ResolutionResult{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return ResolutionResult{}, err
	}
	if c.Status.Terminal() {
		return ResolutionResult{Conflict: c, Replayed: true}, nil
	}
	if err := validate.Struct(p); err != nil {
		return ResolutionResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if c.Status == domain.ConflictResolving {
		return ResolutionResult{}, fmt.Errorf("%w: resolution already in progress", ErrInvalidConflictAction)
	}

	switch p.Action {
	case domain.ActionIgnore:
		err = s.finish(ctx, s.DB, c, actor, p, domain.ConflictIgnored, domain.ConflictPending)
	case domain.ActionLink:
		err = s.link(ctx, c, actor, p)
	case domain.ActionMerge:
		err = s.merge(ctx, c, actor, p)
	}
	if err != nil {
		return ResolutionResult{}, err
	}

	out, err := s.Get(ctx, id)
	if err != nil {
		return ResolutionResult{}, err
	}
	log.Ctx(ctx).Info().
		Str("conflict_id", id).
		Str("action", string(p.Action)).
		Str("actor", actor).
		Msg("conflict resolved")
	return ResolutionResult{Conflict: out}, nil
}

func (s *ConflictService) link(ctx context.Context, c *domain.Conflict, actor string, p ResolveParams) error {
	refs := c.Refs()
	if refs.LocalCustomerID == "" || refs.RemoteCustomerID == "" {
		return fmt.Errorf("%w: link needs both a local and a remote customer reference", ErrInvalidConflictAction)
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := repo.SetCustomerGatewayID(ctx, tx, refs.LocalCustomerID, refs.RemoteCustomerID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: local customer %s not found", ErrInvalidConflictAction, refs.LocalCustomerID)
		case errors.Is(err, repo.ErrDuplicate):
			return fmt.Errorf("%w: gateway customer %s is linked to another customer", ErrInvalidConflictAction, refs.RemoteCustomerID)
		case err != nil:
			return transient("link customer", err)
		}
		return s.finish(ctx, tx, c, actor, p, domain.ConflictResolved, domain.ConflictPending)
	})
}

func (s *ConflictService) merge(ctx context.Context, c *domain.Conflict, actor string, p ResolveParams) error {
	if p.PrimaryEntityID == "" || !c.Refs().Contains(p.PrimaryEntityID) {
		return fmt.Errorf("%w: merge needs a primary entity among the conflict's references", ErrInvalidConflictAction)
	}
	if s.Merger == nil {
		return fmt.Errorf("%w: no merger configured", ErrInvalidConflictAction)
	}

	claimed, err := repo.TransitionConflict(ctx, s.DB, c.ID, domain.ConflictPending, map[string]any{
		"status":            domain.ConflictResolving,
		"resolution":        domain.ActionMerge,
		"primary_entity_id": p.PrimaryEntityID,
		"updated_at":        s.now(),
	})
	if err != nil {
		return transient("claim conflict", err)
	}
	if !claimed {
		return fmt.Errorf("%w: conflict changed concurrently", ErrInvalidConflictAction)
	}

	if err := s.Merger.Merge(ctx, *c, p.PrimaryEntityID); err != nil {
		// revert so the operator can retry; detached so a cancelled request
		// cannot strand the conflict in resolving
		_, rerr := repo.TransitionConflict(context.WithoutCancel(ctx), s.DB, c.ID, domain.ConflictResolving, map[string]any{
			"status":            domain.ConflictPending,
			"resolution":        nil,
			"primary_entity_id": nil,
			"updated_at":        s.now(),
		})
		if rerr != nil {
			log.Ctx(ctx).Error().Err(rerr).Str("conflict_id", c.ID).Msg("revert after failed merge")
		}
		return fmt.Errorf("merge: %w", err)
	}
	return s.finish(ctx, s.DB, c, actor, p, domain.ConflictResolved, domain.ConflictResolving)
}

// finish moves c from status from into the terminal status to, recording the
// resolution metadata and releasing the dedup key.
func (s *ConflictService) finish(ctx context.Context, db *gorm.DB, c *domain.Conflict, actor string, p ResolveParams, to, from domain.ConflictStatus) error {
	now := s.now()
	fields := map[string]any{
		"status":          to,
		"resolution":      p.Action,
		"resolved_at":     now,
		"resolved_by":     actor,
		"resolution_note": domain.StrPtr(strings.TrimSpace(p.Note)),
		"pending_key":     nil,
		"updated_at":      now,
	}
	if p.PrimaryEntityID != "" {
		fields["primary_entity_id"] = p.PrimaryEntityID
	}
	ok, err := repo.TransitionConflict(ctx, db, c.ID, from, fields)
	if err != nil {
		return transient("finish conflict", err)
	}
	if !ok {
		return fmt.Errorf("%w: conflict changed concurrently", ErrInvalidConflictAction)
	}
	return nil
}

// DetectDuplicateCustomers reports a duplicate_customer conflict for every
// local customer sharing an email address with an older one. Pairs an
// operator already resolved or ignored are skipped. It returns the number of
// reports filed.
func (s *ConflictService) DetectDuplicateCustomers(ctx context.Context) (int, error) {
	ctx, span := conflictTracer.Start(ctx, "ConflictService.DetectDuplicateCustomers")
	defer span.End()

	groups, err := repo.FindDuplicateEmails(ctx, s.DB)
	if err != nil {
		return 0, transient("find duplicate customers", err)
	}
	reported := 0
	for _, g := range groups {
		original, err := repo.GetCustomer(ctx, s.DB, g.CustomerIDs[0])
		if err != nil {
			return reported, transient("load customer", err)
		}
		for _, id := range g.CustomerIDs[1:] {
			subject := domain.CustomerPairKey(original.ID, id)
			decided, err := repo.HasTerminalConflict(ctx, s.DB, domain.ConflictDuplicateCustomer, subject)
			if err != nil {
				return reported, transient("check prior resolution", err)
			}
			if decided {
				continue
			}
			dup, err := repo.GetCustomer(ctx, s.DB, id)
			if err != nil {
				return reported, transient("load customer", err)
			}
			if _, err := s.Report(ctx, ConflictReport{
				Type:    domain.ConflictDuplicateCustomer,
				Refs:    duplicateRefs(original, dup),
				Local:   dup,
				Remote:  original,
				Field:   "email",
				Subject: subject,
			}); err != nil {
				return reported, err
			}
			reported++
		}
	}
	span.SetAttributes(attribute.Int("conflict.reported", reported))
	return reported, nil
}

// duplicateRefs points the conflict at the local customer lacking a gateway
// link and the gateway id of the one that has it, so both link and merge can
// act on it.
func duplicateRefs(original, dup *domain.Customer) domain.ConflictRefs {
	switch {
	case original.GatewayCustomerID != nil:
		return domain.ConflictRefs{LocalCustomerID: dup.ID, RemoteCustomerID: *original.GatewayCustomerID}
	case dup.GatewayCustomerID != nil:
		return domain.ConflictRefs{LocalCustomerID: original.ID, RemoteCustomerID: *dup.GatewayCustomerID}
	default:
		return domain.ConflictRefs{LocalCustomerID: dup.ID}
	}
}

// CustomerMerger merges a local customer with the local customer already
// linked to the conflict's remote customer id. Payments and subscriptions
// move to the survivor, which also takes the gateway link; the other
// customer is marked as merged into it.
type CustomerMerger struct {
	DB *gorm.DB
}

// Merge folds the two customers behind c's references into the one named by
// primaryEntityID (the local id or the gateway id). Conflicts without both
// customer references have nothing to fold.
func (m *CustomerMerger) Merge(ctx context.Context, c domain.Conflict, primaryEntityID string) error {
	refs := c.Refs()
	if refs.LocalCustomerID == "" || refs.RemoteCustomerID == "" {
		return nil
	}
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		linked, err := repo.GetCustomerByGatewayID(ctx, tx, refs.RemoteCustomerID)
		if errors.Is(err, repo.ErrNotFound) {
			return repo.SetCustomerGatewayID(ctx, tx, refs.LocalCustomerID, refs.RemoteCustomerID)
		}
		if err != nil {
			return err
		}
		keep, drop := refs.LocalCustomerID, linked.ID
		if primaryEntityID == refs.RemoteCustomerID {
			keep, drop = linked.ID, refs.LocalCustomerID
		}
		if keep == drop {
			return nil
		}
		if err := repo.ReassignCustomer(ctx, tx, drop, keep); err != nil {
			return err
		}
		if err := repo.MarkCustomerMerged(ctx, tx, drop, keep); err != nil {
			return err
		}
		if keep == refs.LocalCustomerID {
			if err := repo.ClearCustomerGatewayID(ctx, tx, drop); err != nil {
				return err
			}
			return repo.SetCustomerGatewayID(ctx, tx, keep, refs.RemoteCustomerID)
		}
		return nil
	})
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(datatypes.JSON); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
