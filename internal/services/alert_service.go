package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-billing-reconciler/internal/domain"
	"github.com/tbourn/go-billing-reconciler/internal/observability"
	"github.com/tbourn/go-billing-reconciler/internal/repo"
	"github.com/tbourn/go-billing-reconciler/internal/utils"
)

const raiseAttempts = 3

var alertTracer = otel.Tracer("services/alerts")

// RaiseParams describes one detection of a health signal.
type RaiseParams struct {
	Type     domain.AlertType
	Severity domain.Severity
	Title    string
	Message  string
	Details  any
	Refs     domain.AlertRefs
}

// RaiseResult identifies the alert a detection landed on.
type RaiseResult struct {
	ID      string
	Deduped bool
}

// AlertFilter selects a page of alerts.
type AlertFilter struct {
	Status   domain.AlertStatus
	Type     domain.AlertType
	Severity domain.Severity
	Page     int
	PageSize int
}

// AlertService deduplicates detections into alerts and applies the
// operator lifecycle (acknowledge, resolve, suppress).
type AlertService struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewAlertService returns a service backed by db.
func NewAlertService(db *gorm.DB) *AlertService {
	return &AlertService{DB: db, Now: time.Now}
}

func (s *AlertService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// Raise records a detection. While an alert with the same type and exactly
// the same references is active or acknowledged, the detection folds into
// it: the count grows, lastSeenAt moves and severity can only rise.
// Otherwise a new active alert is opened.
func (s *AlertService) Raise(ctx context.Context, p RaiseParams) (RaiseResult, error) {
	ctx, span := alertTracer.Start(ctx, "AlertService.Raise")
	defer span.End()
	span.SetAttributes(attribute.String("alert.type", string(p.Type)), attribute.String("alert.severity", string(p.Severity)))

	if !p.Type.Valid() {
		return RaiseResult{}, fmt.Errorf("%w: alert type %q", ErrInvalidInput, p.Type)
	}
	if !p.Severity.Valid() {
		return RaiseResult{}, fmt.Errorf("%w: severity %q", ErrInvalidInput, p.Severity)
	}
	details, err := snapshot(p.Details)
	if err != nil {
		return RaiseResult{}, fmt.Errorf("%w: details: %v", ErrInvalidInput, err)
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = string(p.Type)
	}
	key := domain.AlertDedupKey(p.Type, p.Refs)

	for attempt := 0; attempt < raiseAttempts; attempt++ {
		now := s.now()
		id, err := repo.BumpOpenAlert(ctx, s.DB, key, repo.AlertOccurrence{
			Severity: p.Severity,
			Message:  p.Message,
			Details:  details,
			SeenAt:   now,
		})
		if err == nil {
			observability.AlertsRaised.WithLabelValues(string(p.Type), string(p.Severity), "true").Inc()
			return RaiseResult{ID: id, Deduped: true}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return RaiseResult{}, transient("bump alert", err)
		}

		refs := p.Refs
		a := &domain.Alert{
			Type:           p.Type,
			Severity:       p.Severity,
			Status:         domain.AlertActive,
			Title:          title,
			Message:        p.Message,
			Details:        details,
			TenantID:       domain.StrPtr(refs.TenantID),
			CustomerID:     domain.StrPtr(refs.CustomerID),
			PaymentID:      domain.StrPtr(refs.PaymentID),
			SubscriptionID: domain.StrPtr(refs.SubscriptionID),
			SyncRunID:      domain.StrPtr(refs.SyncRunID),
			Count:          1,
			FirstSeenAt:    now,
			LastSeenAt:     now,
			OpenKey:        &key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = repo.CreateAlert(ctx, s.DB, a)
		if err == nil {
			observability.AlertsRaised.WithLabelValues(string(p.Type), string(p.Severity), "false").Inc()
			log.Ctx(ctx).Warn().
				Str("alert_id", a.ID).
				Str("type", string(p.Type)).
				Str("severity", string(p.Severity)).
				Msg(title)
			return RaiseResult{ID: a.ID}, nil
		}
		if !errors.Is(err, repo.ErrDuplicate) {
			return RaiseResult{}, transient("create alert", err)
		}
	}
	return RaiseResult{}, transient("raise alert", errors.New("dedup retries exhausted"))
}

// Acknowledge marks an active alert as seen. It keeps absorbing detections.
// Acknowledging an acknowledged alert is a no-op.
func (s *AlertService) Acknowledge(ctx context.Context, actor, id string) (*domain.Alert, error) {
	now := s.now()
	return s.transition(ctx, actor, id, "acknowledge",
		[]domain.AlertStatus{domain.AlertActive},
		[]domain.AlertStatus{domain.AlertAcknowledged},
		map[string]any{
			"status":          domain.AlertAcknowledged,
			"acknowledged_at": now,
			"acknowledged_by": actor,
			"updated_at":      now,
		})
}

// Resolve closes an alert. The next detection opens a fresh one.
func (s *AlertService) Resolve(ctx context.Context, actor, id, note string) (*domain.Alert, error) {
	now := s.now()
	return s.transition(ctx, actor, id, "resolve",
		[]domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged, domain.AlertSuppressed},
		[]domain.AlertStatus{domain.AlertResolved},
		map[string]any{
			"status":          domain.AlertResolved,
			"resolved_at":     now,
			"resolved_by":     actor,
			"resolution_note": domain.StrPtr(strings.TrimSpace(note)),
			"open_key":        nil,
			"updated_at":      now,
		})
}

// Suppress silences an alert until the given time. It stops absorbing
// detections, so a recurrence during the window opens a new alert.
func (s *AlertService) Suppress(ctx context.Context, actor, id string, until time.Time) (*domain.Alert, error) {
	now := s.now()
	if !until.After(now) {
		return nil, ErrInvalidSuppression
	}
	return s.transition(ctx, actor, id, "suppress",
		[]domain.AlertStatus{domain.AlertActive, domain.AlertAcknowledged},
		nil,
		map[string]any{
			"status":           domain.AlertSuppressed,
			"suppressed_until": until.UTC(),
			"open_key":         nil,
			"updated_at":       now,
		})
}

// transition applies fields while the alert is in one of from. An alert
// already in one of idempotent is returned unchanged.
func (s *AlertService) transition(ctx context.Context, actor, id, op string, from, idempotent []domain.AlertStatus, fields map[string]any) (*domain.Alert, error) {
	ctx, span := alertTracer.Start(ctx, "AlertService."+op)
	defer span.End()
	span.SetAttributes(attribute.String("alert.id", id))

	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	ok, err := repo.TransitionAlert(ctx, s.DB, id, from, fields)
	if err != nil {
		return nil, transient(op+" alert", err)
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		for _, st := range idempotent {
			if a.Status == st {
				return a, nil
			}
		}
		return nil, fmt.Errorf("%w: cannot %s a %s alert", ErrInvalidAlertTransition, op, a.Status)
	}
	log.Ctx(ctx).Info().Str("alert_id", id).Str("op", op).Str("actor", actor).Msg("alert updated")
	return a, nil
}

// Get fetches an alert.
func (s *AlertService) Get(ctx context.Context, id string) (*domain.Alert, error) {
	a, err := repo.GetAlert(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, transient("get alert", err)
	}
	return a, nil
}

// List returns a page of alerts and the total match count.
func (s *AlertService) List(ctx context.Context, f AlertFilter) ([]domain.Alert, int64, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, fmt.Errorf("%w: alert type %q", ErrInvalidInput, f.Type)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return nil, 0, fmt.Errorf("%w: severity %q", ErrInvalidInput, f.Severity)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: alert status %q", ErrInvalidInput, f.Status)
	}
	page, size := utils.ClampPage(f.Page, f.PageSize)
	items, total, err := repo.ListAlerts(ctx, s.DB, repo.AlertQuery{
		Status:   f.Status,
		Type:     f.Type,
		Severity: f.Severity,
		Offset:   (page - 1) * size,
		Limit:    size,
	})
	if err != nil {
		return nil, 0, transient("list alerts", err)
	}
	return items, total, nil
}

// Counts aggregates alerts by (type, status).
func (s *AlertService) Counts(ctx context.Context) ([]repo.TypeStatusCount, error) {
	rows, err := repo.AlertCountsByTypeStatus(ctx, s.DB)
	if err != nil {
		return nil, transient("count alerts", err)
	}
	return rows, nil
}
