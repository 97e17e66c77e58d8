package temporal

import (
	"context"
	"log/slog"
	"time"

	"github.com/loanme/loanme/service/metrics"
)

// StoreInterface is the subset of store operations the sweep activities need.
// Satisfied by *db.Store.
type StoreInterface interface {
	MarkOverduePayments(ctx context.Context, asOf time.Time) (int64, error)
}

// Activities holds the dependencies for workflow activities.
type Activities struct {
	store   StoreInterface
	metrics *metrics.Metrics // Optional: if nil, no metrics will be recorded
	logger  *slog.Logger
}

// NewActivities creates a new Activities instance with the given dependencies.
func NewActivities(store StoreInterface, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// MarkOverduePaymentsInput is the input to the MarkOverduePayments activity.
type MarkOverduePaymentsInput struct {
	AsOf time.Time `json:"as_of"`
}

// MarkOverduePaymentsResult reports how many payments were flipped to late.
type MarkOverduePaymentsResult struct {
	MarkedLate int64 `json:"marked_late"`
}

// MarkOverduePayments flips 'due' payments whose due date has passed to
// 'late'. Already-late and paid payments are untouched, so re-running the
// sweep is idempotent.
func (a *Activities) MarkOverduePayments(ctx context.Context, input MarkOverduePaymentsInput) (*MarkOverduePaymentsResult, error) {
	asOf := input.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	marked, err := a.store.MarkOverduePayments(ctx, asOf)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to mark overdue payments",
			"as_of", asOf,
			"error", err,
		)
		return nil, err
	}

	if a.metrics != nil && marked > 0 {
		a.metrics.RecordOverduePayments(marked)
	}

	a.logger.InfoContext(ctx, "overdue payment sweep complete",
		"as_of", asOf,
		"marked_late", marked,
	)
	return &MarkOverduePaymentsResult{MarkedLate: marked}, nil
}
