package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// SweepOverduePaymentsInput is the input to SweepOverduePaymentsWorkflow.
// Empty today; kept as a struct so the schedule action stays stable if
// parameters are added later.
type SweepOverduePaymentsInput struct{}

// SweepOverduePaymentsResult summarizes one sweep run.
type SweepOverduePaymentsResult struct {
	SweepTime  time.Time `json:"sweep_time"`
	MarkedLate int64     `json:"marked_late"`
	Error      *string   `json:"error,omitempty"`
}

// SweepOverduePaymentsWorkflow is triggered by a Temporal schedule at a
// configured interval. It runs a single activity that marks every 'due'
// payment whose due date has passed as 'late'.
func SweepOverduePaymentsWorkflow(ctx workflow.Context, input SweepOverduePaymentsInput) (*SweepOverduePaymentsResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("SweepOverduePaymentsWorkflow started")

	result := &SweepOverduePaymentsResult{
		SweepTime: workflow.Now(ctx),
	}

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 60 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var sweepResult *MarkOverduePaymentsResult
	err := workflow.ExecuteActivity(ctx, a.MarkOverduePayments, MarkOverduePaymentsInput{
		AsOf: workflow.Now(ctx).UTC(),
	}).Get(ctx, &sweepResult)
	if err != nil {
		errMsg := fmt.Sprintf("failed to mark overdue payments: %v", err)
		result.Error = &errMsg
		return result, fmt.Errorf("failed to mark overdue payments: %w", err)
	}

	result.MarkedLate = sweepResult.MarkedLate
	logger.Info("SweepOverduePaymentsWorkflow complete", "marked_late", result.MarkedLate)
	return result, nil
}
