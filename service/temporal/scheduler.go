package temporal

import (
	"context"
	"time"
)

// Scheduler manages the Temporal schedule that drives the overdue payment
// sweep. The schedule triggers SweepOverduePaymentsWorkflow on a fixed
// interval.
type Scheduler interface {
	// CreateSweepSchedule creates the recurring schedule for the overdue
	// payment sweep. Safe to call when the schedule already exists.
	CreateSweepSchedule(ctx context.Context, interval time.Duration) error

	// DeleteSweepSchedule deletes the sweep schedule, stopping the sweeps.
	DeleteSweepSchedule(ctx context.Context) error
}

// sweepScheduleID is the Temporal schedule ID for the overdue payment sweep.
const sweepScheduleID = "sweep-overdue-payments"
