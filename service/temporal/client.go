package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// CreateSweepSchedule creates the recurring schedule for the overdue payment
// sweep. If the schedule already exists, the existing one is kept and its
// interval is updated.
func (c *Client) CreateSweepSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if _, err := handle.Describe(ctx); err == nil {
		c.logger.Debug("sweep schedule exists, updating interval",
			"schedule_id", sweepScheduleID,
			"interval", interval,
		)
		err = handle.Update(ctx, client.ScheduleUpdateOptions{
			DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
				input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
					{Every: interval},
				}
				return &client.ScheduleUpdate{
					Schedule: &input.Description.Schedule,
				}, nil
			},
		})
		if err != nil {
			return fmt.Errorf("failed to update schedule %q: %w", sweepScheduleID, err)
		}
		return nil
	}

	c.logger.Debug("creating sweep schedule",
		"schedule_id", sweepScheduleID,
		"interval", interval,
	)

	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: sweepScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{
				{Every: interval},
			},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "sweep-overdue-payments-run",
			Workflow:  "SweepOverduePaymentsWorkflow",
			TaskQueue: c.taskQueue,
			Args:      []interface{}{SweepOverduePaymentsInput{}},
		},
		Memo: map[string]interface{}{
			"created_by": "loanme",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule",
			"schedule_id", sweepScheduleID,
			"error", err,
		)
		return fmt.Errorf("failed to create schedule %q: %w", sweepScheduleID, err)
	}

	c.logger.Info("sweep schedule created",
		"schedule_id", sweepScheduleID,
		"interval", interval,
	)
	return nil
}

// DeleteSweepSchedule deletes the sweep schedule.
func (c *Client) DeleteSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, sweepScheduleID)
	if err := handle.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete schedule %q: %w", sweepScheduleID, err)
	}
	c.logger.Info("sweep schedule deleted", "schedule_id", sweepScheduleID)
	return nil
}

// SDKClient returns the underlying Temporal SDK client for direct workflow operations.
func (c *Client) SDKClient() client.Client {
	return c.client
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
