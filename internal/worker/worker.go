// Package worker runs reconciliation passes requested over the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker listens for run requests and executes the pipeline. Runs are
// serialized: a request arriving while a run is in flight is rejected
// rather than queued, since every run reads the same source files.
type Worker struct {
	bus    domain.EventBus
	runner *pipeline.Runner
	logger *slog.Logger

	subscriptions []domain.Subscription
	running       sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a run worker.
func NewWorker(bus domain.EventBus, runner *pipeline.Runner, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		runner: runner,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the run request topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRunRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("run worker started", "topic", domain.TopicRunRequested)
	return nil
}

// RunRequest is the message payload asking for a reconciliation pass.
type RunRequest struct {
	RequestedBy string `json:"requestedBy,omitempty"`
	TraceID     string `json:"traceId,omitempty"`
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req RunRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.logger.Error("failed to parse run request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	if !w.running.TryLock() {
		w.logger.Warn("run request rejected, a run is already in flight",
			"trace_id", traceID,
		)
		return nil
	}
	defer w.running.Unlock()

	start := time.Now()
	w.logger.Debug("processing run request",
		"trace_id", traceID,
		"requested_by", req.RequestedBy,
	)

	res, err := w.runner.Run(ctx)
	if err != nil {
		w.logger.Error("requested run failed",
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	w.logger.Info("requested run completed",
		"trace_id", traceID,
		"run_id", res.Run.ID,
		"journal_entries", len(res.Journal),
		"findings", len(res.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("run worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
