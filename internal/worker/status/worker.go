package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-dialer/internal/app"
	"github.com/acme/lead-dialer/internal/domain"
	"github.com/acme/lead-dialer/internal/queue"
	"github.com/acme/lead-dialer/internal/repository"
)

// Worker consumes the call event and lead status streams and persists
// them: journal rows to Scylla, lead statuses and daily counters to
// Postgres. It keeps all persistence out of the dialer engine.
type Worker struct {
	container *app.Container
}

// New creates a new status worker.
func New(container *app.Container) *Worker {
	return &Worker{container: container}
}

// Run processes events until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := w.consumeCallEvents(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()
	go func() {
		defer wg.Done()
		if err := w.consumeLeadStatus(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	}
}

func (w *Worker) consumeCallEvents(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-call-events"
	reader := w.container.Kafka.NewReader(cfg.Kafka.CallEventTopic, groupID)
	defer reader.Close()

	repos := w.container.Repositories()
	journal := repos.Journal
	stats := repos.Stats
	logger := w.container.Logger

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("status worker: fetch call event", zap.Error(err))
			continue
		}

		var event queue.CallEventMessage
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Error("status worker: unmarshal call event", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		// Lifecycle transitions carry no outcome; only final events are
		// journaled and counted.
		if event.Outcome == "" {
			if err := reader.CommitMessages(ctx, msg); err != nil {
				logger.Error("status worker: commit", zap.Error(err))
			}
			continue
		}

		tracer := otel.Tracer("dialer.statusworker")
		sctx, span := tracer.Start(ctx, "call.event", trace.WithAttributes(
			attribute.String("call.sid", event.CallSID),
			attribute.String("identity", event.Identity),
			attribute.String("outcome", event.Outcome),
		))

		record := domain.CallRecord{
			ID:          uuid.New(),
			Identity:    event.Identity,
			CallSID:     event.CallSID,
			LeadID:      event.LeadID,
			PhoneNumber: event.PhoneNumber,
			Outcome:     domain.CallOutcome(event.Outcome),
			Duration:    time.Duration(event.DurationMs) * time.Millisecond,
			Error:       event.Error,
			StartedAt:   event.StartedAt,
			EndedAt:     event.OccurredAt,
		}
		if record.StartedAt.IsZero() {
			record.StartedAt = event.OccurredAt
		}
		if err := journal.Append(sctx, record); err != nil {
			span.RecordError(err)
			logger.Error("status worker: append journal", zap.Error(err))
		}

		delta := repository.StatsDelta{PlacedDelta: 1}
		switch domain.CallOutcome(event.Outcome) {
		case domain.OutcomeCompleted:
			delta.ConnectedDelta = 1
			delta.TalkTimeDelta = record.Duration
		case domain.OutcomeFailed:
			delta.FailedDelta = 1
		}
		if err := stats.ApplyDelta(sctx, event.Identity, record.StartedAt, delta); err != nil {
			span.RecordError(err)
			logger.Error("status worker: apply stats", zap.Error(err))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("status worker: commit", zap.Error(err))
		}
		span.End()
	}
}

func (w *Worker) consumeLeadStatus(ctx context.Context) error {
	cfg := w.container.Config
	groupID := cfg.Kafka.ConsumerGroupID + "-lead-status"
	reader := w.container.Kafka.NewReader(cfg.Kafka.LeadStatusTopic, groupID)
	defer reader.Close()

	leads := w.container.Repositories().Leads
	logger := w.container.Logger

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error("status worker: fetch lead status", zap.Error(err))
			continue
		}

		var update queue.LeadStatusMessage
		if err := json.Unmarshal(msg.Value, &update); err != nil {
			logger.Error("status worker: unmarshal lead status", zap.Error(err))
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		tracer := otel.Tracer("dialer.statusworker")
		sctx, span := tracer.Start(ctx, "lead.status", trace.WithAttributes(
			attribute.String("lead.id", update.LeadID.String()),
			attribute.String("status", update.Status),
		))

		if err := leads.SetStatus(sctx, update.LeadID, domain.LeadStatus(update.Status), update.Note); err != nil {
			span.RecordError(err)
			logger.Error("status worker: set lead status", zap.Error(err))
		}

		if err := reader.CommitMessages(sctx, msg); err != nil {
			span.RecordError(err)
			logger.Error("status worker: commit", zap.Error(err))
		}
		span.End()
	}
}
