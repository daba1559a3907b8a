package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nolabru/psiconnect/internal/model"
	"github.com/nolabru/psiconnect/internal/repository"
	"github.com/nolabru/psiconnect/pkg/logger"
	"github.com/nolabru/psiconnect/pkg/messaging"
	"github.com/nolabru/psiconnect/pkg/metrics"
)

type OutboxProcessorConfig struct {
	Channel       string
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	// Processed events older than Retention are purged every CleanupInterval.
	CleanupInterval time.Duration
	Retention       time.Duration
}

// OutboxProcessor forwards pending outbox events to the broker. An event that
// fails RetryAttempts polls in a row is marked FAILED and left for inspection.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) (*OutboxProcessor, error) {
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0")
	}
	if config.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		return nil, fmt.Errorf("retry attempts must be greater than 0")
	}
	if config.Channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  log,
		metrics: m,
		now:     time.Now,
	}, nil
}

// Start polls until ctx is done.
func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	var cleanup <-chan time.Time
	if p.config.CleanupInterval > 0 && p.config.Retention > 0 {
		t := time.NewTicker(p.config.CleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	p.logger.Info("Starting outbox processor", "channel", p.config.Channel)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		case <-cleanup:
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error(err, "Failed to clean up processed events")
			}
		}
	}
}

// ProcessBatch publishes one batch and returns how many events were
// published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	defer p.metrics.ProcessingTimer()()

	events, err := p.repo.GetPendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperation("get_pending_events", "error")
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperation("get_pending_events", "success")

	published := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	msg, err := json.Marshal(messaging.Message{
		ID:        event.ID,
		Type:      event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return p.fail(ctx, event, fmt.Errorf("failed to encode message: %w", err), true)
	}

	if err := p.broker.Publish(ctx, p.config.Channel, msg); err != nil {
		return p.fail(ctx, event, err, false)
	}

	p.metrics.OutboxProcessed()
	if err := p.repo.UpdateStatus(ctx, event.ID, model.OutboxStatusProcessed, nil, event.RetryCount); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

// fail records a publish failure. The event stays pending until it has used
// up its attempts; permanent failures skip the remaining attempts.
func (p *OutboxProcessor) fail(ctx context.Context, event *model.OutboxEvent, cause error, permanent bool) error {
	retries := event.RetryCount + 1
	status := model.OutboxStatusPending
	if permanent || retries >= p.config.RetryAttempts {
		status = model.OutboxStatusFailed
		p.metrics.OutboxFailed()
	} else {
		p.metrics.OutboxRetry(event.EventType)
	}

	msg := cause.Error()
	if err := p.repo.UpdateStatus(ctx, event.ID, status, &msg, retries); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
	}
	return cause
}

// Cleanup purges processed events older than the retention window.
func (p *OutboxProcessor) Cleanup(ctx context.Context) (int64, error) {
	deleted, err := p.repo.DeleteProcessedBefore(ctx, p.now().Add(-p.config.Retention))
	if err != nil {
		p.metrics.DatabaseOperation("delete_processed_events", "error")
		return 0, fmt.Errorf("failed to delete processed events: %w", err)
	}
	p.metrics.DatabaseOperation("delete_processed_events", "success")
	if deleted > 0 {
		p.logger.Info("Purged processed outbox events", "deleted", deleted)
	}
	return deleted, nil
}
