package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/pkg/events"
	"github.com/noah-isme/class-seat-booking/pkg/jobs"
)

const eventJobKind = "booking_event"

// MessagePublisher delivers one message to the broker.
type MessagePublisher interface {
	Publish(ctx context.Context, msg events.Message) error
}

// EventDispatcher hands committed booking events to a background queue that publishes them.
// Delivery is best effort: a full queue or a broker failure is logged and counted, never
// reported to the operation that produced the event.
type EventDispatcher struct {
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewEventDispatcher wires the queue handler to the publisher.
func NewEventDispatcher(publisher MessagePublisher, cfg jobs.QueueConfig, metrics *MetricsService) *EventDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	d := &EventDispatcher{metrics: metrics, logger: cfg.Logger}
	d.queue = jobs.NewQueue("booking-events", func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(models.BookingEvent)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		err := publisher.Publish(ctx, events.Message{
			ID:        event.ID,
			Key:       string(event.Type),
			Timestamp: event.OccurredAt,
			Payload:   event,
		})
		metrics.RecordEvent(string(event.Type), err == nil)
		return err
	}, cfg)
	metrics.TrackEventBacklog(d.queue.Pending)
	return d
}

// Start launches the publishing workers.
func (d *EventDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (d *EventDispatcher) Stop() {
	d.queue.Stop()
}

// Publish enqueues the event without blocking.
func (d *EventDispatcher) Publish(ctx context.Context, event models.BookingEvent) {
	if d == nil {
		return
	}
	err := d.queue.TryEnqueue(jobs.Job{ID: event.ID, Kind: eventJobKind, Payload: event})
	if err == nil {
		return
	}
	d.metrics.RecordEvent(string(event.Type), false)
	level := d.logger.Warn
	if !errors.Is(err, jobs.ErrQueueFull) {
		level = d.logger.Error
	}
	level("booking event dropped",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("booking_id", event.BookingID),
		zap.Error(err))
}
