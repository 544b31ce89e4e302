package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/internal/repository"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
	"github.com/noah-isme/class-seat-booking/pkg/middleware/requestid"
	"github.com/noah-isme/class-seat-booking/pkg/retry"
)

// classLocker runs work inside the per-class atomic unit.
type classLocker interface {
	WithClassLock(ctx context.Context, tenantID, classID string, fn repository.ClassTxFunc) error
}

// EventPublisher receives committed booking events. Implementations must not block the caller.
type EventPublisher interface {
	Publish(ctx context.Context, event models.BookingEvent)
}

// EngineOptions carries the collaborators shared by every write path.
type EngineOptions struct {
	Retry   retry.Policy
	Clock   Clock
	Cache   *CacheService
	Events  EventPublisher
	Metrics *MetricsService
	Logger  *zap.Logger
}

// invariantViolation aborts a transaction whose seat counts would become inconsistent.
type invariantViolation struct {
	tenantID string
	classID  string
	detail   string
}

func (e *invariantViolation) Error() string {
	return fmt.Sprintf("seat invariant violated for class %s: %s", e.classID, e.detail)
}

func violation(class models.ClassSession, format string, args ...interface{}) error {
	return &invariantViolation{tenantID: class.TenantID, classID: class.ID, detail: fmt.Sprintf(format, args...)}
}

// checkSeatInvariant verifies the stored counter against the confirmed bookings it summarises.
func checkSeatInvariant(ctx context.Context, tx repository.ClassTx) error {
	class := tx.Class()
	if class.ConfirmedCount < 0 || class.ConfirmedCount > class.TotalSeats {
		return violation(class, "confirmed_count %d outside [0, %d]", class.ConfirmedCount, class.TotalSeats)
	}
	confirmed, err := tx.CountConfirmed(ctx)
	if err != nil {
		return err
	}
	if confirmed != class.ConfirmedCount {
		return violation(class, "confirmed_count %d but %d confirmed bookings", class.ConfirmedCount, confirmed)
	}
	return nil
}

type engine struct {
	policy  retry.Policy
	clock   Clock
	cache   *CacheService
	events  EventPublisher
	metrics *MetricsService
	logger  *zap.Logger
}

func newEngine(opts EngineOptions) engine {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Clock == nil {
		opts.Clock = NewMonotonicClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return engine{
		policy:  opts.Retry,
		clock:   opts.Clock,
		cache:   opts.Cache,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// withRetry runs fn, retrying transient store failures with bounded backoff. Errors returned by
// fn after a successful commit never reach here, so nothing committed is replayed.
func (e engine) withRetry(ctx context.Context, op string, fn func() error) error {
	return retry.Do(ctx, e.policy, repository.IsTransient, func(attempt int, err error) {
		e.metrics.RecordStoreRetry(op)
		e.logger.Warn("transient store error, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.String("request_id", requestid.FromContext(ctx)),
			zap.Error(err))
	}, fn)
}

// atomically runs fn inside the class's atomic unit with retries.
func (e engine) atomically(ctx context.Context, op string, store classLocker, tenantID, classID string, fn repository.ClassTxFunc) error {
	start := time.Now()
	err := e.withRetry(ctx, op, func() error {
		return store.WithClassLock(ctx, tenantID, classID, fn)
	})
	e.metrics.ObserveAtomicUnit(op, time.Since(start))
	return err
}

// translate maps store and engine failures onto the typed error contract.
func (e engine) translate(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}

	var appErr *appErrors.Error
	var broken *invariantViolation
	switch {
	case errors.As(err, &broken):
		e.metrics.RecordInvariantViolation()
		e.logger.Error("seat invariant violation, transaction aborted",
			zap.String("operation", op),
			zap.String("tenant_id", broken.tenantID),
			zap.String("class_id", broken.classID),
			zap.String("detail", broken.detail),
			zap.String("request_id", requestid.FromContext(ctx)))
		return appErrors.Wrap(err, appErrors.ErrTransientStore.Code, appErrors.ErrTransientStore.Status, appErrors.ErrTransientStore.Message)
	case errors.As(err, &appErr):
		fields := []zap.Field{
			zap.String("operation", op),
			zap.String("code", appErr.Code),
			zap.String("request_id", requestid.FromContext(ctx)),
		}
		if appErrors.IsDomain(appErr) {
			e.logger.Debug("operation rejected", fields...)
		} else {
			e.logger.Warn("operation failed", append(fields, zap.Error(appErr.Err))...)
		}
		return appErr
	case errors.Is(err, repository.ErrClassNotFound):
		return appErrors.Clone(appErrors.ErrClassNotFound, "")
	case errors.Is(err, repository.ErrBookingNotFound):
		return appErrors.Clone(appErrors.ErrBookingNotFound, "")
	case errors.Is(err, repository.ErrDuplicateActiveBooking):
		return appErrors.Clone(appErrors.ErrAlreadyBooked, "")
	case repository.IsTransient(err), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return appErrors.Wrap(err, appErrors.ErrTransientStore.Code, appErrors.ErrTransientStore.Status, appErrors.ErrTransientStore.Message)
	default:
		e.logger.Error("store operation failed", zap.String("operation", op), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to "+op)
	}
}

// outcome labels an error for metrics.
func outcome(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "ERROR"
}

// committed runs the post-commit side effects: cache invalidation then event publication.
func (e engine) committed(ctx context.Context, tenantID string, events ...models.BookingEvent) {
	e.cache.InvalidateTenant(ctx, tenantID)
	if e.events == nil {
		return
	}
	for _, event := range events {
		e.events.Publish(ctx, event)
	}
}
