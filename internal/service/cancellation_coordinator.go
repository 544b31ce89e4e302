package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/internal/repository"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

const opCancelBooking = "cancel_booking"

// CancellationStore locates bookings and serialises work on their class.
type CancellationStore interface {
	classLocker
	FindBooking(ctx context.Context, tenantID, bookingID string) (*models.Booking, error)
}

// CancellationCoordinator releases seats and promotes the head of the waiting list.
type CancellationCoordinator struct {
	store CancellationStore
	engine
}

// NewCancellationCoordinator constructs the coordinator.
func NewCancellationCoordinator(store CancellationStore, opts EngineOptions) *CancellationCoordinator {
	return &CancellationCoordinator{store: store, engine: newEngine(opts)}
}

// CancelBooking cancels the student's booking. Cancelling a confirmed booking hands its seat to
// the waiting booking with the smallest rank, or frees the seat when nobody is waiting.
func (c *CancellationCoordinator) CancelBooking(ctx context.Context, actor models.Actor, bookingID string) (*dto.CancelResult, error) {
	bookingID = strings.TrimSpace(bookingID)
	if bookingID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "booking id is required")
	}

	located, err := c.store.FindBooking(ctx, actor.TenantID, bookingID)
	if err != nil {
		err = c.translate(ctx, opCancelBooking, err)
		c.metrics.RecordOutcome(opCancelBooking, outcome(err))
		return nil, err
	}
	if !ownedActive(located, actor.UserID) {
		c.metrics.RecordOutcome(opCancelBooking, appErrors.ErrBookingNotFound.Code)
		return nil, appErrors.Clone(appErrors.ErrBookingNotFound, "")
	}

	var (
		result    dto.CancelResult
		cancelled models.Booking
		promoted  *models.Booking
	)
	err = c.atomically(ctx, opCancelBooking, c.store, actor.TenantID, located.ClassID, func(tx repository.ClassTx) error {
		result, promoted = dto.CancelResult{}, nil
		class := tx.Class()

		// The booking may have changed between the lookup and the lock.
		booking, err := tx.Booking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !ownedActive(booking, actor.UserID) {
			return appErrors.Clone(appErrors.ErrBookingNotFound, "")
		}
		if err := checkSeatInvariant(ctx, tx); err != nil {
			return err
		}

		now := c.clock.Now(actor.TenantID)
		wasConfirmed := booking.Status == models.BookingStatusConfirmed
		booking.Status = models.BookingStatusCancelled
		booking.WaitingRank = nil
		booking.CancelledAt = &now
		if err := tx.UpdateBooking(ctx, booking); err != nil {
			return err
		}

		confirmed := class.ConfirmedCount
		if wasConfirmed {
			next, err := tx.NextWaiting(ctx)
			if err != nil {
				return err
			}
			if next != nil {
				next.Status = models.BookingStatusConfirmed
				next.WaitingRank = nil
				next.PromotedAt = &now
				if err := tx.UpdateBooking(ctx, next); err != nil {
					return err
				}
				promoted = next
			} else {
				confirmed--
				if confirmed < 0 {
					return violation(class, "confirmed_count would drop to %d", confirmed)
				}
				if err := tx.UpdateCounters(ctx, confirmed, class.WaitingTail); err != nil {
					return err
				}
			}
		}

		active, err := tx.CountActive(ctx)
		if err != nil {
			return err
		}
		result = dto.CancelResult{
			Cancelled:       true,
			Promoted:        promoted != nil,
			PromotedBooking: promoted,
			Seats:           models.NewSeatSummary(class.TotalSeats, confirmed, active-confirmed),
		}
		cancelled = *booking
		return nil
	})
	if err != nil {
		err = c.translate(ctx, opCancelBooking, err)
		c.metrics.RecordOutcome(opCancelBooking, outcome(err))
		return nil, err
	}

	label := "cancelled"
	events := []models.BookingEvent{newBookingEvent(models.EventBookingCancelled, cancelled, *cancelled.CancelledAt)}
	if promoted != nil {
		label = "promoted"
		events = append(events, newBookingEvent(models.EventBookingPromoted, *promoted, *promoted.PromotedAt))
	}
	c.metrics.RecordOutcome(opCancelBooking, label)
	c.logger.Info("booking cancelled",
		zap.String("tenant_id", actor.TenantID),
		zap.String("class_id", cancelled.ClassID),
		zap.String("booking_id", cancelled.ID),
		zap.Bool("promoted", result.Promoted))
	c.committed(ctx, actor.TenantID, events...)

	return &result, nil
}

func ownedActive(booking *models.Booking, studentID string) bool {
	return booking != nil && booking.StudentID == studentID && booking.Status.Active()
}
