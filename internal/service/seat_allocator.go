package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	"github.com/noah-isme/class-seat-booking/internal/repository"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

const opRequestBooking = "request_booking"

// SeatAllocator decides whether a booking request takes a seat or joins the waiting list.
type SeatAllocator struct {
	store     classLocker
	validator *validator.Validate
	engine
}

// NewSeatAllocator constructs the allocator.
func NewSeatAllocator(store classLocker, validate *validator.Validate, opts EngineOptions) *SeatAllocator {
	if validate == nil {
		validate = validator.New()
	}
	return &SeatAllocator{store: store, validator: validate, engine: newEngine(opts)}
}

// RequestBooking confirms a seat when one is free and otherwise appends the student to the
// class waiting list. The duplicate check, the capacity decision and the write share one atomic unit.
func (s *SeatAllocator) RequestBooking(ctx context.Context, actor models.Actor, req dto.CreateBookingRequest) (*dto.BookingResult, error) {
	req.ClassID = strings.TrimSpace(req.ClassID)
	req.StudentName = strings.TrimSpace(req.StudentName)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	if actor.TenantID == "" || actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing tenant or student identity")
	}

	var (
		booking *models.Booking
		seats   models.SeatSummary
	)
	err := s.atomically(ctx, opRequestBooking, s.store, actor.TenantID, req.ClassID, func(tx repository.ClassTx) error {
		booking = nil
		class := tx.Class()
		now := s.clock.Now(actor.TenantID)
		if class.StartedBy(now) {
			return appErrors.Clone(appErrors.ErrClassExpired, "")
		}

		existing, err := tx.ActiveBookingFor(ctx, actor.UserID)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.Clone(appErrors.ErrAlreadyBooked, "").WithDetails(map[string]interface{}{
				"booking_id": existing.ID,
				"status":     existing.Status,
			})
		}
		if err := checkSeatInvariant(ctx, tx); err != nil {
			return err
		}

		candidate := &models.Booking{
			ID:          uuid.NewString(),
			TenantID:    actor.TenantID,
			ClassID:     class.ID,
			StudentID:   actor.UserID,
			StudentName: req.StudentName,
			CreatedAt:   now,
		}
		if candidate.StudentName == "" {
			candidate.StudentName = actor.Name
		}

		confirmed, tail := class.ConfirmedCount, class.WaitingTail
		if confirmed < class.TotalSeats {
			candidate.Status = models.BookingStatusConfirmed
			confirmed++
		} else {
			tail++
			rank := tail
			candidate.Status = models.BookingStatusWaiting
			candidate.WaitingRank = &rank
		}
		if confirmed > class.TotalSeats {
			return violation(class, "confirmed_count would reach %d of %d", confirmed, class.TotalSeats)
		}

		if err := tx.InsertBooking(ctx, candidate); err != nil {
			return err
		}
		if err := tx.UpdateCounters(ctx, confirmed, tail); err != nil {
			return err
		}
		active, err := tx.CountActive(ctx)
		if err != nil {
			return err
		}
		booking = candidate
		seats = models.NewSeatSummary(class.TotalSeats, confirmed, active-confirmed)
		return nil
	})
	if err != nil {
		err = s.translate(ctx, opRequestBooking, err)
		s.metrics.RecordOutcome(opRequestBooking, outcome(err))
		return nil, err
	}

	s.metrics.RecordOutcome(opRequestBooking, string(booking.Status))
	s.logger.Info("booking created",
		zap.String("tenant_id", booking.TenantID),
		zap.String("class_id", booking.ClassID),
		zap.String("booking_id", booking.ID),
		zap.String("status", string(booking.Status)))

	eventType := models.EventBookingConfirmed
	if booking.Status == models.BookingStatusWaiting {
		eventType = models.EventBookingWaitlisted
	}
	s.committed(ctx, booking.TenantID, newBookingEvent(eventType, *booking, booking.CreatedAt))

	return &dto.BookingResult{
		ID:          booking.ID,
		ClassID:     booking.ClassID,
		Status:      booking.Status,
		WaitingRank: booking.WaitingRank,
		Label:       booking.WaitlistLabel(),
		CreatedAt:   booking.CreatedAt,
		Seats:       seats,
	}, nil
}

func newBookingEvent(eventType models.BookingEventType, booking models.Booking, at time.Time) models.BookingEvent {
	return models.BookingEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		TenantID:    booking.TenantID,
		ClassID:     booking.ClassID,
		BookingID:   booking.ID,
		StudentID:   booking.StudentID,
		Status:      booking.Status,
		WaitingRank: booking.WaitingRank,
		OccurredAt:  at,
	}
}
