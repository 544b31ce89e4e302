package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/class-seat-booking/internal/models"
)

var (
	// ErrClassNotFound is returned when a class id does not resolve within the tenant.
	ErrClassNotFound = errors.New("class not found")
	// ErrBookingNotFound is returned when a booking id does not resolve within the tenant.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrDuplicateActiveBooking is raised by the active-booking uniqueness guard.
	ErrDuplicateActiveBooking = errors.New("duplicate active booking")
	// ErrTransient marks contention or availability failures that are safe to retry.
	ErrTransient = errors.New("transient store error")
	// ErrLockTimeout is returned when the per-class lock could not be acquired in time.
	ErrLockTimeout = fmt.Errorf("%w: class lock wait timed out", ErrTransient)
)

// SlotConflictError reports the class whose time slot overlaps a new one.
type SlotConflictError struct {
	ClassID   string
	ClassCode string
}

func (e *SlotConflictError) Error() string {
	return fmt.Sprintf("time slot overlaps class %s", e.ClassCode)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// ClassTx is the per-class atomic unit. Every read and write made through it happens while the
// class is exclusively held, and nothing becomes visible to other callers unless the
// function passed to WithClassLock returns nil.
type ClassTx interface {
	// Class returns the class record as read when the lock was taken.
	Class() models.ClassSession
	// ActiveBookingFor returns the student's non-cancelled booking for the class, or nil.
	ActiveBookingFor(ctx context.Context, studentID string) (*models.Booking, error)
	// Booking returns a booking of the class by id.
	Booking(ctx context.Context, bookingID string) (*models.Booking, error)
	// NextWaiting returns the active waiting booking with the smallest rank, or nil.
	NextWaiting(ctx context.Context) (*models.Booking, error)
	CountConfirmed(ctx context.Context) (int, error)
	CountActive(ctx context.Context) (int, error)
	InsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBooking(ctx context.Context, booking *models.Booking) error
	// UpdateCounters persists confirmed_count and the waiting-list tail pointer.
	UpdateCounters(ctx context.Context, confirmedCount, waitingTail int) error
	// DeleteClass retires the class. Its bookings are kept for audit.
	DeleteClass(ctx context.Context) error
}

// ClassTxFunc is run while the class is held.
type ClassTxFunc func(tx ClassTx) error
