package models

import "time"

// BookingEventType names a committed booking state change.
type BookingEventType string

const (
	EventBookingConfirmed  BookingEventType = "booking.confirmed"
	EventBookingWaitlisted BookingEventType = "booking.waitlisted"
	EventBookingPromoted   BookingEventType = "booking.promoted"
	EventBookingCancelled  BookingEventType = "booking.cancelled"
)

// BookingEvent is published after the owning transaction commits.
type BookingEvent struct {
	ID          string           `json:"id"`
	Type        BookingEventType `json:"type"`
	TenantID    string           `json:"tenant_id"`
	ClassID     string           `json:"class_id"`
	BookingID   string           `json:"booking_id"`
	StudentID   string           `json:"student_id"`
	Status      BookingStatus    `json:"status"`
	WaitingRank *int             `json:"waiting_rank,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}
