package models

import (
	"strconv"
	"time"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusWaiting   BookingStatus = "waiting"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Active reports whether the status counts toward seats or the waiting list.
func (s BookingStatus) Active() bool {
	return s == BookingStatusConfirmed || s == BookingStatusWaiting
}

// strength orders statuses when several active bookings map to one class.
func (s BookingStatus) strength() int {
	switch s {
	case BookingStatusConfirmed:
		return 2
	case BookingStatusWaiting:
		return 1
	default:
		return 0
	}
}

// Stronger reports whether s should win over other in a per-class dedup.
func (s BookingStatus) Stronger(other BookingStatus) bool {
	return s.strength() > other.strength()
}

// Booking is one student's claim on a seat or a place in the waiting list.
type Booking struct {
	ID          string        `db:"id" json:"id"`
	TenantID    string        `db:"tenant_id" json:"tenant_id"`
	ClassID     string        `db:"class_id" json:"class_id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	StudentName string        `db:"student_name" json:"student_name,omitempty"`
	Status      BookingStatus `db:"status" json:"status"`
	WaitingRank *int          `db:"waiting_rank" json:"waiting_rank,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	PromotedAt  *time.Time    `db:"promoted_at" json:"promoted_at,omitempty"`
	CancelledAt *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
}

// WaitlistLabel renders the rank as shown to students, e.g. WL-3.
func (b Booking) WaitlistLabel() string {
	if b.Status != BookingStatusWaiting || b.WaitingRank == nil {
		return ""
	}
	return "WL-" + strconv.Itoa(*b.WaitingRank)
}

// BookingWithClass joins a booking to its class summary.
type BookingWithClass struct {
	Booking
	Label string         `json:"waitlist_label,omitempty"`
	Class ClassWithSeats `json:"class"`
}
