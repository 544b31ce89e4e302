package dto

import (
	"time"

	"github.com/noah-isme/class-seat-booking/internal/models"
)

// CreateClassRequest is the faculty payload for scheduling a class.
type CreateClassRequest struct {
	SubjectName   string    `json:"subject_name" validate:"required,max=200"`
	ProgramName   string    `json:"program_name" validate:"required,max=100"`
	Department    string    `json:"department" validate:"required,max=100"`
	Section       string    `json:"section" validate:"required,max=50"`
	Semester      int       `json:"semester" validate:"required,min=1,max=20"`
	StartTime     time.Time `json:"start_time" validate:"required"`
	DurationHours float64   `json:"duration_hours" validate:"required,gt=0,lte=24"`
	TotalSeats    int       `json:"total_seats" validate:"required,gt=0,lte=10000"`
}

// CreateClassResponse identifies the new class.
type CreateClassResponse struct {
	ID        string    `json:"id"`
	ClassCode string    `json:"class_code"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// CreateBookingRequest asks for a seat. The student identity comes from the token.
type CreateBookingRequest struct {
	ClassID     string `json:"class_id" validate:"required,max=64"`
	StudentName string `json:"student_name" validate:"omitempty,max=200"`
}

// BookingResult tells the caller whether the seat was confirmed or the waiting list joined.
type BookingResult struct {
	ID          string               `json:"id"`
	ClassID     string               `json:"class_id"`
	Status      models.BookingStatus `json:"status"`
	WaitingRank *int                 `json:"waiting_rank,omitempty"`
	Label       string               `json:"waitlist_label,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	Seats       models.SeatSummary   `json:"seats"`
}

// CancelResult reports the outcome of a cancellation.
type CancelResult struct {
	Cancelled       bool               `json:"cancelled"`
	Promoted        bool               `json:"promoted"`
	PromotedBooking *models.Booking    `json:"promoted_booking,omitempty"`
	Seats           models.SeatSummary `json:"seats"`
}

// CatalogQuery is the read-side query for available classes.
type CatalogQuery struct {
	AsOf       time.Time
	Semester   int
	Department string
	Section    string
	Program    string
}

// RosterEntry is one line of a class roster.
type RosterEntry struct {
	BookingID   string               `json:"booking_id"`
	StudentID   string               `json:"student_id"`
	StudentName string               `json:"student_name,omitempty"`
	Status      models.BookingStatus `json:"status"`
	Label       string               `json:"waitlist_label,omitempty"`
	BookedAt    time.Time            `json:"booked_at"`
	PromotedAt  *time.Time           `json:"promoted_at,omitempty"`
}

// ClassRoster is the faculty view of a class and its active bookings.
type ClassRoster struct {
	Class   models.ClassWithSeats `json:"class"`
	Entries []RosterEntry         `json:"entries"`
}
