package models

import "time"

// ClassSession is a scheduled class with a fixed seat capacity.
type ClassSession struct {
	ID             string    `db:"id" json:"id"`
	TenantID       string    `db:"tenant_id" json:"tenant_id"`
	ClassCode      string    `db:"class_code" json:"class_code"`
	SubjectName    string    `db:"subject_name" json:"subject_name"`
	ProgramName    string    `db:"program_name" json:"program_name"`
	Department     string    `db:"department" json:"department"`
	Section        string    `db:"section" json:"section"`
	Semester       int       `db:"semester" json:"semester"`
	StartTime      time.Time `db:"start_time" json:"start_time"`
	EndTime        time.Time `db:"end_time" json:"end_time"`
	DurationHours  float64   `db:"duration_hours" json:"duration_hours"`
	TotalSeats     int       `db:"total_seats" json:"total_seats"`
	ConfirmedCount int       `db:"confirmed_count" json:"confirmed_count"`
	// WaitingTail is the highest waiting rank ever handed out for the class.
	WaitingTail int       `db:"waiting_tail" json:"-"`
	CreatedBy   string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Available returns the number of free seats.
func (c ClassSession) Available() int {
	if c.ConfirmedCount >= c.TotalSeats {
		return 0
	}
	return c.TotalSeats - c.ConfirmedCount
}

// StartedBy reports whether the class start is at or before t.
func (c ClassSession) StartedBy(t time.Time) bool {
	return !c.StartTime.After(t)
}

// Overlaps reports whether the class occupies any instant of [start, end).
func (c ClassSession) Overlaps(start, end time.Time) bool {
	return c.StartTime.Before(end) && start.Before(c.EndTime)
}

// SeatSummary is the derived seat view attached to read models.
type SeatSummary struct {
	TotalSeats   int `db:"total_seats" json:"total_seats"`
	Confirmed    int `db:"confirmed_count" json:"confirmed"`
	Available    int `db:"-" json:"available"`
	WaitingCount int `db:"waiting_count" json:"waiting_count"`
}

// NewSeatSummary derives the available seat count.
func NewSeatSummary(totalSeats, confirmed, waiting int) SeatSummary {
	available := totalSeats - confirmed
	if available < 0 {
		available = 0
	}
	return SeatSummary{TotalSeats: totalSeats, Confirmed: confirmed, Available: available, WaitingCount: waiting}
}

// ClassWithSeats is a class annotated with its seat summary.
type ClassWithSeats struct {
	ClassSession
	Seats SeatSummary `json:"seats"`
}

// ClassFilter narrows catalog listings. Empty fields match everything.
type ClassFilter struct {
	TenantID   string
	Semester   int
	Department string
	Section    string
	Program    string
}
