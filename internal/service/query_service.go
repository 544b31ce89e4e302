package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
	"github.com/noah-isme/class-seat-booking/pkg/export"
)

const (
	opListClasses  = "list_classes"
	opListBookings = "list_bookings"
	opClassRoster  = "class_roster"
)

// QueryStore exposes the read-side projections.
type QueryStore interface {
	ListClasses(ctx context.Context, filter models.ClassFilter) ([]models.ClassWithSeats, error)
	ListStudentBookings(ctx context.Context, tenantID, studentID string) ([]models.BookingWithClass, error)
	ClassRoster(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, []models.Booking, error)
}

// QueryService serves the catalog and booking views.
type QueryService struct {
	store QueryStore
	engine
}

// NewQueryService constructs the query service.
func NewQueryService(store QueryStore, opts EngineOptions) *QueryService {
	return &QueryService{store: store, engine: newEngine(opts)}
}

// ListAvailableClasses returns upcoming classes with their seat summaries ordered by start time.
// Classes starting before as_of are left out even when seats remain.
func (s *QueryService) ListAvailableClasses(ctx context.Context, tenantID string, query dto.CatalogQuery) ([]models.ClassWithSeats, error) {
	filter := models.ClassFilter{
		TenantID:   tenantID,
		Semester:   query.Semester,
		Department: normalizeKey(query.Department),
		Section:    normalizeKey(query.Section),
		Program:    normalizeKey(query.Program),
	}
	asOf := query.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var classes []models.ClassWithSeats
	key := CatalogKey(tenantID, strconv.Itoa(filter.Semester), filter.Department, filter.Section, filter.Program)
	if !s.cache.Get(ctx, key, &classes) {
		var err error
		classes, err = s.store.ListClasses(ctx, filter)
		if err != nil {
			return nil, s.translate(ctx, opListClasses, err)
		}
		s.cache.Set(ctx, key, classes, 0)
	}

	seen := make(map[string]struct{}, len(classes))
	result := make([]models.ClassWithSeats, 0, len(classes))
	for _, class := range classes {
		if class.StartTime.Before(asOf) {
			continue
		}
		if _, dup := seen[class.ID]; dup {
			continue
		}
		seen[class.ID] = struct{}{}
		result = append(result, class)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result, nil
}

// ListActiveBookings returns the student's active bookings for classes starting at or after as_of,
// one per class, ordered by class start time.
func (s *QueryService) ListActiveBookings(ctx context.Context, tenantID, studentID string, asOf time.Time) ([]models.BookingWithClass, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	bookings, err := s.store.ListStudentBookings(ctx, tenantID, studentID)
	if err != nil {
		return nil, s.translate(ctx, opListBookings, err)
	}

	byClass := make(map[string]int, len(bookings))
	result := make([]models.BookingWithClass, 0, len(bookings))
	for _, booking := range bookings {
		if !booking.Status.Active() || booking.Class.StartTime.Before(asOf) {
			continue
		}
		booking.Label = booking.WaitlistLabel()
		idx, dup := byClass[booking.ClassID]
		if !dup {
			byClass[booking.ClassID] = len(result)
			result = append(result, booking)
			continue
		}
		s.logger.Warn("multiple active bookings for one class",
			zap.String("tenant_id", tenantID),
			zap.String("class_id", booking.ClassID),
			zap.String("student_id", studentID))
		kept := result[idx]
		if booking.Status.Stronger(kept.Status) ||
			(booking.Status == kept.Status && booking.CreatedAt.Before(kept.CreatedAt)) {
			result[idx] = booking
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Class.StartTime.Before(result[j].Class.StartTime)
	})
	return result, nil
}

// ClassRoster returns the class with its active bookings, confirmed first then waiting by rank.
func (s *QueryService) ClassRoster(ctx context.Context, tenantID, classID string) (*dto.ClassRoster, error) {
	class, bookings, err := s.store.ClassRoster(ctx, tenantID, strings.TrimSpace(classID))
	if err != nil {
		return nil, s.translate(ctx, opClassRoster, err)
	}
	entries := make([]dto.RosterEntry, 0, len(bookings))
	for _, booking := range bookings {
		entries = append(entries, dto.RosterEntry{
			BookingID:   booking.ID,
			StudentID:   booking.StudentID,
			StudentName: booking.StudentName,
			Status:      booking.Status,
			Label:       booking.WaitlistLabel(),
			BookedAt:    booking.CreatedAt,
			PromotedAt:  booking.PromotedAt,
		})
	}
	return &dto.ClassRoster{Class: *class, Entries: entries}, nil
}

// ExportRoster renders the class roster as a CSV or PDF document.
func (s *QueryService) ExportRoster(ctx context.Context, tenantID, classID, format string) (*export.Document, error) {
	docFormat, err := export.ParseFormat(format)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be csv or pdf")
	}
	roster, err := s.ClassRoster(ctx, tenantID, classID)
	if err != nil {
		return nil, err
	}

	class := roster.Class
	table := export.Table{
		Title: fmt.Sprintf("%s %s", class.ClassCode, class.SubjectName),
		Subtitle: fmt.Sprintf("%s / %s / %s, semester %d, %s, %d of %d seats, %d waiting",
			class.ProgramName, class.Department, class.Section, class.Semester,
			class.StartTime.UTC().Format("2006-01-02 15:04 MST"),
			class.Seats.Confirmed, class.Seats.TotalSeats, class.Seats.WaitingCount),
		Columns: []export.Column{
			{Title: "No", Width: 0.6},
			{Title: "Student ID", Width: 2},
			{Title: "Student Name", Width: 2.5},
			{Title: "Status", Width: 1.2},
			{Title: "Waitlist", Width: 1},
			{Title: "Booked At", Width: 2},
		},
	}
	for i, entry := range roster.Entries {
		table.Rows = append(table.Rows, []string{
			strconv.Itoa(i + 1),
			entry.StudentID,
			entry.StudentName,
			string(entry.Status),
			entry.Label,
			entry.BookedAt.UTC().Format(time.RFC3339),
		})
	}

	doc, err := export.Render(docFormat, "roster-"+class.ClassCode, table)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return doc, nil
}
