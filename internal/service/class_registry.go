package service

import (
	"context"
	"errors"
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

const (
	opCreateClass = "create_class"
	opGetClass    = "get_class"
	opDeleteClass = "delete_class"
)

// ClassStore persists class records.
type ClassStore interface {
	classLocker
	CreateClass(ctx context.Context, class *models.ClassSession) error
	FindClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error)
}

// ClassRegistry schedules and retires classes. Seat counters are never written here.
type ClassRegistry struct {
	store     ClassStore
	validator *validator.Validate
	engine
}

// NewClassRegistry constructs the registry.
func NewClassRegistry(store ClassStore, validate *validator.Validate, opts EngineOptions) *ClassRegistry {
	if validate == nil {
		validate = validator.New()
	}
	return &ClassRegistry{store: store, validator: validate, engine: newEngine(opts)}
}

// CreateClass validates and stores a new class with zero confirmed seats.
func (r *ClassRegistry) CreateClass(ctx context.Context, actor models.Actor, req dto.CreateClassRequest) (*dto.CreateClassResponse, error) {
	req.SubjectName = strings.TrimSpace(req.SubjectName)
	req.ProgramName = normalizeKey(req.ProgramName)
	req.Department = normalizeKey(req.Department)
	req.Section = normalizeKey(req.Section)
	if err := r.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class payload")
	}
	if actor.TenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing tenant")
	}

	start := req.StartTime.UTC().Truncate(time.Microsecond)
	duration := time.Duration(req.DurationHours * float64(time.Hour)).Round(time.Second)
	if duration <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "duration_hours is too small")
	}

	class := &models.ClassSession{
		ID:            uuid.NewString(),
		TenantID:      actor.TenantID,
		SubjectName:   req.SubjectName,
		ProgramName:   req.ProgramName,
		Department:    req.Department,
		Section:       req.Section,
		Semester:      req.Semester,
		StartTime:     start,
		EndTime:       start.Add(duration),
		DurationHours: duration.Hours(),
		TotalSeats:    req.TotalSeats,
		CreatedBy:     actor.UserID,
		CreatedAt:     r.clock.Now(actor.TenantID),
	}

	err := r.withRetry(ctx, opCreateClass, func() error {
		return r.store.CreateClass(ctx, class)
	})
	var conflict *repository.SlotConflictError
	if errors.As(err, &conflict) {
		r.metrics.RecordOutcome(opCreateClass, appErrors.ErrSlotConflict.Code)
		return nil, appErrors.Clone(appErrors.ErrSlotConflict, "time slot overlaps class "+conflict.ClassCode).WithDetails(map[string]interface{}{
			"conflict_class_id":   conflict.ClassID,
			"conflict_class_code": conflict.ClassCode,
		})
	}
	if err != nil {
		err = r.translate(ctx, opCreateClass, err)
		r.metrics.RecordOutcome(opCreateClass, outcome(err))
		return nil, err
	}

	r.metrics.RecordOutcome(opCreateClass, "created")
	r.logger.Info("class created",
		zap.String("tenant_id", class.TenantID),
		zap.String("class_id", class.ID),
		zap.String("class_code", class.ClassCode),
		zap.Int("total_seats", class.TotalSeats))
	r.committed(ctx, class.TenantID)

	return &dto.CreateClassResponse{
		ID:        class.ID,
		ClassCode: class.ClassCode,
		StartTime: class.StartTime,
		EndTime:   class.EndTime,
	}, nil
}

// GetClass returns one class with its seat summary.
func (r *ClassRegistry) GetClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error) {
	class, err := r.store.FindClass(ctx, tenantID, strings.TrimSpace(classID))
	if err != nil {
		return nil, r.translate(ctx, opGetClass, err)
	}
	return class, nil
}

// DeleteClass retires a class that holds no active bookings.
func (r *ClassRegistry) DeleteClass(ctx context.Context, actor models.Actor, classID string) error {
	classID = strings.TrimSpace(classID)
	err := r.atomically(ctx, opDeleteClass, r.store, actor.TenantID, classID, func(tx repository.ClassTx) error {
		active, err := tx.CountActive(ctx)
		if err != nil {
			return err
		}
		if active > 0 {
			return appErrors.Clone(appErrors.ErrClassHasBookings, "").WithDetails(map[string]interface{}{
				"active_bookings": active,
			})
		}
		return tx.DeleteClass(ctx)
	})
	if err != nil {
		err = r.translate(ctx, opDeleteClass, err)
		r.metrics.RecordOutcome(opDeleteClass, outcome(err))
		return err
	}

	r.metrics.RecordOutcome(opDeleteClass, "deleted")
	r.logger.Info("class deleted",
		zap.String("tenant_id", actor.TenantID),
		zap.String("class_id", classID),
		zap.String("deleted_by", actor.UserID))
	r.committed(ctx, actor.TenantID)
	return nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
