package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
	"github.com/noah-isme/class-seat-booking/pkg/response"
)

type seatAllocator interface {
	RequestBooking(ctx context.Context, actor models.Actor, req dto.CreateBookingRequest) (*dto.BookingResult, error)
}

type bookingCanceller interface {
	CancelBooking(ctx context.Context, actor models.Actor, bookingID string) (*dto.CancelResult, error)
}

type bookingQueries interface {
	ListActiveBookings(ctx context.Context, tenantID, studentID string, asOf time.Time) ([]models.BookingWithClass, error)
}

// BookingHandler exposes the student booking endpoints.
type BookingHandler struct {
	allocator seatAllocator
	canceller bookingCanceller
	queries   bookingQueries
}

// NewBookingHandler constructs a booking handler.
func NewBookingHandler(allocator seatAllocator, canceller bookingCanceller, queries bookingQueries) *BookingHandler {
	return &BookingHandler{allocator: allocator, canceller: canceller, queries: queries}
}

// Create godoc
// @Summary Book a seat or join the waiting list
// @Tags Bookings
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "ALREADY_BOOKED"
// @Failure 410 {object} response.Envelope "CLASS_EXPIRED"
// @Failure 503 {object} response.Envelope "TRANSIENT_STORE_ERROR"
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.allocator.RequestBooking(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// List godoc
// @Summary List the caller's active bookings
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param as_of query string false "RFC 3339 instant; bookings for classes starting earlier are excluded (default now)"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	asOf, err := asOfQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	bookings, err := h.queries.ListActiveBookings(c.Request.Context(), actor.TenantID, actor.UserID, asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, map[string]interface{}{"count": len(bookings)})
}

// Cancel godoc
// @Summary Cancel a booking
// @Description Cancelling a confirmed booking promotes the earliest waiting booking of the class.
// @Tags Bookings
// @Produce json
// @Security BearerAuth
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /bookings/{id} [delete]
func (h *BookingHandler) Cancel(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.canceller.CancelBooking(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}
