package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/middleware"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
)

type bookingServiceMock struct {
	bookResp   *dto.BookingResult
	bookErr    error
	cancelResp *dto.CancelResult
	cancelErr  error
	listResp   []models.BookingWithClass
	listErr    error

	lastActor     models.Actor
	lastRequest   dto.CreateBookingRequest
	lastBookingID string
	lastAsOf      time.Time
	bookCalled    bool
}

func (m *bookingServiceMock) RequestBooking(ctx context.Context, actor models.Actor, req dto.CreateBookingRequest) (*dto.BookingResult, error) {
	m.bookCalled = true
	m.lastActor = actor
	m.lastRequest = req
	return m.bookResp, m.bookErr
}

func (m *bookingServiceMock) CancelBooking(ctx context.Context, actor models.Actor, bookingID string) (*dto.CancelResult, error) {
	m.lastActor = actor
	m.lastBookingID = bookingID
	return m.cancelResp, m.cancelErr
}

func (m *bookingServiceMock) ListActiveBookings(ctx context.Context, tenantID, studentID string, asOf time.Time) ([]models.BookingWithClass, error) {
	m.lastActor = models.Actor{TenantID: tenantID, UserID: studentID}
	m.lastAsOf = asOf
	return m.listResp, m.listErr
}

var studentClaims = &models.JWTClaims{UserID: "stu-1", TenantID: "colid-1", Role: models.RoleStudent, FullName: "Ayu"}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestBookingHandlerCreate(t *testing.T) {
	rank := 3
	mockSvc := &bookingServiceMock{bookResp: &dto.BookingResult{ID: "b-1", ClassID: "class-1", Status: models.BookingStatusWaiting, WaitingRank: &rank, Label: "WL-3",
		Seats: models.NewSeatSummary(2, 2, 3)}}
	handler := NewBookingHandler(mockSvc, mockSvc, mockSvc)

	c, w := newTestContext(http.MethodPost, "/bookings", `{"class_id":"class-1","student_id":"spoofed","tenant_id":"colid-9"}`, studentClaims)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.Actor{TenantID: "colid-1", UserID: "stu-1", Name: "Ayu", Role: models.RoleStudent}, mockSvc.lastActor)
	assert.Equal(t, "class-1", mockSvc.lastRequest.ClassID)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "waiting", data["status"])
	assert.Equal(t, 3.0, data["waiting_rank"])
	assert.Equal(t, "WL-3", data["waitlist_label"])
	seats := data["seats"].(map[string]interface{})
	assert.Equal(t, 0.0, seats["available"])
	assert.Equal(t, 3.0, seats["waiting_count"])
}

func TestBookingHandlerCreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		claims     *models.JWTClaims
		err        error
		wantStatus int
		wantCode   string
	}{
		{name: "no claims", body: `{"class_id":"c"}`, wantStatus: http.StatusUnauthorized, wantCode: "UNAUTHORIZED"},
		{name: "malformed body", body: `{"class_id":`, claims: studentClaims, wantStatus: http.StatusBadRequest, wantCode: "VALIDATION_ERROR"},
		{name: "already booked", body: `{"class_id":"c"}`, claims: studentClaims, err: appErrors.ErrAlreadyBooked, wantStatus: http.StatusConflict, wantCode: "ALREADY_BOOKED"},
		{name: "expired", body: `{"class_id":"c"}`, claims: studentClaims, err: appErrors.ErrClassExpired, wantStatus: http.StatusGone, wantCode: "CLASS_EXPIRED"},
		{name: "transient", body: `{"class_id":"c"}`, claims: studentClaims, err: appErrors.ErrTransientStore, wantStatus: http.StatusServiceUnavailable, wantCode: "TRANSIENT_STORE_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mockSvc := &bookingServiceMock{bookErr: tc.err}
			handler := NewBookingHandler(mockSvc, mockSvc, mockSvc)
			c, w := newTestContext(http.MethodPost, "/bookings", tc.body, tc.claims)
			handler.Create(c)

			require.Equal(t, tc.wantStatus, w.Code)
			errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
			assert.Equal(t, tc.wantCode, errBody["code"])
			if tc.wantStatus == http.StatusServiceUnavailable {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestBookingHandlerList(t *testing.T) {
	mockSvc := &bookingServiceMock{listResp: []models.BookingWithClass{{Booking: models.Booking{ID: "b-1"}}}}
	handler := NewBookingHandler(mockSvc, mockSvc, mockSvc)

	c, w := newTestContext(http.MethodGet, "/bookings?as_of=2030-01-02T03:04:05Z", "", studentClaims)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", mockSvc.lastActor.UserID)
	assert.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), mockSvc.lastAsOf)
	assert.Equal(t, 1.0, decodeEnvelope(t, w)["meta"].(map[string]interface{})["count"])

	c, w = newTestContext(http.MethodGet, "/bookings?as_of=yesterday", "", studentClaims)
	handler.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandlerCancel(t *testing.T) {
	mockSvc := &bookingServiceMock{cancelResp: &dto.CancelResult{Cancelled: true, Promoted: true, PromotedBooking: &models.Booking{ID: "b-2"}}}
	handler := NewBookingHandler(mockSvc, mockSvc, mockSvc)

	c, w := newTestContext(http.MethodDelete, "/bookings/b-1", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}
	handler.Cancel(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "b-1", mockSvc.lastBookingID)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, true, data["cancelled"])
	assert.Equal(t, true, data["promoted"])

	mockSvc.cancelErr = appErrors.ErrBookingNotFound
	c, w = newTestContext(http.MethodDelete, "/bookings/b-1", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "b-1"}}
	handler.Cancel(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
