package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
	"github.com/noah-isme/class-seat-booking/pkg/export"
)

type classServiceMock struct {
	createResp *dto.CreateClassResponse
	createErr  error
	getResp    *models.ClassWithSeats
	getErr     error
	deleteErr  error
	listResp   []models.ClassWithSeats
	listErr    error
	rosterResp *dto.ClassRoster
	exportResp *export.Document
	exportErr  error

	lastActor   models.Actor
	lastTenant  string
	lastClassID string
	lastQuery   dto.CatalogQuery
	lastCreate  dto.CreateClassRequest
	lastFormat  string
	listCalled  bool
}

func (m *classServiceMock) CreateClass(ctx context.Context, actor models.Actor, req dto.CreateClassRequest) (*dto.CreateClassResponse, error) {
	m.lastActor = actor
	m.lastCreate = req
	return m.createResp, m.createErr
}

func (m *classServiceMock) GetClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error) {
	m.lastTenant, m.lastClassID = tenantID, classID
	return m.getResp, m.getErr
}

func (m *classServiceMock) DeleteClass(ctx context.Context, actor models.Actor, classID string) error {
	m.lastActor, m.lastClassID = actor, classID
	return m.deleteErr
}

func (m *classServiceMock) ListAvailableClasses(ctx context.Context, tenantID string, query dto.CatalogQuery) ([]models.ClassWithSeats, error) {
	m.listCalled = true
	m.lastTenant = tenantID
	m.lastQuery = query
	return m.listResp, m.listErr
}

func (m *classServiceMock) ClassRoster(ctx context.Context, tenantID, classID string) (*dto.ClassRoster, error) {
	m.lastTenant, m.lastClassID = tenantID, classID
	return m.rosterResp, nil
}

func (m *classServiceMock) ExportRoster(ctx context.Context, tenantID, classID, format string) (*export.Document, error) {
	m.lastTenant, m.lastClassID, m.lastFormat = tenantID, classID, format
	return m.exportResp, m.exportErr
}

var facultyClaims = &models.JWTClaims{UserID: "fac-1", TenantID: "colid-1", Role: models.RoleFaculty}

func TestClassHandlerCreate(t *testing.T) {
	mockSvc := &classServiceMock{createResp: &dto.CreateClassResponse{ID: "class-1", ClassCode: "CLS0001"}}
	handler := NewClassHandler(mockSvc, mockSvc)

	body := `{"subject_name":"OS","program_name":"btech","department":"cse","section":"a","semester":5,
		"start_time":"2030-01-02T09:00:00Z","duration_hours":1.5,"total_seats":40}`
	c, w := newTestContext(http.MethodPost, "/classes", body, facultyClaims)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "colid-1", mockSvc.lastActor.TenantID)
	assert.Equal(t, 40, mockSvc.lastCreate.TotalSeats)
	assert.Equal(t, time.Date(2030, 1, 2, 9, 0, 0, 0, time.UTC), mockSvc.lastCreate.StartTime.UTC())
	assert.Equal(t, "CLS0001", decodeEnvelope(t, w)["data"].(map[string]interface{})["class_code"])
}

func TestClassHandlerCreateSlotConflict(t *testing.T) {
	mockSvc := &classServiceMock{createErr: appErrors.Clone(appErrors.ErrSlotConflict, "").WithDetails(map[string]interface{}{"conflict_class_code": "CLS0004"})}
	handler := NewClassHandler(mockSvc, mockSvc)

	c, w := newTestContext(http.MethodPost, "/classes", `{"subject_name":"OS"}`, facultyClaims)
	handler.Create(c)

	require.Equal(t, http.StatusConflict, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "SLOT_CONFLICT", errBody["code"])
	assert.Equal(t, "CLS0004", errBody["details"].(map[string]interface{})["conflict_class_code"])
}

func TestClassHandlerList(t *testing.T) {
	mockSvc := &classServiceMock{listResp: []models.ClassWithSeats{{ClassSession: models.ClassSession{ID: "class-1"}}}}
	handler := NewClassHandler(mockSvc, mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes?semester=5&department=cse&as_of=2030-01-01T00:00:00%2B07:00", "", studentClaims)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "colid-1", mockSvc.lastTenant)
	assert.Equal(t, 5, mockSvc.lastQuery.Semester)
	assert.Equal(t, "cse", mockSvc.lastQuery.Department)
	assert.Equal(t, time.Date(2029, 12, 31, 17, 0, 0, 0, time.UTC), mockSvc.lastQuery.AsOf)

	for _, target := range []string{"/classes?semester=five", "/classes?semester=-1", "/classes?as_of=tomorrow"} {
		mockSvc.listCalled = false
		c, w = newTestContext(http.MethodGet, target, "", studentClaims)
		handler.List(c)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.False(t, mockSvc.listCalled, target)
	}
}

func TestClassHandlerGetAndDelete(t *testing.T) {
	mockSvc := &classServiceMock{getErr: appErrors.ErrClassNotFound, deleteErr: appErrors.ErrClassHasBookings}
	handler := NewClassHandler(mockSvc, mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes/class-9", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "class-9"}}
	handler.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "class-9", mockSvc.lastClassID)

	c, w = newTestContext(http.MethodDelete, "/classes/class-9", "", facultyClaims)
	c.Params = gin.Params{{Key: "id", Value: "class-9"}}
	handler.Delete(c)
	assert.Equal(t, http.StatusConflict, w.Code)

	mockSvc.deleteErr = nil
	c, w = newTestContext(http.MethodDelete, "/classes/class-9", "", facultyClaims)
	c.Params = gin.Params{{Key: "id", Value: "class-9"}}
	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestClassHandlerRosterDownload(t *testing.T) {
	mockSvc := &classServiceMock{exportResp: &export.Document{Filename: "roster-CLS0001.csv", ContentType: "text/csv; charset=utf-8", Body: []byte("No\n")}}
	handler := NewClassHandler(mockSvc, mockSvc)

	c, w := newTestContext(http.MethodGet, "/classes/class-1/roster?format=csv", "", facultyClaims)
	c.Params = gin.Params{{Key: "id", Value: "class-1"}}
	handler.Roster(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", mockSvc.lastFormat)
	assert.Equal(t, `attachment; filename="roster-CLS0001.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "No\n", w.Body.String())
}
