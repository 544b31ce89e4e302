package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/class-seat-booking/internal/dto"
	"github.com/noah-isme/class-seat-booking/internal/models"
	appErrors "github.com/noah-isme/class-seat-booking/pkg/errors"
	"github.com/noah-isme/class-seat-booking/pkg/export"
	"github.com/noah-isme/class-seat-booking/pkg/response"
)

type classRegistry interface {
	CreateClass(ctx context.Context, actor models.Actor, req dto.CreateClassRequest) (*dto.CreateClassResponse, error)
	GetClass(ctx context.Context, tenantID, classID string) (*models.ClassWithSeats, error)
	DeleteClass(ctx context.Context, actor models.Actor, classID string) error
}

type classQueries interface {
	ListAvailableClasses(ctx context.Context, tenantID string, query dto.CatalogQuery) ([]models.ClassWithSeats, error)
	ClassRoster(ctx context.Context, tenantID, classID string) (*dto.ClassRoster, error)
	ExportRoster(ctx context.Context, tenantID, classID, format string) (*export.Document, error)
}

// ClassHandler exposes the class catalog and faculty class management.
type ClassHandler struct {
	registry classRegistry
	queries  classQueries
}

// NewClassHandler constructs a class handler.
func NewClassHandler(registry classRegistry, queries classQueries) *ClassHandler {
	return &ClassHandler{registry: registry, queries: queries}
}

// List godoc
// @Summary List upcoming classes with seat availability
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param as_of query string false "RFC 3339 instant; classes starting earlier are excluded (default now)"
// @Param semester query int false "Filter by semester"
// @Param department query string false "Filter by department"
// @Param section query string false "Filter by section"
// @Param program query string false "Filter by program"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *ClassHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	query := dto.CatalogQuery{
		Department: c.Query("department"),
		Section:    c.Query("section"),
		Program:    c.Query("program"),
	}
	if query.AsOf, err = asOfQuery(c); err != nil {
		response.Error(c, err)
		return
	}
	if query.Semester, err = intQuery(c, "semester"); err != nil {
		response.Error(c, err)
		return
	}

	classes, err := h.queries.ListAvailableClasses(c.Request.Context(), actor.TenantID, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, classes, map[string]interface{}{"count": len(classes)})
}

// Get godoc
// @Summary Get class detail
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classes/{id} [get]
func (h *ClassHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	class, err := h.registry.GetClass(c.Request.Context(), actor.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, class)
}

// Create godoc
// @Summary Schedule a class
// @Tags Classes
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /classes [post]
func (h *ClassHandler) Create(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateClassRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	created, err := h.registry.CreateClass(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// Delete godoc
// @Summary Delete a class without active bookings
// @Tags Classes
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /classes/{id} [delete]
func (h *ClassHandler) Delete(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.registry.DeleteClass(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Bookings godoc
// @Summary List the active bookings of a class
// @Tags Classes
// @Produce json
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/bookings [get]
func (h *ClassHandler) Bookings(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	roster, err := h.queries.ClassRoster(c.Request.Context(), actor.TenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roster)
}

// Roster godoc
// @Summary Download the class roster
// @Tags Classes
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Class ID"
// @Param format query string false "csv or pdf" Enums(csv, pdf)
// @Success 200 {file} file
// @Router /classes/{id}/roster [get]
func (h *ClassHandler) Roster(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.queries.ExportRoster(c.Request.Context(), actor.TenantID, c.Param("id"), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, doc.Filename, doc.ContentType, doc.Body)
}
