package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilmhub/tcm-api/internal/models"
	"github.com/ilmhub/tcm-api/internal/service"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
	"github.com/ilmhub/tcm-api/pkg/response"
)

// StudentHandler exposes student endpoints, including lifecycle status changes
// and per-subject activation.
type StudentHandler struct {
	students *service.StudentService
	subjects *service.SubjectActivationService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students *service.StudentService, subjects *service.SubjectActivationService) *StudentHandler {
	return &StudentHandler{students: students, subjects: subjects}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name"
// @Param clientId query string false "Filter by client"
// @Param status query string false "Filter by lifecycle status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	var filter models.StudentFilter
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.ClientID = c.Query("clientId")
	filter.Status = models.LifecycleStatus(c.Query("status"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req service.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Create(c.Request.Context(), req, actorID(c), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	var req service.UpdateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// UpdateStatus godoc
// @Summary Change student lifecycle status
// @Description Persists the status change, then cascades over the student's recurring schedules. A cascade failure is reported in the payload without reverting the status.
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/status [patch]
func (h *StudentHandler) UpdateStatus(c *gin.Context) {
	var req service.UpdateStudentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.students.UpdateStatus(c.Request.Context(), c.Param("id"), req, actorID(c), time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// StatusHistory godoc
// @Summary List student status history
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/status-history [get]
func (h *StudentHandler) StatusHistory(c *gin.Context) {
	history, err := h.students.StatusHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// EnrollSubject godoc
// @Summary Enroll student in a subject
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param subjectId path string true "Subject ID"
// @Success 204
// @Router /students/{id}/subjects/{subjectId} [post]
func (h *StudentHandler) EnrollSubject(c *gin.Context) {
	if err := h.students.EnrollSubject(c.Request.Context(), c.Param("id"), c.Param("subjectId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ActiveSubjects godoc
// @Summary List the student's currently active subjects
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/subjects/active [get]
func (h *StudentHandler) ActiveSubjects(c *gin.Context) {
	subjects, err := h.subjects.ActiveSubjects(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, subjects, nil)
}

// DeactivateSubject godoc
// @Summary Deactivate one subject for a student
// @Description Stops the recurring schedule for this subject and deletes the nearest not-yet-started class.
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param subjectId path string true "Subject ID"
// @Param payload body dto.SubjectToggleRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/subjects/{subjectId}/deactivate [post]
func (h *StudentHandler) DeactivateSubject(c *gin.Context) {
	reason := bindToggleReason(c)
	result, err := h.subjects.DeactivateSubject(c.Request.Context(),
		c.Param("id"), c.Param("subjectId"), actorID(c), actorName(c), reason, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ReactivateSubject godoc
// @Summary Reactivate one subject for a student
// @Description Resumes the stopped recurring schedule, or clones a fresh occurrence from the latest template.
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param subjectId path string true "Subject ID"
// @Param payload body dto.SubjectToggleRequest false "Optional reason"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/subjects/{subjectId}/reactivate [post]
func (h *StudentHandler) ReactivateSubject(c *gin.Context) {
	reason := bindToggleReason(c)
	result, err := h.subjects.ReactivateSubject(c.Request.Context(),
		c.Param("id"), c.Param("subjectId"), actorID(c), actorName(c), reason, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// SubjectHistory godoc
// @Summary List activation history for one subject of a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param subjectId path string true "Subject ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/subjects/{subjectId}/history [get]
func (h *StudentHandler) SubjectHistory(c *gin.Context) {
	history, err := h.subjects.SubjectHistory(c.Request.Context(), c.Param("id"), c.Param("subjectId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}
