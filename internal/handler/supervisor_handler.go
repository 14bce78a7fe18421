package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ilmhub/tcm-api/internal/dto"
	"github.com/ilmhub/tcm-api/internal/service"
	appErrors "github.com/ilmhub/tcm-api/pkg/errors"
	"github.com/ilmhub/tcm-api/pkg/response"
)

// SupervisorHandler exposes supervisor account toggles.
type SupervisorHandler struct {
	activity *service.ActivityService
}

// NewSupervisorHandler constructs SupervisorHandler.
func NewSupervisorHandler(activity *service.ActivityService) *SupervisorHandler {
	return &SupervisorHandler{activity: activity}
}

// Toggle godoc
// @Summary Activate or deactivate a supervisor
// @Description Deactivation detaches supervised teachers, keeping the supervisor's marked name for reference. Reactivation does not restore the links; it reports how many teachers need a new manager.
// @Tags Supervisors
// @Accept json
// @Produce json
// @Param id path string true "Supervisor user ID"
// @Param payload body dto.ActivityToggleRequest true "Toggle payload"
// @Success 200 {object} response.Envelope
// @Router /supervisors/{id}/toggle [post]
func (h *SupervisorHandler) Toggle(c *gin.Context) {
	var req dto.ActivityToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.activity.ToggleSupervisor(c.Request.Context(), c.Param("id"), req.IsActive, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
