package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/harborpoint/advisory-backend/internal/pkg/apierr"
	"github.com/harborpoint/advisory-backend/internal/platform/logger"
	"github.com/harborpoint/advisory-backend/internal/services"
)

type DiagnosticHandler struct {
	log               *logger.Logger
	diagnosticService services.DiagnosticService
}

func NewDiagnosticHandler(log *logger.Logger, diagnosticService services.DiagnosticService) *DiagnosticHandler {
	return &DiagnosticHandler{
		log:               log.With("handler", "DiagnosticHandler"),
		diagnosticService: diagnosticService,
	}
}

// Submit flips the diagnostic to processing and schedules the background
// pipeline. The response returns immediately; progress is observed by polling.
func (dh *DiagnosticHandler) Submit(c *gin.Context) {
	id, ok := diagnosticID(c)
	if !ok {
		return
	}
	result, err := dh.diagnosticService.Submit(c.Request.Context(), id)
	if err != nil {
		dh.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, result)
}

func (dh *DiagnosticHandler) PollStatus(c *gin.Context) {
	id, ok := diagnosticID(c)
	if !ok {
		return
	}
	view, err := dh.diagnosticService.PollStatus(c.Request.Context(), id)
	if err != nil {
		dh.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (dh *DiagnosticHandler) GetDetail(c *gin.Context) {
	id, ok := diagnosticID(c)
	if !ok {
		return
	}
	diag, err := dh.diagnosticService.GetDetail(c.Request.Context(), id)
	if err != nil {
		dh.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, diag)
}

func (dh *DiagnosticHandler) renderError(c *gin.Context, err error) {
	status := apierr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		dh.log.Error("Diagnostic handler error", "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": apierr.CodeOf(err)})
}

func diagnosticID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil || id == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid diagnostic id"})
		return uuid.Nil, false
	}
	return id, true
}
