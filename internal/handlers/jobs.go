package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/padhaihub/padhai-backend/internal/repos"
	"github.com/padhaihub/padhai-backend/internal/services"
)

type JobsHandler struct {
	admin *services.JobAdminService
}

func NewJobsHandler(admin *services.JobAdminService) *JobsHandler {
	return &JobsHandler{admin: admin}
}

// GET /api/admin/jobs
func (h *JobsHandler) List(c *gin.Context) {
	filter := repos.JobFilter{
		Status:  c.Query("status"),
		JobType: c.Query("job_type"),
	}
	if v := c.Query("subject_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
			return
		}
		filter.SubjectID = &id
	}
	if v := c.Query("root_job_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_root_job_id", err)
			return
		}
		filter.RootJobID = &id
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	jobs, err := h.admin.List(c.Request.Context(), filter)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "job_list_failed", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GET /api/admin/jobs/:id
func (h *JobsHandler) Get(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.admin.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "job_get_failed", err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/admin/jobs/:id/retry
func (h *JobsHandler) Retry(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.admin.Retry(c.Request.Context(), id, actor(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			RespondError(c, http.StatusNotFound, "job_not_found", err)
		case errors.Is(err, services.ErrJobNotRetryable):
			RespondError(c, http.StatusConflict, "job_not_retryable", err)
		default:
			RespondError(c, http.StatusInternalServerError, "job_retry_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"job": job})
}

// POST /api/admin/jobs/:id/cancel
func (h *JobsHandler) Cancel(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}
	job, err := h.admin.Cancel(c.Request.Context(), id, actor(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrJobNotFound):
			RespondError(c, http.StatusNotFound, "job_not_found", err)
		case errors.Is(err, services.ErrJobNotCancelable):
			RespondError(c, http.StatusConflict, "job_not_cancelable", err)
		default:
			RespondError(c, http.StatusInternalServerError, "job_cancel_failed", err)
		}
		return
	}
	RespondOK(c, gin.H{"job": job})
}

func (h *JobsHandler) jobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return uuid.Nil, false
	}
	return id, true
}
