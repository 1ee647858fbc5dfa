package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/padhaihub/padhai-backend/internal/services"
)

// HydrationHandler exposes the enqueue surface. Idempotency outcomes come
// back as 200 with created=false and a reason rather than error statuses, so
// retried admin clicks are harmless.
type HydrationHandler struct {
	hydration *services.HydrationService
	admin     *services.JobAdminService
}

func NewHydrationHandler(hydration *services.HydrationService, admin *services.JobAdminService) *HydrationHandler {
	return &HydrationHandler{hydration: hydration, admin: admin}
}

type enqueueSubjectRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	Language  string `json:"language"`
}

type enqueueTopicRequest struct {
	TopicID    string `json:"topic_id" binding:"required"`
	Language   string `json:"language"`
	Difficulty string `json:"difficulty"`
}

type hydrateAllRequest struct {
	Language string `json:"language"`
}

type pauseRequest struct {
	Paused *bool `json:"paused" binding:"required"`
}

// POST /api/admin/hydration/syllabus
func (h *HydrationHandler) EnqueueSyllabus(c *gin.Context) {
	var req enqueueSubjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
		return
	}
	res, err := h.hydration.EnqueueSyllabus(c.Request.Context(), subjectID, req.Language)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondOK(c, res)
}

// POST /api/admin/hydration/notes
func (h *HydrationHandler) EnqueueNotes(c *gin.Context) {
	topicID, req, ok := h.bindTopic(c)
	if !ok {
		return
	}
	res, err := h.hydration.EnqueueNotes(c.Request.Context(), topicID, req.Language, nil)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondOK(c, res)
}

// POST /api/admin/hydration/questions
func (h *HydrationHandler) EnqueueQuestions(c *gin.Context) {
	topicID, req, ok := h.bindTopic(c)
	if !ok {
		return
	}
	res, err := h.hydration.EnqueueQuestions(c.Request.Context(), topicID, req.Language, req.Difficulty, nil)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondOK(c, res)
}

// POST /api/admin/hydration/tests
func (h *HydrationHandler) EnqueueTests(c *gin.Context) {
	topicID, req, ok := h.bindTopic(c)
	if !ok {
		return
	}
	res, err := h.hydration.EnqueueTests(c.Request.Context(), topicID, req.Language, req.Difficulty, nil)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}
	RespondOK(c, res)
}

// POST /api/admin/hydration/hydrate-all
func (h *HydrationHandler) HydrateAll(c *gin.Context) {
	var req hydrateAllRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res, err := h.admin.HydrateAll(c.Request.Context(), req.Language, actor(c))
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "hydrate_all_failed", err)
		return
	}
	RespondOK(c, res)
}

// GET /api/admin/hydration/pause
func (h *HydrationHandler) GetPause(c *gin.Context) {
	paused, err := h.admin.Paused(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "pause_read_failed", err)
		return
	}
	RespondOK(c, gin.H{"paused": paused})
}

// PUT /api/admin/hydration/pause
func (h *HydrationHandler) SetPause(c *gin.Context) {
	var req pauseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if err := h.admin.SetPaused(c.Request.Context(), *req.Paused, actor(c)); err != nil {
		RespondError(c, http.StatusInternalServerError, "pause_write_failed", err)
		return
	}
	RespondOK(c, gin.H{"paused": *req.Paused})
}

func (h *HydrationHandler) bindTopic(c *gin.Context) (uuid.UUID, enqueueTopicRequest, bool) {
	var req enqueueTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return uuid.Nil, req, false
	}
	topicID, err := uuid.Parse(req.TopicID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_topic_id", err)
		return uuid.Nil, req, false
	}
	return topicID, req, true
}

func actor(c *gin.Context) string {
	if v := c.GetHeader("X-Admin-Actor"); v != "" {
		return v
	}
	return "admin"
}
