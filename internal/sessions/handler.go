package sessions

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cvplus-backend/internal/shared/server/middleware"
	"cvplus-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the session service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches session routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/sessions", h.create)
	rg.GET("/sessions", h.resumable)
	rg.POST("/sessions/search", h.search)
	rg.POST("/sessions/quick", h.quickCreate)
	rg.POST("/sessions/cleanup", h.cleanup)
	rg.GET("/sessions/stats", h.metrics)
	rg.GET("/sessions/:sessionId", h.get)
	rg.PATCH("/sessions/:sessionId", h.update)
	rg.DELETE("/sessions/:sessionId", h.remove)
	rg.POST("/sessions/:sessionId/resume", h.resume)
	rg.POST("/sessions/:sessionId/link-job", h.linkJob)
	rg.POST("/sessions/:sessionId/migrate", h.migrate)
}

// remoteUserID returns the authenticated user scope for remote-store access.
// Guest identities stay local-only.
func remoteUserID(c *gin.Context) string {
	if isGuest, ok := c.Get("isGuest"); ok {
		if guest, ok2 := isGuest.(bool); ok2 && guest {
			return ""
		}
	}
	return middleware.UserIDFromContext(c)
}

type createSessionRequest struct {
	JobID    string         `json:"jobId"`
	FormData map[string]any `json:"formData"`
}

func (h *Handler) create(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	sess, err := h.Svc.manager.Create(c.Request.Context(), remoteUserID(c), Seed{
		JobID:    req.JobID,
		FormData: req.FormData,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create session", nil)
		return
	}
	respond.JSON(c, http.StatusCreated, toResponse(sess))
}

func (h *Handler) get(c *gin.Context) {
	sess, err := h.Svc.manager.Get(c.Request.Context(), remoteUserID(c), c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch session", nil)
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(sess))
}

type updateSessionRequest struct {
	JobID          *string        `json:"jobId"`
	Status         *Status        `json:"status"`
	CurrentStep    *Step          `json:"currentStep"`
	CompletedSteps []Step         `json:"completedSteps"`
	CanResume      *bool          `json:"canResume"`
	FormData       map[string]any `json:"formData"`
}

func (h *Handler) update(c *gin.Context) {
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	if req.Status != nil && !ValidStatus(*req.Status) {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unknown status", nil)
		return
	}

	sess, err := h.Svc.manager.Update(c.Request.Context(), c.Param("sessionId"), Patch{
		JobID:          req.JobID,
		Status:         req.Status,
		CurrentStep:    req.CurrentStep,
		CompletedSteps: req.CompletedSteps,
		CanResume:      req.CanResume,
		FormData:       req.FormData,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to update session", nil)
		return
	}
	respond.JSON(c, http.StatusOK, toResponse(sess))
}

func (h *Handler) remove(c *gin.Context) {
	found, err := h.Svc.manager.Delete(c.Request.Context(), remoteUserID(c), c.Param("sessionId"))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to delete session", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"deleted": found})
}

func (h *Handler) resumable(c *gin.Context) {
	list, err := h.Svc.FindResumable(c.Request.Context(), remoteUserID(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list sessions", nil)
		return
	}
	respond.JSON(c, http.StatusOK, toResponses(list))
}

type searchSessionsRequest struct {
	Statuses       []Status   `json:"statuses"`
	CanResume      *bool      `json:"canResume"`
	HasJobID       *bool      `json:"hasJobId"`
	CreatedFrom    *time.Time `json:"createdFrom"`
	CreatedTo      *time.Time `json:"createdTo"`
	Steps          []Step     `json:"steps"`
	OrderBy        OrderField `json:"orderBy"`
	OrderAscending bool       `json:"orderAscending"`
	Limit          int        `json:"limit"`
}

func (h *Handler) search(c *gin.Context) {
	var req searchSessionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	list, err := h.Svc.Search(c.Request.Context(), SearchCriteria{
		UserID:         remoteUserID(c),
		Statuses:       req.Statuses,
		CanResume:      req.CanResume,
		HasJobID:       req.HasJobID,
		CreatedFrom:    req.CreatedFrom,
		CreatedTo:      req.CreatedTo,
		Steps:          req.Steps,
		OrderBy:        req.OrderBy,
		OrderAscending: req.OrderAscending,
		Limit:          req.Limit,
	})
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to search sessions", nil)
		return
	}
	respond.JSON(c, http.StatusOK, toResponses(list))
}

func (h *Handler) resume(c *gin.Context) {
	opts := DefaultResumeOptions()
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	result, err := h.Svc.Resume(c.Request.Context(), remoteUserID(c), c.Param("sessionId"), opts)
	if err != nil {
		if errors.Is(err, ErrResumeFailed) {
			respond.Error(c, http.StatusNotFound, "resume_failed", "session cannot be resumed", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to resume session", nil)
		return
	}
	respond.JSON(c, http.StatusOK, ResumeResponse{
		Session:   toResponse(result.Session),
		ResumeURL: result.ResumeURL,
	})
}

type quickCreateRequest struct {
	JobID string `json:"jobId"`
}

func (h *Handler) quickCreate(c *gin.Context) {
	var req quickCreateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
			return
		}
	}

	sessionID, err := h.Svc.QuickCreate(c.Request.Context(), remoteUserID(c), req.JobID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to create session", nil)
		return
	}
	respond.JSON(c, http.StatusCreated, gin.H{"sessionId": sessionID})
}

type linkJobRequest struct {
	JobID string `json:"jobId"`
}

func (h *Handler) linkJob(c *gin.Context) {
	var req linkJobRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.JobID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "jobId is required", nil)
		return
	}

	err := h.Svc.LinkJob(c.Request.Context(), c.Param("sessionId"), req.JobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to link job", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"linked": true})
}

func (h *Handler) migrate(c *gin.Context) {
	userID := remoteUserID(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to migrate a session", nil)
		return
	}

	err := h.Svc.MigrateToUser(c.Request.Context(), c.Param("sessionId"), userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "session not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to migrate session", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"migrated": true})
}

func (h *Handler) cleanup(c *gin.Context) {
	deleted, err := h.Svc.CleanupExpired(c.Request.Context(), remoteUserID(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to clean up sessions", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) metrics(c *gin.Context) {
	m, err := h.Svc.ComputeMetrics(c.Request.Context(), remoteUserID(c))
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to compute metrics", nil)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"totalSessions":            m.TotalSessions,
		"completedSessions":        m.CompletedSessions,
		"resumedSessions":          m.ResumedSessions,
		"averageSessionDurationMs": float64(m.AverageSessionDuration.Microseconds()) / 1000.0,
		"averageStepsCompleted":    m.AverageStepsCompleted,
		"mostCommonExitStep":       m.MostCommonExitStep,
		"mostResumedStep":          m.MostResumedStep,
		"syncSuccessRate":          m.SyncSuccessRate,
		"errorRate":                m.ErrorRate,
	})
}
