package notification

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rwandacancerrelief/notify-api/internal/model"
	"github.com/rwandacancerrelief/notify-api/internal/repository"
	notificationService "github.com/rwandacancerrelief/notify-api/internal/service/notification"
	"github.com/rwandacancerrelief/notify-api/internal/service/reminder"
	apperrors "github.com/rwandacancerrelief/notify-api/pkg/errors"
	"github.com/rwandacancerrelief/notify-api/pkg/httputil"
)

// DispatchFunc runs one dispatch cycle over due notifications. Satisfied
// by the dispatch runner's DispatchDue; the handler keeps a function type
// so tests can fake it.
type DispatchFunc func(ctx context.Context) (*model.DispatchResult, error)

type Handler struct {
	enqueueSvc  notificationService.Service
	reminderSvc reminder.Service
	dispatch    DispatchFunc
	repo        repository.NotificationRepository
}

func NewHandler(
	enqueueSvc notificationService.Service,
	reminderSvc reminder.Service,
	dispatch DispatchFunc,
	repo repository.NotificationRepository,
) *Handler {
	return &Handler{
		enqueueSvc:  enqueueSvc,
		reminderSvc: reminderSvc,
		dispatch:    dispatch,
		repo:        repo,
	}
}

// IngestMessageEvent accepts a message-sent event and fans out pending
// notifications to every chat participant except the sender.
func (h *Handler) IngestMessageEvent(c *gin.Context) {
	var req model.MessageEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageId is required."})
		return
	}

	if _, err := h.enqueueSvc.EnqueueMessageNotifications(c.Request.Context(), req.MessageID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// IngestPatientAssignmentEvent notifies both sides of a new assignment.
func (h *Handler) IngestPatientAssignmentEvent(c *gin.Context) {
	var req model.PatientAssignmentEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "patientId and counselorId are required."})
		return
	}

	if _, err := h.enqueueSvc.EnqueuePatientAssignmentNotifications(c.Request.Context(), req.PatientID, req.CounselorID, req.AssignedBy); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// IngestSessionEvent seeds the reminder for one session. Idempotent:
// repeat calls for the same session are no-ops.
func (h *Handler) IngestSessionEvent(c *gin.Context) {
	var req model.SessionEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required."})
		return
	}

	if err := h.reminderSvc.EnsureSessionReminder(c.Request.Context(), req.SessionID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RunDispatch seeds upcoming session reminders, then delivers everything
// due. Triggered by the external scheduler.
func (h *Handler) RunDispatch(c *gin.Context) {
	if _, err := h.reminderSvc.SeedUpcomingSessionReminders(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.dispatch(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"dispatched": result.Dispatched,
		"timestamp":  result.Timestamp.Format(time.RFC3339),
	})
}

// ListNotifications serves the dashboard's notification feed.
func (h *Handler) ListNotifications(c *gin.Context) {
	filters := &model.NotificationFilters{Limit: 50}

	if id := c.Query("recipient_id"); id != "" {
		recipientID, err := uuid.Parse(id)
		if err != nil {
			httputil.RespondWithError(c, apperrors.Validation("invalid recipient ID"))
			return
		}
		filters.RecipientID = recipientID
	}
	if status := c.Query("status"); status != "" {
		filters.Status = model.NotificationStatus(status)
	}
	if kind := c.Query("kind"); kind != "" {
		filters.Kind = model.NotificationKind(kind)
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 200 {
			httputil.RespondWithError(c, apperrors.Validation("invalid limit"))
			return
		}
		filters.Limit = n
	}

	notifications, err := h.repo.List(c.Request.Context(), filters)
	if err != nil {
		httputil.RespondWithError(c, apperrors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, notifications)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case apperrors.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("/dispatch", h.RunDispatch)
		notifications.POST("/events/message", h.IngestMessageEvent)
		notifications.POST("/events/patient-assignment", h.IngestPatientAssignmentEvent)
		notifications.POST("/events/session", h.IngestSessionEvent)
		notifications.GET("", h.ListNotifications)
	}
}
