package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"medsage/internal/app"
	"medsage/internal/model"
	"medsage/internal/transport/http/response"
)

type TimelineHandler struct {
	timelineService *app.TimelineService
}

type TimelineEventRequest struct {
	Category    string    `json:"category"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurred_at"`
	Severity    string    `json:"severity"`
	BodyRegions []string  `json:"body_regions"`
}

func NewTimelineHandler(timelineService *app.TimelineService) *TimelineHandler {
	return &TimelineHandler{timelineService: timelineService}
}

func (h *TimelineHandler) Create(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req TimelineEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	event, err := h.timelineService.CreateEvent(userID, app.TimelineEventInput{
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		OccurredAt:  req.OccurredAt,
		Severity:    req.Severity,
		BodyRegions: req.BodyRegions,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "create event failed")
		}
		return
	}
	response.OK(c, eventView(event))
}

func (h *TimelineHandler) Get(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	eventID, ok := parseIDParam(c)
	if !ok {
		return
	}

	event, err := h.timelineService.GetEvent(userID, eventID)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrEventNotFound):
			response.Error(c, http.StatusNotFound, response.CodeEventNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "get event failed")
		}
		return
	}
	response.OK(c, eventView(event))
}

func (h *TimelineHandler) List(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	query := app.TimelineQuery{Category: c.Query("category")}
	if raw := c.Query("from"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			query.From = parsed
		}
	}
	if raw := c.Query("to"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			query.To = parsed
		}
	}
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			query.Limit = parsed
		}
	}

	events, err := h.timelineService.ListEvents(userID, query)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list events failed")
		return
	}

	views := make([]gin.H, 0, len(events))
	for i := range events {
		views = append(views, eventView(&events[i]))
	}
	response.OK(c, views)
}

func (h *TimelineHandler) Update(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	eventID, ok := parseIDParam(c)
	if !ok {
		return
	}

	var req TimelineEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	event, err := h.timelineService.UpdateEvent(userID, eventID, app.TimelineEventInput{
		Category:    req.Category,
		Title:       req.Title,
		Description: req.Description,
		OccurredAt:  req.OccurredAt,
		Severity:    req.Severity,
		BodyRegions: req.BodyRegions,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrEventNotFound):
			response.Error(c, http.StatusNotFound, response.CodeEventNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "update event failed")
		}
		return
	}
	response.OK(c, eventView(event))
}

func (h *TimelineHandler) Delete(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	eventID, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.timelineService.DeleteEvent(userID, eventID); err != nil {
		switch {
		case errors.Is(err, app.ErrEventNotFound):
			response.Error(c, http.StatusNotFound, response.CodeEventNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete event failed")
		}
		return
	}
	response.OK(c, gin.H{"deleted_event_id": eventID})
}

func parseIDParam(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id64 == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid event id")
		return 0, false
	}
	return uint(id64), true
}

func eventView(event *model.TimelineEvent) gin.H {
	return gin.H{
		"id":           event.ID,
		"category":     event.Category,
		"title":        event.Title,
		"description":  event.Description,
		"occurred_at":  event.OccurredAt,
		"severity":     event.Severity,
		"body_regions": event.BodyRegionTags(),
		"provenance":   event.Provenance,
		"created_at":   event.CreatedAt,
	}
}
