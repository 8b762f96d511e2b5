package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moonrise-labs/gatherly/internal/events"
	"go.uber.org/zap"
)

type eventRequest struct {
	Title       string        `json:"title" binding:"required"`
	Description string        `json:"description"`
	Location    string        `json:"location"`
	CategoryID  string        `json:"categoryId"`
	StartsAt    time.Time     `json:"startsAt" binding:"required"`
	EndsAt      time.Time     `json:"endsAt"`
	Tiers       []tierRequest `json:"tiers"`
}

type tierRequest struct {
	Name       string `json:"name" binding:"required"`
	PriceCents int64  `json:"priceCents"`
	Capacity   int64  `json:"capacity" binding:"required"`
}

func (r eventRequest) toInput() events.EventInput {
	input := events.EventInput{
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		CategoryID:  r.CategoryID,
		StartsAt:    r.StartsAt,
		EndsAt:      r.EndsAt,
	}
	for _, tier := range r.Tiers {
		input.Tiers = append(input.Tiers, events.TierInput{
			Name:       tier.Name,
			PriceCents: tier.PriceCents,
			Capacity:   tier.Capacity,
		})
	}
	return input
}

func (h *httpHandler) handleCreateEvent(c *gin.Context) {
	var request eventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title, startsAt, and valid tiers are required"})
		return
	}
	event, err := h.events.CreateEvent(c.Request.Context(), c.GetString(userIDContextKey), request.toInput())
	if err != nil {
		h.logger.Error("event creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create event"})
		return
	}
	c.JSON(http.StatusCreated, event)
}

func (h *httpHandler) handleListEvents(c *gin.Context) {
	filter := events.ListFilter{
		CategoryID:   c.Query("category"),
		OrganizerID:  c.Query("organizer"),
		UpcomingOnly: c.Query("upcoming") == "true",
	}
	list, err := h.events.ListEvents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("event listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}

func (h *httpHandler) handleGetEvent(c *gin.Context) {
	event, err := h.events.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, events.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("event lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *httpHandler) handleUpdateEvent(c *gin.Context) {
	var request eventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and startsAt are required"})
		return
	}
	event, err := h.events.UpdateEvent(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.toInput())
	if err != nil {
		switch {
		case errors.Is(err, events.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		case errors.Is(err, events.ErrNotOrganizer):
			c.JSON(http.StatusForbidden, gin.H{"error": "only the organizer can edit this event"})
		default:
			h.logger.Error("event update failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update event"})
		}
		return
	}
	c.JSON(http.StatusOK, event)
}

func (h *httpHandler) handleDeleteEvent(c *gin.Context) {
	err := h.events.DeleteEvent(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, events.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		case errors.Is(err, events.ErrNotOrganizer):
			c.JSON(http.StatusForbidden, gin.H{"error": "only the organizer can delete this event"})
		default:
			h.logger.Error("event deletion failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete event"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type categoryRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *httpHandler) handleCreateCategory(c *gin.Context) {
	var request categoryRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	category, err := h.events.CreateCategory(c.Request.Context(), request.Name)
	if err != nil {
		h.logger.Error("category creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create category"})
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (h *httpHandler) handleListCategories(c *gin.Context) {
	categories, err := h.events.ListCategories(c.Request.Context())
	if err != nil {
		h.logger.Error("category listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list categories"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

type registerForEventRequest struct {
	TierID string `json:"tierId" binding:"required"`
}

func (h *httpHandler) handleRegisterForEvent(c *gin.Context) {
	var request registerForEventRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tierId is required"})
		return
	}
	registration, err := h.events.Register(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.TierID)
	if err != nil {
		switch {
		case errors.Is(err, events.ErrTierNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "ticket tier not found"})
		case errors.Is(err, events.ErrSoldOut):
			c.JSON(http.StatusConflict, gin.H{"error": "ticket tier sold out"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register"})
		}
		return
	}
	c.JSON(http.StatusCreated, registration)
}

func (h *httpHandler) handleListRegistrations(c *gin.Context) {
	list, err := h.events.ListRegistrations(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("registration listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list registrations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"registrations": list})
}

func (h *httpHandler) handleCancelRegistration(c *gin.Context) {
	registration, err := h.events.CancelRegistration(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, events.ErrRegistrationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "registration not found"})
		case errors.Is(err, events.ErrAlreadyCancelled):
			c.JSON(http.StatusConflict, gin.H{"error": "registration already cancelled"})
		default:
			h.logger.Error("cancellation failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel registration"})
		}
		return
	}
	c.JSON(http.StatusOK, registration)
}

type feedbackRequest struct {
	Rating  int    `json:"rating" binding:"required"`
	Comment string `json:"comment"`
}

func (h *httpHandler) handleAddFeedback(c *gin.Context) {
	var request feedbackRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating is required"})
		return
	}
	feedback, err := h.events.AddFeedback(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"), request.Rating, request.Comment)
	if err != nil {
		switch {
		case errors.Is(err, events.ErrInvalidRating):
			c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be between 1 and 5"})
		case errors.Is(err, events.ErrEventNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		default:
			h.logger.Error("feedback submission failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to submit feedback"})
		}
		return
	}
	c.JSON(http.StatusCreated, feedback)
}

func (h *httpHandler) handleListFeedback(c *gin.Context) {
	list, err := h.events.ListFeedback(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("feedback listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list feedback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": list})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	list, err := h.events.ListNotifications(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("notification listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *httpHandler) handleMarkNotificationRead(c *gin.Context) {
	err := h.events.MarkNotificationRead(c.Request.Context(), c.GetString(userIDContextKey), c.Param("id"))
	if err != nil {
		if errors.Is(err, events.ErrNotificationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
			return
		}
		h.logger.Error("marking notification failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update notification"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "read"})
}

// handleNotificationStream pushes the caller's notifications over SSE until
// the client disconnects.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, cancel := h.dispatcher.Subscribe(c.Request.Context(), userID)
	defer cancel()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		case notification, open := <-stream:
			if !open {
				return
			}
			c.SSEvent("notification", notification)
			flusher.Flush()
		}
	}
}

func (h *httpHandler) handleDashboard(c *gin.Context) {
	stats, err := h.events.Dashboard(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("dashboard aggregation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load dashboard"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
