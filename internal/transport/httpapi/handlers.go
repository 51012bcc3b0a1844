package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"remindd/internal/reminder"
	logx "remindd/pkg/logx"
)

type handlers struct {
	reminders Reminders
	log       logx.Logger
}

type createReminderRequest struct {
	OwnerID          string   `json:"owner_id"`
	ContextID        string   `json:"context_id"`
	RecipientName    string   `json:"recipient_name"`
	RecipientContact string   `json:"recipient_contact"`
	TaskLabel        string   `json:"task_label"`
	TaskDescription  string   `json:"task_description"`
	TargetAt         string   `json:"target_at"`
	Offsets          []string `json:"offsets"`
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type cancelResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type listResponse struct {
	Items []*reminder.ScheduledTask `json:"items"`
	Count int                       `json:"count"`
}

func (h *handlers) createReminder(c *gin.Context) {
	var body createReminderRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return
	}
	req, err := body.toCreateRequest()
	if err != nil {
		h.writeError(c, err)
		return
	}
	res, err := h.reminders.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (b createReminderRequest) toCreateRequest() (reminder.CreateRequest, error) {
	raw := strings.TrimSpace(b.TargetAt)
	if raw == "" {
		return reminder.CreateRequest{}, &reminder.ValidationError{Field: "target_at", Reason: "required"}
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return reminder.CreateRequest{}, &reminder.ValidationError{Field: "target_at", Reason: "must be RFC3339"}
	}
	offsets, err := reminder.ParseOffsets(b.Offsets)
	if err != nil {
		return reminder.CreateRequest{}, &reminder.ValidationError{Field: "offsets", Reason: err.Error()}
	}
	return reminder.CreateRequest{
		OwnerID:          b.OwnerID,
		ContextID:        b.ContextID,
		RecipientName:    b.RecipientName,
		RecipientContact: b.RecipientContact,
		TaskLabel:        b.TaskLabel,
		TaskDescription:  b.TaskDescription,
		TargetAt:         at,
		Offsets:          offsets,
	}, nil
}

func (h *handlers) listReminders(c *gin.Context) {
	f := reminder.Filter{
		OwnerID:   c.Query("owner_id"),
		ContextID: c.Query("context_id"),
		Status:    reminder.Status(c.Query("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		c.JSON(http.StatusBadRequest, errorBody{Error: "unknown status", Field: "status"})
		return
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer", Field: "limit"})
			return
		}
		f.Limit = n
	}
	items, err := h.reminders.List(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if items == nil {
		items = []*reminder.ScheduledTask{}
	}
	c.JSON(http.StatusOK, listResponse{Items: items, Count: len(items)})
}

func (h *handlers) getReminder(c *gin.Context) {
	t, err := h.reminders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) cancelReminder(c *gin.Context) {
	id := c.Param("id")
	if err := h.reminders.Cancel(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelResponse{TaskID: id, Status: string(reminder.StatusCancelled)})
}

func (h *handlers) writeError(c *gin.Context, err error) {
	var ve *reminder.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, errorBody{Error: ve.Reason, Field: ve.Field})
	case errors.Is(err, reminder.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "reminder not found"})
	default:
		h.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
