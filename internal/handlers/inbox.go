package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/dispatch"
	"github.com/leadwire/leadwire/internal/inbox"
)

type InboxHandler struct {
	inbox      *inbox.Service
	dispatcher *dispatch.Dispatcher
	validate   *validator.Validate
}

func NewInboxHandler(box *inbox.Service, dispatcher *dispatch.Dispatcher) *InboxHandler {
	return &InboxHandler{
		inbox:      box,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

func (h *InboxHandler) Register(e *echo.Echo) {
	group := e.Group("/inbox/conversations")
	group.GET("", h.ListConversations)
	group.GET("/:id", h.GetConversation)
	group.GET("/:id/messages", h.History)
	group.POST("/:id/messages", h.SendMessage)
	group.POST("/:id/viewed", h.MarkViewed)
	group.POST("/:id/status", h.SetStatus)
	group.POST("/:id/lead", h.LinkLead)

	e.POST("/inbox/messages/:id/delivery", h.AdvanceDelivery)
}

// ListConversations returns the tenant's conversations, filtered by the
// status, channel, and q query parameters.
func (h *InboxHandler) ListConversations(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	filter := inbox.ListFilter{
		Status:  inbox.ConversationStatus(strings.TrimSpace(c.QueryParam("status"))),
		Channel: channel.ChannelType(strings.TrimSpace(c.QueryParam("channel"))),
		Search:  c.QueryParam("q"),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filter.Limit = v
		}
	}
	if raw := c.QueryParam("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			filter.Offset = v
		}
	}
	items, err := h.inbox.List(c.Request().Context(), tenantID, filter)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []inbox.Conversation{}
	}
	return c.JSON(http.StatusOK, items)
}

// GetConversation returns one conversation.
func (h *InboxHandler) GetConversation(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	conversation, err := h.inbox.Get(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversation)
}

// History returns the conversation's messages, oldest first. The before
// parameter (RFC 3339) pages backwards through history.
func (h *InboxHandler) History(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	var before time.Time
	if raw := strings.TrimSpace(c.QueryParam("before")); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "before must be RFC 3339")
		}
		before = parsed
	}
	messages, err := h.inbox.History(c.Request().Context(), tenantID, c.Param("id"), limit, before)
	if err != nil {
		return httpError(err)
	}
	if messages == nil {
		messages = []inbox.Message{}
	}
	return c.JSON(http.StatusOK, messages)
}

type sendMessageRequest struct {
	Text       string `json:"text" validate:"required,max=8000"`
	SenderName string `json:"sender_name" validate:"max=256"`
}

// SendMessage appends an operator message and dispatches it through the
// conversation's channel. The response carries the message with its final
// delivery bookkeeping, failed included.
func (h *InboxHandler) SendMessage(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	message, err := h.inbox.AppendOutbound(ctx, tenantID, c.Param("id"), inbox.RoleOperator, req.SenderName, req.Text, nil)
	if err != nil {
		return httpError(err)
	}
	sent, err := h.dispatcher.Dispatch(ctx, tenantID, message)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sent)
}

// MarkViewed resets the unread count and escalation flag.
func (h *InboxHandler) MarkViewed(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	conversation, err := h.inbox.MarkViewed(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversation)
}

type setStatusRequest struct {
	Status inbox.ConversationStatus `json:"status" validate:"required"`
}

// SetStatus moves the conversation between open, closed, and archived.
func (h *InboxHandler) SetStatus(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case inbox.StatusOpen, inbox.StatusClosed, inbox.StatusArchived:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown conversation status")
	}
	conversation, err := h.inbox.SetStatus(c.Request().Context(), tenantID, c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversation)
}

type linkLeadRequest struct {
	LeadID string `json:"lead_id" validate:"required,max=128"`
}

// LinkLead attaches a CRM lead to the conversation. Linking a second lead
// returns 409.
func (h *InboxHandler) LinkLead(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	var req linkLeadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conversation, err := h.inbox.LinkLead(c.Request().Context(), tenantID, c.Param("id"), req.LeadID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conversation)
}

type advanceDeliveryRequest struct {
	Status inbox.DeliveryStatus `json:"status" validate:"required"`
}

// AdvanceDelivery applies a provider delivery callback to a message. Out of
// order callbacks are ignored, not errors.
func (h *InboxHandler) AdvanceDelivery(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	var req advanceDeliveryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch req.Status {
	case inbox.DeliverySent, inbox.DeliveryDelivered, inbox.DeliveryRead, inbox.DeliveryFailed:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown delivery status")
	}
	message, err := h.inbox.AdvanceDeliveryStatus(c.Request().Context(), tenantID, c.Param("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, message)
}
