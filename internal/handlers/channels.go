package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/leadwire/leadwire/internal/channel"
	"github.com/leadwire/leadwire/internal/session"
)

type ChannelsHandler struct {
	logger   *slog.Logger
	registry *channel.Registry
	store    *channel.Store
	sessions *session.Manager
	router   *channel.TenantRouter
	validate *validator.Validate
}

func NewChannelsHandler(log *slog.Logger, registry *channel.Registry, store *channel.Store, sessions *session.Manager, router *channel.TenantRouter) *ChannelsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelsHandler{
		logger:   log.With(slog.String("handler", "channels")),
		registry: registry,
		store:    store,
		sessions: sessions,
		router:   router,
		validate: validator.New(),
	}
}

func (h *ChannelsHandler) Register(e *echo.Echo) {
	group := e.Group("/channels/:channel")
	group.PUT("/config", h.UpsertConfig)
	group.POST("/session", h.CreateSession)
	group.GET("/session", h.SessionStatus)
	group.DELETE("/session", h.Disconnect)
	group.POST("/reconnect", h.Reconnect)
	group.GET("/pairing", h.Pairing)
	group.GET("/pairing.png", h.PairingImage)
	group.GET("/health", h.Health)
	group.GET("/bot", h.BotInfo)
	group.GET("/settings", h.GetSettings)
	group.PUT("/settings", h.UpdateSettings)
	group.POST("/webhook", h.Webhook)

	e.GET("/channels", h.ListChannelTypes)
}

func (h *ChannelsHandler) channelType(c echo.Context) (channel.ChannelType, error) {
	channelType, err := h.registry.ParseChannelType(c.Param("channel"))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return channelType, nil
}

// ListChannelTypes returns the channel types this deployment supports.
func (h *ChannelsHandler) ListChannelTypes(c echo.Context) error {
	types := h.registry.Types()
	items := make([]string, 0, len(types))
	for _, t := range types {
		items = append(items, t.String())
	}
	return c.JSON(http.StatusOK, items)
}

type upsertConfigRequest struct {
	Session map[string]any `json:"session"`
}

// UpsertConfig stores channel credentials (e.g. a bot token) for the tenant.
// Bot-credential channels are validated against the live platform before the
// config is persisted, so a bad token is rejected at configure time.
func (h *ChannelsHandler) UpsertConfig(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	var req upsertConfigRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Session == nil {
		req.Session = map[string]any{}
	}
	if botProvider, ok := h.registry.GetBotInfoProvider(channelType); ok {
		probe := channel.ChannelConfig{TenantID: tenantID, ChannelType: channelType, Session: req.Session}
		if _, err := botProvider.BotInfo(c.Request().Context(), probe); err != nil {
			return httpError(err)
		}
	}
	cfg, err := h.store.UpsertConfig(c.Request().Context(), tenantID, channelType, req.Session)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// CreateSession provisions a fresh provider session and starts pairing.
func (h *ChannelsHandler) CreateSession(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	status, err := h.sessions.CreateSession(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, status)
}

// SessionStatus returns the last known lifecycle state.
func (h *ChannelsHandler) SessionStatus(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.sessions.Status(tenantID, channelType))
}

// Disconnect tears the session down at the provider.
func (h *ChannelsHandler) Disconnect(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	if err := h.sessions.Disconnect(c.Request().Context(), tenantID, channelType); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Reconnect replaces the current session with a fresh one.
func (h *ChannelsHandler) Reconnect(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	status, err := h.sessions.Reconnect(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, status)
}

type pairingResponse struct {
	State session.State `json:"state"`
	Code  string        `json:"code,omitempty"`
}

// Pairing returns the current pairing payload, or just the state when the
// session already connected.
func (h *ChannelsHandler) Pairing(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	code, status, err := h.sessions.PairingArtifact(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pairingResponse{State: status.State, Code: code})
}

// PairingImage renders the pairing payload as a QR code PNG for direct
// embedding in a dashboard <img> tag.
func (h *ChannelsHandler) PairingImage(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	code, status, err := h.sessions.PairingArtifact(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	if code == "" {
		return echo.NewHTTPError(http.StatusConflict, "session is "+string(status.State)+", nothing to pair")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

type healthResponse struct {
	channel.ChannelHealth
	LastKnown bool `json:"last_known"`
}

// Health performs a live check against the provider. When the provider is
// unreachable the cached connection flag is returned, marked last_known.
func (h *ChannelsHandler) Health(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	adapter, ok := h.registry.Get(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported channel type")
	}
	cfg, err := h.store.GetConfig(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	health, err := adapter.CheckHealth(c.Request().Context(), cfg)
	if err != nil {
		h.logger.Warn("live health check failed",
			slog.String("tenant_id", tenantID),
			slog.String("channel", channelType.String()),
			slog.Any("error", err),
		)
		state := channel.HealthDisconnected
		if cfg.Connected {
			state = channel.HealthConnected
		}
		return c.JSON(http.StatusOK, healthResponse{
			ChannelHealth: channel.ChannelHealth{State: state, Detail: "provider unreachable", CheckedAt: cfg.UpdatedAt},
			LastKnown:     true,
		})
	}
	return c.JSON(http.StatusOK, healthResponse{ChannelHealth: health})
}

// BotInfo returns display metadata for bot-credential channels.
func (h *ChannelsHandler) BotInfo(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	provider, ok := h.registry.GetBotInfoProvider(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "channel has no bot identity")
	}
	cfg, err := h.store.GetConfig(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	info, err := provider.BotInfo(c.Request().Context(), cfg)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, info)
}

// GetSettings returns the tenant's automation settings for the channel.
func (h *ChannelsHandler) GetSettings(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	settings, err := h.store.Settings(c.Request().Context(), tenantID, channelType)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, settings)
}

// UpdateSettings replaces the tenant's automation settings for the channel.
func (h *ChannelsHandler) UpdateSettings(c echo.Context) error {
	tenantID, err := requireTenantID(c)
	if err != nil {
		return err
	}
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	var req channel.UpdateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cfg, err := h.store.UpdateSettings(c.Request().Context(), tenantID, channelType, channel.ChannelSettings{
		AutoReplyEnabled:   req.AutoReplyEnabled,
		AutoReplyPrompt:    req.AutoReplyPrompt,
		EscalationEnabled:  req.EscalationEnabled,
		EscalationKeywords: req.EscalationKeywords,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg.Settings)
}

// Webhook receives raw inbound payloads from the channel provider. The
// payload is normalized and routed; routing failures are deliberate drops
// and still acknowledge the delivery so the provider stops retrying.
func (h *ChannelsHandler) Webhook(c echo.Context) error {
	channelType, err := h.channelType(c)
	if err != nil {
		return err
	}
	adapter, ok := h.registry.Get(channelType)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported channel type")
	}
	raw, err := readBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := adapter.NormalizeInbound(raw)
	if err != nil {
		if errors.Is(err, channel.ErrNotImplemented) {
			return httpError(err)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.router.Dispatch(c.Request().Context(), event); err != nil {
		h.logger.Warn("inbound dispatch failed",
			slog.String("channel", channelType.String()),
			slog.String("event_id", event.ID),
			slog.Any("error", err),
		)
	}
	return c.NoContent(http.StatusAccepted)
}
