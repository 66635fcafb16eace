// Package botapi implements the adapter for channels activated by a
// long-lived bot credential (currently Telegram).
package botapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leadwire/leadwire/internal/channel"
)

const telegramMaxMessageLength = 4096

// TelegramAdapter sends and normalizes Telegram bot traffic.
type TelegramAdapter struct {
	logger *slog.Logger
	mu     sync.RWMutex
	bots   map[string]*tgbotapi.BotAPI // keyed by bot token
}

// NewTelegramAdapter creates a TelegramAdapter with the given logger.
func NewTelegramAdapter(log *slog.Logger) *TelegramAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramAdapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bots:   make(map[string]*tgbotapi.BotAPI),
	}
}

var getOrCreateBotForTest func(a *TelegramAdapter, token string) (*tgbotapi.BotAPI, error)

// getOrCreateBot caches BotAPI clients per token; creating one validates the
// token against the Bot API, so a cache miss is a network round trip.
func (a *TelegramAdapter) getOrCreateBot(token string) (*tgbotapi.BotAPI, error) {
	if getOrCreateBotForTest != nil {
		return getOrCreateBotForTest(a, token)
	}
	a.mu.RLock()
	bot, ok := a.bots[token]
	a.mu.RUnlock()
	if ok {
		return bot, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if bot, ok := a.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, wrapTelegramError(err)
	}
	a.bots[token] = bot
	return bot, nil
}

func (a *TelegramAdapter) Type() channel.ChannelType {
	return channel.ChannelType("telegram")
}

// SendText delivers text to a Telegram chat. The conversation ref is the
// numeric chat id.
func (a *TelegramAdapter) SendText(ctx context.Context, cfg channel.ChannelConfig, conversationRef, text string) (channel.OutboundResult, error) {
	token, err := botToken(cfg)
	if err != nil {
		return channel.OutboundResult{}, err
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(conversationRef), 10, 64)
	if err != nil {
		return channel.OutboundResult{}, fmt.Errorf("%w: telegram conversation ref must be a chat id", channel.ErrProviderRejected)
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return channel.OutboundResult{}, err
	}
	message := tgbotapi.NewMessage(chatID, truncateTelegramText(text))
	sent, err := bot.Send(message)
	if err != nil {
		return channel.OutboundResult{}, wrapTelegramError(err)
	}
	return channel.OutboundResult{
		ExternalID: strconv.Itoa(sent.MessageID),
		Status:     channel.OutboundStatusSent,
	}, nil
}

// NormalizeInbound converts a Telegram Update payload into the canonical
// inbound event. Updates without a message (callbacks, edits) are rejected.
func (a *TelegramAdapter) NormalizeInbound(raw []byte) (channel.InboundEvent, error) {
	var update tgbotapi.Update
	if err := json.Unmarshal(raw, &update); err != nil {
		return channel.InboundEvent{}, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.InboundEvent{}, fmt.Errorf("telegram update has no message")
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}

	receivedAt := time.Now().UTC()
	if msg.Date > 0 {
		receivedAt = time.Unix(int64(msg.Date), 0).UTC()
	}

	return channel.InboundEvent{
		ID:              strconv.Itoa(msg.MessageID),
		Channel:         a.Type(),
		ConversationRef: strconv.FormatInt(msg.Chat.ID, 10),
		Text:            text,
		AttachmentURLs:  collectAttachmentRefs(msg),
		SenderName:      resolveSenderName(msg),
		Direction:       channel.DirectionInbound,
		ReceivedAt:      receivedAt,
		Raw:             json.RawMessage(raw),
	}, nil
}

// CheckHealth validates the bot token against the live Bot API.
func (a *TelegramAdapter) CheckHealth(ctx context.Context, cfg channel.ChannelConfig) (channel.ChannelHealth, error) {
	now := time.Now().UTC()
	token, err := botToken(cfg)
	if err != nil {
		return channel.ChannelHealth{
			State:     channel.HealthDisconnected,
			Detail:    "no bot token configured",
			CheckedAt: now,
		}, nil
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return healthFromError(err, now)
	}
	if _, err := bot.GetMe(); err != nil {
		return healthFromError(wrapTelegramError(err), now)
	}
	return channel.ChannelHealth{State: channel.HealthConnected, CheckedAt: now}, nil
}

// BotInfo returns display metadata for the configured bot.
func (a *TelegramAdapter) BotInfo(ctx context.Context, cfg channel.ChannelConfig) (channel.BotInfo, error) {
	token, err := botToken(cfg)
	if err != nil {
		return channel.BotInfo{}, err
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return channel.BotInfo{}, err
	}
	me, err := bot.GetMe()
	if err != nil {
		return channel.BotInfo{}, wrapTelegramError(err)
	}
	return channel.BotInfo{
		Username:  me.UserName,
		FirstName: me.FirstName,
		ID:        me.ID,
	}, nil
}

func botToken(cfg channel.ChannelConfig) (string, error) {
	token := ""
	if cfg.Session != nil {
		token, _ = cfg.Session["bot_token"].(string)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: bot token is required", channel.ErrProviderRejected)
	}
	return token, nil
}

// wrapTelegramError maps Bot API errors onto the provider error taxonomy. An
// api error is a definitive verdict; anything else is transport.
func wrapTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: telegram api %d: %s", channel.ErrProviderRejected, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("%w: %v", channel.ErrProviderUnavailable, err)
}

func healthFromError(err error, now time.Time) (channel.ChannelHealth, error) {
	if errors.Is(err, channel.ErrProviderRejected) {
		return channel.ChannelHealth{
			State:     channel.HealthDisconnected,
			Detail:    err.Error(),
			CheckedAt: now,
		}, nil
	}
	return channel.ChannelHealth{}, err
}

func resolveSenderName(msg *tgbotapi.Message) string {
	if msg.From != nil {
		name := strings.TrimSpace(strings.TrimSpace(msg.From.FirstName) + " " + strings.TrimSpace(msg.From.LastName))
		if name != "" {
			return name
		}
		if username := strings.TrimSpace(msg.From.UserName); username != "" {
			return username
		}
	}
	if msg.SenderChat != nil {
		if title := strings.TrimSpace(msg.SenderChat.Title); title != "" {
			return title
		}
	}
	return channel.UnknownSender
}

// collectAttachmentRefs records attachment file ids. Resolving a file id to a
// download URL needs a live bot call, so normalization keeps the opaque ref
// and leaves resolution to whoever renders it.
func collectAttachmentRefs(msg *tgbotapi.Message) []string {
	var refs []string
	if len(msg.Photo) > 0 {
		best := msg.Photo[0]
		for _, item := range msg.Photo[1:] {
			if item.FileSize > best.FileSize {
				best = item
			}
		}
		refs = append(refs, best.FileID)
	}
	if msg.Document != nil {
		refs = append(refs, msg.Document.FileID)
	}
	if msg.Voice != nil {
		refs = append(refs, msg.Voice.FileID)
	}
	if msg.Video != nil {
		refs = append(refs, msg.Video.FileID)
	}
	return refs
}

// truncateTelegramText enforces the Bot API message length limit, which is
// counted in characters, so the cut lands on a rune boundary.
func truncateTelegramText(text string) string {
	if utf8.RuneCountInString(text) <= telegramMaxMessageLength {
		return text
	}
	return string([]rune(text)[:telegramMaxMessageLength])
}
