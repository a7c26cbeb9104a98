package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"statusbridge/internal/config"
	"statusbridge/internal/domain"

	tgbot "github.com/go-telegram/bot"
)

// IncidentEvent describes one incident transition for operator notification.
// Params: service name, transition kind, and incident id.
// Returns: channel-agnostic payload for senders.
type IncidentEvent struct {
	Service    string
	Health     domain.Health
	IncidentID int
	Opened     bool
}

// Notifier sends operator pings for incident transitions.
// Params: context and incident event.
// Returns: transport error; callers treat failures as non-fatal.
type Notifier interface {
	NotifyIncident(ctx context.Context, event IncidentEvent) error
}

// TelegramNotifier posts incident transitions to a Telegram chat.
// Params: bot client and destination chat.
// Returns: operator notification channel.
type TelegramNotifier struct {
	client  *tgbot.Bot
	chatID  any
	initErr error
}

// NewTelegram creates the Telegram notifier from configuration.
// Params: Telegram channel config.
// Returns: initialized notifier; init errors surface on first send.
func NewTelegram(cfg config.TelegramNotifier) *TelegramNotifier {
	notifier := &TelegramNotifier{chatID: normalizeChatID(cfg.ChatID)}

	if strings.TrimSpace(cfg.BotToken) == "" {
		notifier.initErr = errors.New("telegram bot token is required")
		return notifier
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		notifier.initErr = errors.New("telegram chat_id is required")
		return notifier
	}

	options := []tgbot.Option{tgbot.WithSkipGetMe()}
	if base := strings.TrimRight(cfg.APIBase, "/"); base != "" {
		options = append(options, tgbot.WithServerURL(base))
	}
	client, err := tgbot.New(cfg.BotToken, options...)
	if err != nil {
		notifier.initErr = fmt.Errorf("init telegram bot: %w", err)
		return notifier
	}
	notifier.client = client
	return notifier
}

// NotifyIncident posts one incident transition message.
// Params: context and incident event.
// Returns: transport error when the message cannot be delivered.
func (n *TelegramNotifier) NotifyIncident(ctx context.Context, event IncidentEvent) error {
	if n.initErr != nil {
		return n.initErr
	}
	if n.client == nil {
		return errors.New("telegram client is not initialized")
	}

	sent, err := n.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: n.chatID,
		Text:   formatIncidentMessage(event),
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// formatIncidentMessage renders the operator message text.
// Params: incident event.
// Returns: plain-text message body.
func formatIncidentMessage(event IncidentEvent) string {
	if event.Opened {
		return fmt.Sprintf("outage: %s is down, incident #%d opened", event.Service, event.IncidentID)
	}
	return fmt.Sprintf("recovered: %s is operational, incident #%d resolved", event.Service, event.IncidentID)
}

// normalizeChatID converts numeric chat IDs to int64 and keeps names as string.
// Params: configured chat ID value from TOML.
// Returns: Telegram API chat id union value.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}
