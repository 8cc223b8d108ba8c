package alerting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// ErrDestinationUnresolved is returned when the startup lookup of the destination failed.
var ErrDestinationUnresolved = errors.New("alerting: destination not resolved")

// Notifier delivers one event to the configured destination.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// TelegramOptions configure the Telegram notifier.
type TelegramOptions struct {
	BotToken string
	ChatID   string
	APIBase  string
	Timeout  time.Duration
}

// TelegramNotifier sends MarkdownV2 messages through the Bot API.
type TelegramNotifier struct {
	bot      *tgbotapi.BotAPI
	chatID   int64
	channel  string
	resolved bool
	logger   zerolog.Logger
}

// NewTelegramNotifier validates the bot token with getMe and resolves the destination chat once.
// An invalid token is an error; an unknown chat is logged and later deliveries are skipped.
func NewTelegramNotifier(opts TelegramOptions, logger zerolog.Logger) (*TelegramNotifier, error) {
	if opts.BotToken == "" {
		return nil, errors.New("telegram bot token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "https://api.telegram.org"
	}

	n := &TelegramNotifier{logger: logger.With().Str("component", "alert_telegram").Logger()}

	chat := strings.TrimSpace(opts.ChatID)
	switch {
	case strings.HasPrefix(chat, "@"):
		n.channel = chat
	case chat != "":
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse telegram chat id %q: %w", chat, err)
		}
		n.chatID = id
	default:
		return nil, errors.New("telegram chat id is required")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.BotToken, base+"/bot%s/%s", &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("validate telegram bot token: %w", err)
	}
	n.bot = bot

	info, err := bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: n.chatID, SuperGroupUsername: n.channel}})
	if err != nil {
		n.logger.Error().Err(err).Str("chat", chat).Msg("telegram destination not found; alerts will be skipped")
		return n, nil
	}
	n.resolved = true
	n.logger.Info().Str("bot", bot.Self.UserName).Int64("chat_id", info.ID).Str("chat_type", info.Type).Msg("telegram destination resolved")
	return n, nil
}

// Resolved reports whether the destination lookup succeeded.
func (n *TelegramNotifier) Resolved() bool {
	return n.resolved
}

// Notify renders and sends the event.
func (n *TelegramNotifier) Notify(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.resolved {
		return ErrDestinationUnresolved
	}

	var msg tgbotapi.MessageConfig
	if n.channel != "" {
		msg = tgbotapi.NewMessageToChannel(n.channel, RenderMarkdownV2(ev))
	} else {
		msg = tgbotapi.NewMessage(n.chatID, RenderMarkdownV2(ev))
	}
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true

	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Info().Str("kind", string(ev.Kind)).Str("asset", ev.AssetID).Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes rendered events to the logger only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier that never leaves the process.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the plain rendering of ev.
func (n *LogNotifier) Notify(_ context.Context, ev Event) error {
	n.logger.Info().Str("kind", string(ev.Kind)).Str("asset", ev.AssetID).Msg(RenderPlain(ev))
	return nil
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
