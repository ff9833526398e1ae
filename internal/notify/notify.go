// Package notify sends operator alerts through the Telegram bot API using
// the same token the supervised bot runs with.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
)

// Telegram sends one-line crash alerts to a fixed chat. Send failures are
// logged and swallowed: losing an alert must never affect the restart loop.
type Telegram struct {
	bot    *bot.Bot
	chatID string
}

func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: bot token is empty")
	}
	if chatID == "" {
		return nil, fmt.Errorf("notify: chat id is empty")
	}

	// Skip the GetMe round trip: the token is validated by the first send,
	// and the prober covers reachability separately
	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	return &Telegram{bot: b, chatID: chatID}, nil
}

// NotifyCrash reports a non-zero bot exit and the chosen restart delay.
func (t *Telegram) NotifyCrash(ctx context.Context, exitCode int, delay time.Duration) {
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := t.bot.SendMessage(sendCtx, &bot.SendMessageParams{
		ChatID: t.chatID,
		Text:   crashMessage(exitCode, delay),
	})
	if err != nil {
		slog.Warn("Failed to send crash notification", "error", err)
	}
}

func crashMessage(exitCode int, delay time.Duration) string {
	return fmt.Sprintf("botminder: bot exited with code %d, relaunching in %s", exitCode, delay)
}
