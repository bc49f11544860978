// Package telegram sends run summaries to a Telegram chat.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/runbox/runbox/pkg/model"
)

// Notifier sends run summaries through the Telegram Bot API.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates a Notifier for the given bot token and chat.
func New(token string, chatID int64) (*Notifier, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("creating Telegram bot: %w", err)
	}
	return &Notifier{api: api, chatID: chatID}, nil
}

// Name returns the notifier name.
func (n *Notifier) Name() string { return "telegram" }

// RunFinished sends the run summary as a Markdown message.
func (n *Notifier) RunFinished(ctx context.Context, summary model.RunSummary) error {
	var sb strings.Builder
	if summary.Passed() {
		fmt.Fprintf(&sb, "✅ Run `%s` passed", summary.RunID)
	} else {
		fmt.Fprintf(&sb, "❌ Run `%s` failed (%d of %d)",
			summary.RunID, len(summary.Failed), len(summary.Files))
	}
	fmt.Fprintf(&sb, " in %s\n", summary.Duration.Round(time.Millisecond))
	for _, f := range summary.Failed {
		fmt.Fprintf(&sb, "• `%s`\n", f)
	}

	msg := tgbotapi.NewMessage(n.chatID, sb.String())
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		return fmt.Errorf("sending to chat %d: %w", n.chatID, err)
	}
	return nil
}
