package alert

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/linkup/internal/types"
)

// TelegramAlerter notifies an admin chat when a run dead-letters. FAILED is
// terminal and never auto-retried, so someone has to look at it.
type TelegramAlerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a TelegramAlerter for the given bot token and chat.
func NewTelegram(token string, chatID int64) (*TelegramAlerter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &TelegramAlerter{bot: bot, chatID: chatID}, nil
}

// RunFailed sends a dead-letter alert for the run. Alerting is best-effort;
// failures are logged and dropped.
func (a *TelegramAlerter) RunFailed(run *types.WorkflowRun) {
	text := fmt.Sprintf("*workflow dead-letter*\nkind: `%s`\nrun: `%s`\nretries: %d\nerror: %s",
		run.Kind, run.RunID, run.RetryCount, run.LastError)

	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := a.bot.Send(msg); err != nil {
		// Retry without markdown if it fails
		msg.ParseMode = ""
		if _, err := a.bot.Send(msg); err != nil {
			slog.Error("telegram alert failed", "run_id", string(run.RunID), "error", err)
		}
	}
}
