package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ozonbot/internal/integrations/telegram"
	"ozonbot/internal/tracking"
)

const genericFailure = "⚠️ Что-то пошло не так. Отправьте API ключ Ozon ещё раз или /cancel."

// Keyboard is attached to every message the bot sends.
func Keyboard() tgbotapi.ReplyKeyboardMarkup {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(KeyboardRows))
	for _, labels := range KeyboardRows {
		row := make([]tgbotapi.KeyboardButton, 0, len(labels))
		for _, label := range labels {
			row = append(row, tgbotapi.NewKeyboardButton(label))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewReplyKeyboard(rows...)
}

// Adapter feeds Telegram updates into the Machine and sends its replies.
type Adapter struct {
	machine *Machine
	sender  telegram.Sender
	tracker tracking.Tracker
	logger  *zap.Logger
	timeout time.Duration
}

func NewAdapter(machine *Machine, sender telegram.Sender, tracker tracking.Tracker, logger *zap.Logger) *Adapter {
	if tracker == nil {
		tracker = tracking.Nop{}
	}
	return &Adapter{machine: machine, sender: sender, tracker: tracker, logger: logger, timeout: 30 * time.Second}
}

// HandleUpdate never panics. Updates without a text message are ignored.
func (a *Adapter) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("update handler panicked", zap.Int("update_id", update.UpdateID), zap.Any("panic", r))
			a.tracker.CapturePanic(r, map[string]string{"component": "bot"})
			if err := a.machine.Park(ctx, msg.From.ID); err != nil {
				a.logger.Warn("reset dialogue failed", zap.Error(err))
			}
			a.reply(msg.Chat.ID, genericFailure)
		}
	}()

	reply := a.machine.Handle(ctx, Input{
		TelegramID: msg.From.ID,
		Username:   displayName(msg.From),
		Text:       msg.Text,
	})
	a.reply(msg.Chat.ID, reply.Text)
}

// Run consumes long-polling updates until ctx is done.
func (a *Adapter) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go a.HandleUpdate(context.WithoutCancel(ctx), update)
		}
	}
}

func (a *Adapter) reply(chatID int64, text string) {
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = Keyboard()
	if _, err := a.sender.Send(out); err != nil {
		a.logger.Warn("send reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		a.tracker.CaptureError(fmt.Errorf("send reply: %w", err), map[string]string{"component": "bot"})
	}
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
