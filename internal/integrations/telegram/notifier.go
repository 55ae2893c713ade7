package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Sender is the part of *tgbotapi.BotAPI the bot and notifier use.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBotAPI connects to Telegram and routes the library's own logging
// through zap.
func NewBotAPI(token string, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	_ = tgbotapi.SetLogger(zapBotLogger{logger.Sugar()})
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	return api, nil
}

type zapBotLogger struct {
	s *zap.SugaredLogger
}

func (l zapBotLogger) Println(v ...interface{})               { l.s.Debug(v...) }
func (l zapBotLogger) Printf(format string, v ...interface{}) { l.s.Debugf(format, v...) }

// Notifier delivers job reports and alerts. With no sender configured it
// logs and drops the message.
type Notifier struct {
	sender      Sender
	adminChatID int64
	markup      interface{}
	logger      *zap.Logger
}

func NewNotifier(sender Sender, adminChatID string, markup interface{}, logger *zap.Logger) *Notifier {
	n := &Notifier{sender: sender, markup: markup, logger: logger}
	if adminChatID != "" {
		id, err := strconv.ParseInt(adminChatID, 10, 64)
		if err != nil {
			logger.Warn("ignoring non-numeric TELEGRAM_CHAT_ID", zap.String("value", adminChatID))
		} else {
			n.adminChatID = id
		}
	}
	return n
}

func (n *Notifier) Notify(ctx context.Context, chatID int64, text string) error {
	if text == "" || chatID == 0 {
		return nil
	}
	if n.sender == nil {
		n.logger.Info("notification dropped, bot not configured", zap.Int64("chat_id", chatID), zap.String("text", text))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if n.markup != nil {
		msg.ReplyMarkup = n.markup
	}
	if _, err := n.sender.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}

// NotifyAdmin copies a message to TELEGRAM_CHAT_ID when it is set.
func (n *Notifier) NotifyAdmin(ctx context.Context, text string) error {
	if n.adminChatID == 0 {
		return nil
	}
	return n.Notify(ctx, n.adminChatID, text)
}
