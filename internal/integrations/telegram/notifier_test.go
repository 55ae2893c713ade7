package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *recordingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, s.err
}

func TestNotify_AttachesMarkup(t *testing.T) {
	sender := &recordingSender{}
	markup := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("x")))
	n := NewNotifier(sender, "", markup, zap.NewNop())

	require.NoError(t, n.Notify(context.Background(), 10, "hello"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(10), sender.sent[0].ChatID)
	assert.Equal(t, "hello", sender.sent[0].Text)
	assert.NotNil(t, sender.sent[0].ReplyMarkup)
}

func TestNotify_NoSenderIsNoop(t *testing.T) {
	n := NewNotifier(nil, "", nil, zap.NewNop())
	assert.NoError(t, n.Notify(context.Background(), 10, "hello"))
}

func TestNotify_PropagatesSendError(t *testing.T) {
	n := NewNotifier(&recordingSender{err: errors.New("blocked")}, "", nil, zap.NewNop())
	assert.Error(t, n.Notify(context.Background(), 10, "hello"))
}

func TestNotifyAdmin(t *testing.T) {
	sender := &recordingSender{}
	n := NewNotifier(sender, "-100200", nil, zap.NewNop())
	require.NoError(t, n.NotifyAdmin(context.Background(), "job done"))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(-100200), sender.sent[0].ChatID)

	silent := NewNotifier(sender, "not-a-number", nil, zap.NewNop())
	require.NoError(t, silent.NotifyAdmin(context.Background(), "x"))
	assert.Len(t, sender.sent, 1)
}

func TestWebhookURL(t *testing.T) {
	assert.Equal(t, "https://bot.example.com/webhook/123:abc", WebhookURL("https://bot.example.com/", "123:abc"))
}
