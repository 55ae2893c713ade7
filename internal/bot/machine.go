package bot

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"ozonbot/internal/bot/dialogue"
	"ozonbot/internal/domain"
	"ozonbot/internal/metrics"
	"ozonbot/internal/service/credentials"
)

const minTokenLength = 10

type Verifier interface {
	Verify(ctx context.Context, apiToken, clientID string) (bool, string)
}

type Credentials interface {
	Save(ctx context.Context, telegramID int64, username, apiToken, clientID string) error
	Get(ctx context.Context, telegramID int64) (domain.Credential, bool, error)
	Delete(ctx context.Context, telegramID int64) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) domain.Event
}

type Input struct {
	TelegramID int64
	Username   string
	Text       string
}

type Reply struct {
	Text string
}

// Machine runs the credential collection dialogue. It has no Telegram
// dependency; the adapter turns Replies into messages with the keyboard.
type Machine struct {
	verifier    Verifier
	credentials Credentials
	states      dialogue.Store
	events      Emitter
	logger      *zap.Logger
}

func NewMachine(v Verifier, creds Credentials, states dialogue.Store, events Emitter, logger *zap.Logger) *Machine {
	return &Machine{verifier: v, credentials: creds, states: states, events: events, logger: logger}
}

func (m *Machine) Handle(ctx context.Context, in Input) Reply {
	intent, args := Parse(in.Text)
	metrics.BotUpdates.WithLabelValues(string(intent)).Inc()
	log := m.logger.With(zap.Int64("telegram_id", in.TelegramID), zap.String("intent", string(intent)))

	switch intent {
	case IntentStart:
		if err := m.states.Clear(ctx, in.TelegramID); err != nil {
			log.Warn("clear dialogue failed", zap.Error(err))
		}
		return Reply{Text: greeting(in.Username)}
	case IntentHelp:
		return Reply{Text: helpText}
	case IntentStatus:
		return m.status(ctx, log, in)
	case IntentCancel:
		if err := m.states.Clear(ctx, in.TelegramID); err != nil {
			return m.fail(ctx, log, in.TelegramID, "clear dialogue", err)
		}
		return Reply{Text: "Действие отменено."}
	case IntentDeleteTokens:
		return m.deleteTokens(ctx, log, in)
	case IntentSetToken:
		if len(args) >= 2 {
			return m.inlineSetToken(ctx, log, in, args[0], strings.Join(args[1:], ""))
		}
		if err := m.states.Set(ctx, in.TelegramID, domain.Dialogue{State: domain.StateAwaitingToken}); err != nil {
			return m.fail(ctx, log, in.TelegramID, "set dialogue", err)
		}
		return Reply{Text: promptToken}
	}

	d, err := m.states.Get(ctx, in.TelegramID)
	if err != nil {
		return m.fail(ctx, log, in.TelegramID, "get dialogue", err)
	}
	switch d.State {
	case domain.StateAwaitingToken:
		return m.acceptToken(ctx, log, in)
	case domain.StateAwaitingClientID:
		return m.acceptClientID(ctx, log, in, d.PendingToken)
	default:
		return Reply{Text: "Не понимаю сообщение.\n\n" + helpText}
	}
}

func (m *Machine) acceptToken(ctx context.Context, log *zap.Logger, in Input) Reply {
	token := NormalizeToken(in.Text)
	if utf8.RuneCountInString(token) < minTokenLength {
		return Reply{Text: fmt.Sprintf("Токен слишком короткий (минимум %d символов). Отправьте API ключ Ozon ещё раз.", minTokenLength)}
	}
	next := domain.Dialogue{State: domain.StateAwaitingClientID, PendingToken: token}
	if err := m.states.Set(ctx, in.TelegramID, next); err != nil {
		return m.fail(ctx, log, in.TelegramID, "set dialogue", err)
	}
	return Reply{Text: "API ключ получен. Теперь отправьте Client ID (только цифры)."}
}

func (m *Machine) acceptClientID(ctx context.Context, log *zap.Logger, in Input, token string) Reply {
	clientID := NormalizeClientID(in.Text)
	if clientID == "" {
		return Reply{Text: "Client ID должен состоять из цифр. Отправьте Client ID ещё раз или /cancel."}
	}
	return m.verifyAndSave(ctx, log, in, token, clientID)
}

func (m *Machine) inlineSetToken(ctx context.Context, log *zap.Logger, in Input, rawToken, rawClientID string) Reply {
	token := NormalizeToken(rawToken)
	clientID := NormalizeClientID(rawClientID)
	if utf8.RuneCountInString(token) < minTokenLength || clientID == "" {
		if err := m.states.Set(ctx, in.TelegramID, domain.Dialogue{State: domain.StateAwaitingToken}); err != nil {
			return m.fail(ctx, log, in.TelegramID, "set dialogue", err)
		}
		return Reply{Text: "Формат: /set_token API_KEY CLIENT_ID\n\n" + promptToken}
	}
	return m.verifyAndSave(ctx, log, in, token, clientID)
}

// verifyAndSave persists only after a successful verification.
func (m *Machine) verifyAndSave(ctx context.Context, log *zap.Logger, in Input, token, clientID string) Reply {
	ok, msg := m.verifier.Verify(ctx, token, clientID)
	if !ok {
		m.events.Emit(ctx, domain.EventVerificationFailed, in.TelegramID, map[string]interface{}{"reason": msg})
		if err := m.states.Set(ctx, in.TelegramID, domain.Dialogue{State: domain.StateAwaitingToken}); err != nil {
			return m.fail(ctx, log, in.TelegramID, "set dialogue", err)
		}
		return Reply{Text: "❌ Токены не прошли проверку: " + msg + "\n\n" + promptToken}
	}
	if err := m.credentials.Save(ctx, in.TelegramID, in.Username, token, clientID); err != nil {
		return m.fail(ctx, log, in.TelegramID, "save credentials", err)
	}
	if err := m.states.Clear(ctx, in.TelegramID); err != nil {
		log.Warn("clear dialogue after save failed", zap.Error(err))
	}
	m.events.Emit(ctx, domain.EventCredentialsSaved, in.TelegramID, map[string]interface{}{
		"client_id": credentials.MaskClientID(clientID),
		"demo":      domain.IsPlaceholder(token, clientID),
	})
	log.Info("credentials saved")
	return Reply{Text: "✅ Токены проверены и сохранены. " + msg}
}

func (m *Machine) deleteTokens(ctx context.Context, log *zap.Logger, in Input) Reply {
	if err := m.credentials.Delete(ctx, in.TelegramID); err != nil {
		return m.fail(ctx, log, in.TelegramID, "delete credentials", err)
	}
	if err := m.states.Clear(ctx, in.TelegramID); err != nil {
		log.Warn("clear dialogue failed", zap.Error(err))
	}
	m.events.Emit(ctx, domain.EventCredentialsDeleted, in.TelegramID, nil)
	return Reply{Text: "🗑 Токены удалены."}
}

func (m *Machine) status(ctx context.Context, log *zap.Logger, in Input) Reply {
	cred, ok, err := m.credentials.Get(ctx, in.TelegramID)
	if err != nil {
		log.Error("get credentials failed", zap.Error(err))
		return Reply{Text: "Не удалось получить статус. Попробуйте позже."}
	}
	if !ok {
		return Reply{Text: "❌ Токены не настроены. Нажмите «" + LabelSetToken + "» или отправьте /set_token."}
	}
	var b strings.Builder
	b.WriteString("✅ Токены настроены\n")
	fmt.Fprintf(&b, "Client ID: %s\n", credentials.MaskClientID(cred.ClientID))
	fmt.Fprintf(&b, "Сохранены: %s\n", cred.UpdatedAt.Format("02.01.2006 15:04"))
	if cred.LastUsedAt != nil {
		fmt.Fprintf(&b, "Последнее использование: %s\n", cred.LastUsedAt.Format("02.01.2006 15:04"))
	}
	if cred.IsPlaceholder() {
		b.WriteString("Режим: демо\n")
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

// fail answers with a generic error and parks the user in awaiting_token.
func (m *Machine) fail(ctx context.Context, log *zap.Logger, telegramID int64, op string, err error) Reply {
	log.Error(op+" failed", zap.Error(err))
	if serr := m.Park(ctx, telegramID); serr != nil {
		log.Warn("reset dialogue failed", zap.Error(serr))
	}
	return Reply{Text: "⚠️ Произошла ошибка. Отправьте API ключ Ozon ещё раз или /cancel."}
}

// Park moves the user to awaiting_token, the state every failure recovers to.
func (m *Machine) Park(ctx context.Context, telegramID int64) error {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	return m.states.Set(sctx, telegramID, domain.Dialogue{State: domain.StateAwaitingToken})
}

func greeting(username string) string {
	name := "продавец"
	if username != "" {
		name = username
	}
	return fmt.Sprintf("Привет, %s! Я помогу подключить ваш магазин Ozon.\n\n%s", name, helpText)
}

const promptToken = "Отправьте API ключ Ozon Seller (Настройки → API ключи)."

const helpText = `Команды:
/set_token — подключить API ключ и Client ID
/set_token API_KEY CLIENT_ID — подключить одной командой
/status — статус подключения
/delete_tokens — удалить сохранённые токены
/cancel — отменить текущее действие
/help — эта справка`
