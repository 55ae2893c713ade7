package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/integrations/ozon"
	"ozonbot/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context, auth ozon.Auth) error
}

// Verifier checks a token/client id pair with one live Ozon call.
type Verifier struct {
	ozon   Pinger
	logger *zap.Logger
}

func New(client Pinger, logger *zap.Logger) *Verifier {
	return &Verifier{ozon: client, logger: logger}
}

// Verify never fails: every outcome is folded into (valid, message).
func (v *Verifier) Verify(ctx context.Context, apiToken, clientID string) (valid bool, message string) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("verify panicked", zap.Any("panic", r))
			valid, message = false, "Не удалось проверить токены: внутренняя ошибка"
		}
	}()

	if domain.IsPlaceholder(apiToken, clientID) {
		metrics.Verifications.WithLabelValues("placeholder").Inc()
		return true, "Демо-режим: тестовые токены приняты"
	}

	err := v.ozon.Ping(ctx, ozon.Auth{ClientID: clientID, APIKey: apiToken})
	if err == nil {
		metrics.Verifications.WithLabelValues("valid").Inc()
		return true, "Токены действительны"
	}
	metrics.Verifications.WithLabelValues("invalid").Inc()
	msg := Describe(err)
	v.logger.Info("verification failed", zap.String("client_id", clientID), zap.Error(err))
	return false, msg
}

// Describe turns an Ozon client error into a message for the seller.
func Describe(err error) string {
	var apiErr *ozon.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return "Неверный API ключ или Client ID"
		case apiErr.Status == http.StatusForbidden:
			return "Доступ запрещён: у токена недостаточно прав"
		case apiErr.Status == http.StatusNotFound:
			return "Метод API Ozon не найден"
		case apiErr.Status == http.StatusTooManyRequests:
			return "Слишком много запросов к Ozon, попробуйте позже"
		case apiErr.Status >= 500:
			return fmt.Sprintf("Ozon временно недоступен (HTTP %d)", apiErr.Status)
		default:
			if apiErr.Message != "" {
				return fmt.Sprintf("Ошибка Ozon API (HTTP %d): %s", apiErr.Status, apiErr.Message)
			}
			return fmt.Sprintf("Ошибка Ozon API (HTTP %d)", apiErr.Status)
		}
	case errors.Is(err, ozon.ErrTimeout):
		return "Превышено время ожидания ответа от Ozon"
	case errors.Is(err, ozon.ErrUnreachable):
		return "Не удалось подключиться к Ozon"
	default:
		return "Не удалось проверить токены"
	}
}
