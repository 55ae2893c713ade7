package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookURL is the public address Telegram posts updates to. The bot token
// is the path secret checked by the HTTP server.
func WebhookURL(publicBaseURL, botToken string) string {
	return strings.TrimRight(publicBaseURL, "/") + "/webhook/" + botToken
}

func SetWebhook(api *tgbotapi.BotAPI, publicBaseURL string) error {
	cfg, err := tgbotapi.NewWebhook(WebhookURL(publicBaseURL, api.Token))
	if err != nil {
		return fmt.Errorf("webhook config: %w", err)
	}
	cfg.MaxConnections = 40
	cfg.AllowedUpdates = []string{"message"}
	if _, err := api.Request(cfg); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to long polling.
func DeleteWebhook(api *tgbotapi.BotAPI) error {
	if _, err := api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
