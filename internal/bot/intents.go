package bot

import (
	"strings"
	"unicode"
)

type Intent string

const (
	IntentStart        Intent = "start"
	IntentHelp         Intent = "help"
	IntentStatus       Intent = "status"
	IntentSetToken     Intent = "set_token"
	IntentDeleteTokens Intent = "delete_tokens"
	IntentCancel       Intent = "cancel"
	IntentText         Intent = "text"
)

// Reply keyboard labels, in display order.
const (
	LabelSetToken     = "🔑 Установить токены"
	LabelStatus       = "📊 Статус"
	LabelDeleteTokens = "🗑 Удалить токены"
	LabelHelp         = "❓ Помощь"
	LabelCancel       = "❌ Отмена"
)

var KeyboardRows = [][]string{
	{LabelSetToken, LabelStatus},
	{LabelDeleteTokens, LabelHelp},
	{LabelCancel},
}

// intents is the only place where user input is mapped to an intent.
// Keys are normalized with normalizeIntentKey.
var intents = map[string]Intent{
	"/start":         IntentStart,
	"/help":          IntentHelp,
	"/status":        IntentStatus,
	"/set_token":     IntentSetToken,
	"/settoken":      IntentSetToken,
	"/delete_tokens": IntentDeleteTokens,
	"/cancel":        IntentCancel,

	normalizeIntentKey(LabelSetToken):     IntentSetToken,
	normalizeIntentKey(LabelStatus):       IntentStatus,
	normalizeIntentKey(LabelDeleteTokens): IntentDeleteTokens,
	normalizeIntentKey(LabelHelp):         IntentHelp,
	normalizeIntentKey(LabelCancel):       IntentCancel,

	"старт":    IntentStart,
	"начать":   IntentStart,
	"помощь":   IntentHelp,
	"справка":  IntentHelp,
	"статус":   IntentStatus,
	"отмена":   IntentCancel,
	"отменить": IntentCancel,
	"help":     IntentHelp,
	"status":   IntentStatus,
	"cancel":   IntentCancel,
}

// Parse maps a message to an intent. Slash commands may carry a @botname
// suffix and trailing arguments, which are returned as args.
func Parse(text string) (Intent, []string) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		fields := strings.Fields(trimmed)
		cmd := fields[0]
		if at := strings.IndexByte(cmd, '@'); at > 0 {
			cmd = cmd[:at]
		}
		if intent, ok := intents[strings.ToLower(cmd)]; ok {
			return intent, fields[1:]
		}
		return IntentText, nil
	}
	if intent, ok := intents[normalizeIntentKey(trimmed)]; ok {
		return intent, nil
	}
	return IntentText, nil
}

// normalizeIntentKey lowercases and drops emoji and punctuation so that
// "🗑 Удалить токены" and "удалить токены" match the same entry.
func normalizeIntentKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

const quoteChars = "\"'`«»“”„"

// NormalizeToken strips surrounding whitespace and quotes.
func NormalizeToken(s string) string {
	return strings.Trim(strings.TrimSpace(s), quoteChars+" \t\r\n")
}

// NormalizeClientID keeps only the digits of s.
func NormalizeClientID(s string) string {
	var b strings.Builder
	for _, r := range NormalizeToken(s) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
