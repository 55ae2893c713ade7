package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"ozonbot/internal/bot"
	"ozonbot/internal/bot/dialogue"
	"ozonbot/internal/config"
	"ozonbot/internal/integrations/events"
	"ozonbot/internal/integrations/ozon"
	"ozonbot/internal/integrations/telegram"
	"ozonbot/internal/security/secretbox"
	"ozonbot/internal/service/analytics"
	"ozonbot/internal/service/credentials"
	"ozonbot/internal/service/jobs"
	"ozonbot/internal/service/sessions"
	"ozonbot/internal/service/settings"
	"ozonbot/internal/service/verifier"
	"ozonbot/internal/store/memory"
)

const (
	validKey  = "valid-key-12345"
	flakyKey  = "flaky-key-12345"
	clientID  = "9876543"
	botToken  = "123:secret"
	adminUser = "admin"
	adminPass = "pw"
)

// fakeOzon accepts validKey and flakyKey; flakyKey fails every data call
// with a 500.
func fakeOzon(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Api-Key")
		if key != validKey && key != flakyKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":16,"message":"Invalid Api-Key, please contact support"}`))
			return
		}
		if key == flakyKey && r.URL.Path != "/v1/description-category/tree" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":13,"message":"internal"}`))
			return
		}
		switch r.URL.Path {
		case "/v1/description-category/tree":
			_, _ = w.Write([]byte(`{"result":[]}`))
		case "/v3/product/list":
			_, _ = w.Write([]byte(`{"result":{"items":[{"product_id":1,"offer_id":"SKU-1"}],"total":1,"last_id":""}}`))
		case "/v3/product/info/list":
			_, _ = w.Write([]byte(`{"items":[{"id":1,"name":"Чайник","offer_id":"SKU-1","price":"1990.00","primary_image":["https://img/1.jpg"]}]}`))
		case "/v1/analytics/data":
			_, _ = w.Write([]byte(`{"result":{"data":[{"dimensions":[{"id":"1","name":"Чайник"}],"metrics":[19900,10]}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

type captureSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (s *captureSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (s *captureSender) messages() []tgbotapi.MessageConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), s.sent...)
}

type testAPI struct {
	url    string
	server *Server
	sender *captureSender
	creds  *credentials.Service
	client *http.Client
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	upstream := fakeOzon(t)
	t.Cleanup(upstream.Close)

	cfg := config.Config{
		TelegramBotToken:      botToken,
		FrontendOrigins:       "*",
		SessionTTL:            time.Hour,
		MarketplaceFeePercent: 15,
		AdminUsername:         adminUser,
		AdminPassword:         adminPass,
		JWTSecret:             "jwt-secret",
	}
	logger := zap.NewNop()
	key, err := secretbox.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := secretbox.New(key)
	if err != nil {
		t.Fatalf("secretbox: %v", err)
	}

	st := memory.NewStore()
	creds := credentials.NewService(st, box, logger)
	t.Cleanup(creds.Wait)
	client := ozon.NewClient(upstream.URL, 2*time.Second, 0)
	verify := verifier.New(client, logger)
	recorder := events.NewRecorder(st, events.Nop{}, time.Second, logger)
	analyticsSvc := analytics.NewService(analytics.NewLive(client, logger), st, cfg.MarketplaceFeePercent, false, logger)
	settingsSvc := settings.NewService(st)

	sender := &captureSender{}
	notifier := telegram.NewNotifier(sender, "", bot.Keyboard(), logger)
	runner := jobs.NewRunner(jobs.Deps{
		Credentials: creds,
		Verifier:    verify,
		Analytics:   analyticsSvc,
		Settings:    settingsSvc,
		Snapshots:   memory.NewSnapshotStore(10),
		Notifier:    notifier,
		Events:      recorder,
	}, logger)
	machine := bot.NewMachine(verify, creds, dialogue.NewMemoryStore(time.Hour), recorder, logger)

	srv := NewServer(cfg, Deps{
		Credentials: creds,
		Sessions:    sessions.NewManager(st, creds, box, cfg.SessionTTL),
		Verifier:    verify,
		Analytics:   analyticsSvc,
		Settings:    settingsSvc,
		Costs:       st,
		EventLog:    st,
		Events:      recorder,
		Jobs:        runner,
		Bot:         bot.NewAdapter(machine, sender, nil, logger),
	}, logger)
	api := httptest.NewServer(srv.Router())
	t.Cleanup(api.Close)

	return &testAPI{url: api.URL, server: srv, sender: sender, creds: creds, client: &http.Client{Timeout: 5 * time.Second}}
}

func TestE2E_TokensProductsAnalyticsFlow(t *testing.T) {
	api := newTestAPI(t)

	issued := api.mustDo(t, http.MethodPost, "/api/tokens", map[string]interface{}{
		"ozon_api_token": validKey,
		"ozon_client_id": clientID,
		"telegram_id":    42,
		"username":       "seller",
	}, nil, http.StatusOK)
	apiKey := strField(t, issued, "api_key")
	if apiKey == "" {
		t.Fatalf("expected api_key, got %#v", issued)
	}
	auth := map[string]string{"X-API-Key": apiKey}

	products := api.mustDo(t, http.MethodGet, "/products", nil, auth, http.StatusOK)
	items := products["result"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["name"] != "Чайник" {
		t.Fatalf("unexpected products %#v", products)
	}
	if boolField(products, "demo") {
		t.Fatalf("live credentials must not be served fixtures")
	}

	api.mustDo(t, http.MethodPost, "/products/costs", []map[string]interface{}{
		{"product_id": 1, "offer_id": "SKU-1", "cost": 500},
	}, auth, http.StatusOK)
	api.mustDo(t, http.MethodPost, "/products/costs", []map[string]interface{}{
		{"product_id": 1, "offer_id": "SKU-1", "cost": 500},
		{"product_id": 1, "offer_id": "SKU-1", "cost": 600},
	}, auth, http.StatusBadRequest)
	costs := api.mustDo(t, http.MethodGet, "/products/costs", nil, auth, http.StatusOK)
	if len(costs["costs"].([]interface{})) != 1 {
		t.Fatalf("unexpected costs %#v", costs)
	}

	summary := api.mustDo(t, http.MethodGet, "/analytics?period=week", nil, auth, http.StatusOK)
	if v, _ := numField(summary, "sales"); v != 19900 {
		t.Fatalf("expected sales 19900, got %#v", summary)
	}
	if v, _ := numField(summary, "cost_of_goods"); v != 5000 {
		t.Fatalf("expected cost_of_goods 5000, got %#v", summary)
	}
	if v, _ := numField(summary, "profit"); v != 11915 {
		t.Fatalf("expected profit 11915, got %#v", summary)
	}
	if strField(t, summary, "period") != "week" {
		t.Fatalf("expected week period, got %#v", summary)
	}

	// The same credential is reachable through the bot user, and keyed
	// calls above refreshed its last use.
	api.creds.Wait()
	byUser := api.mustDo(t, http.MethodGet, "/api/users/42/tokens", nil, nil, http.StatusOK)
	if strField(t, byUser, "client_id") != "****6543" {
		t.Fatalf("expected masked client id, got %#v", byUser)
	}
	if _, ok := byUser["last_used_at"].(string); !ok {
		t.Fatalf("expected last_used_at after keyed calls, got %#v", byUser)
	}
	api.mustDo(t, http.MethodGet, "/products?telegram_id=42", nil, nil, http.StatusOK)

	api.mustDo(t, http.MethodDelete, "/api/tokens", nil, auth, http.StatusOK)
	api.mustDo(t, http.MethodGet, "/products", nil, auth, http.StatusUnauthorized)
	api.mustDo(t, http.MethodDelete, "/api/tokens", nil, auth, http.StatusNotFound)
}

func TestE2E_DeletedCredentialsRevokeBoundKeys(t *testing.T) {
	api := newTestAPI(t)

	issued := api.mustDo(t, http.MethodPost, "/api/tokens", map[string]interface{}{
		"ozon_api_token": validKey,
		"ozon_client_id": clientID,
		"telegram_id":    42,
	}, nil, http.StatusOK)
	auth := map[string]string{"X-API-Key": strField(t, issued, "api_key")}
	api.mustDo(t, http.MethodGet, "/products", nil, auth, http.StatusOK)

	api.mustDo(t, http.MethodDelete, "/api/users/42/tokens", nil, nil, http.StatusOK)
	api.mustDo(t, http.MethodGet, "/api/users/42/tokens", nil, nil, http.StatusNotFound)
	api.mustDo(t, http.MethodGet, "/products", nil, auth, http.StatusUnauthorized)
	api.mustDo(t, http.MethodGet, "/api/tokens", nil, auth, http.StatusUnauthorized)
}

func TestE2E_CallerAuthentication(t *testing.T) {
	api := newTestAPI(t)

	api.mustDo(t, http.MethodGet, "/products", nil, nil, http.StatusUnauthorized)
	api.mustDo(t, http.MethodGet, "/products", nil, map[string]string{"X-API-Key": "nope"}, http.StatusUnauthorized)
	api.mustDo(t, http.MethodGet, "/analytics?telegram_id=999", nil, nil, http.StatusNotFound)
	api.mustDo(t, http.MethodGet, "/products?telegram_id=abc", nil, nil, http.StatusBadRequest)
}

func TestE2E_FailedVerificationPersistsNothing(t *testing.T) {
	api := newTestAPI(t)

	resp := api.mustDo(t, http.MethodPost, "/api/tokens", map[string]interface{}{
		"ozon_api_token": "wrong-key-123456",
		"ozon_client_id": clientID,
		"telegram_id":    7,
	}, nil, http.StatusUnprocessableEntity)
	if strField(t, resp, "error") != "Неверный API ключ или Client ID" {
		t.Fatalf("unexpected error body %#v", resp)
	}
	api.mustDo(t, http.MethodGet, "/api/users/7/tokens", nil, nil, http.StatusNotFound)
	api.mustDo(t, http.MethodPost, "/api/users/7/tokens", map[string]interface{}{
		"ozon_api_token": "wrong-key-123456",
		"ozon_client_id": clientID,
	}, nil, http.StatusUnprocessableEntity)
	api.mustDo(t, http.MethodGet, "/api/users/7/tokens", nil, nil, http.StatusNotFound)
}

func TestE2E_UpstreamFailureIsNotMaskedAsFixtures(t *testing.T) {
	api := newTestAPI(t)

	api.mustDo(t, http.MethodPost, "/api/users/8/tokens", map[string]interface{}{
		"ozon_api_token": flakyKey,
		"ozon_client_id": clientID,
	}, nil, http.StatusOK)
	api.mustDo(t, http.MethodGet, "/products?telegram_id=8", nil, nil, http.StatusBadGateway)
	api.mustDo(t, http.MethodGet, "/analytics?telegram_id=8", nil, nil, http.StatusBadGateway)
	api.mustDo(t, http.MethodGet, "/analytics?telegram_id=8&period=decade", nil, nil, http.StatusBadRequest)
}

func TestE2E_PlaceholderCredentialsGetFixtures(t *testing.T) {
	api := newTestAPI(t)

	issued := api.mustDo(t, http.MethodPost, "/api/tokens", map[string]interface{}{
		"ozon_api_token": "test-token-123",
		"ozon_client_id": "123",
	}, nil, http.StatusOK)
	auth := map[string]string{"X-API-Key": strField(t, issued, "api_key")}

	products := api.mustDo(t, http.MethodGet, "/products", nil, auth, http.StatusOK)
	items := products["result"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 3 || !boolField(products, "demo") {
		t.Fatalf("expected demo catalogue, got %#v", products)
	}
	finance := api.mustDo(t, http.MethodGet, "/finance/totals", nil, auth, http.StatusOK)
	if v, _ := numField(finance, "accruals_for_sale"); v != 24500 {
		t.Fatalf("unexpected finance totals %#v", finance)
	}
	// Out-of-band sessions have no bot user to keep settings for.
	api.mustDo(t, http.MethodGet, "/notifications/settings", nil, auth, http.StatusBadRequest)
}

func TestE2E_NotificationSettingsAndReport(t *testing.T) {
	api := newTestAPI(t)
	api.mustDo(t, http.MethodPost, "/api/users/42/tokens", map[string]interface{}{
		"ozon_api_token": "demo-token-123",
		"ozon_client_id": "42",
	}, nil, http.StatusOK)

	defaults := api.mustDo(t, http.MethodGet, "/notifications/settings?telegram_id=42", nil, nil, http.StatusOK)
	if v, _ := numField(defaults, "margin_threshold"); v != 15 {
		t.Fatalf("expected default margin threshold, got %#v", defaults)
	}
	api.mustDo(t, http.MethodPost, "/notifications/settings?telegram_id=42", map[string]interface{}{
		"margin_threshold": 25,
		"roi_threshold":    40,
		"daily_report":     true,
		"sales_alerts":     false,
		"returns_alerts":   false,
	}, nil, http.StatusOK)
	updated := api.mustDo(t, http.MethodGet, "/notifications/settings?telegram_id=42", nil, nil, http.StatusOK)
	if v, _ := numField(updated, "margin_threshold"); v != 25 {
		t.Fatalf("expected saved threshold, got %#v", updated)
	}

	report := api.mustDo(t, http.MethodPost, "/reports/send?telegram_id=42", nil, nil, http.StatusOK)
	if !boolField(report, "sent") {
		t.Fatalf("expected report to be sent, got %#v", report)
	}
	msgs := api.sender.messages()
	if len(msgs) != 1 || msgs[0].ChatID != 42 {
		t.Fatalf("expected one report to chat 42, got %#v", msgs)
	}
}

func TestE2E_WebhookAcksMalformedUpdates(t *testing.T) {
	api := newTestAPI(t)

	resp, err := api.client.Post(api.url+"/webhook/"+botToken, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for an accepted webhook, got %d", resp.StatusCode)
	}
	api.server.Wait()
	if msgs := api.sender.messages(); len(msgs) != 0 {
		t.Fatalf("malformed update must not reach the bot, got %#v", msgs)
	}
}

func TestE2E_WebhookDrivesTheBot(t *testing.T) {
	api := newTestAPI(t)

	api.mustDo(t, http.MethodPost, "/webhook/wrong-token", map[string]interface{}{"update_id": 1}, nil, http.StatusNotFound)

	update := map[string]interface{}{
		"update_id": 2,
		"message": map[string]interface{}{
			"message_id": 10,
			"date":       1700000000,
			"from":       map[string]interface{}{"id": 55, "is_bot": false, "first_name": "Ann", "username": "ann"},
			"chat":       map[string]interface{}{"id": 55, "type": "private"},
			"text":       "/set_token " + validKey + " " + clientID,
		},
	}
	ack := api.mustDo(t, http.MethodPost, "/webhook/"+botToken, update, nil, http.StatusOK)
	if !boolField(ack, "ok") {
		t.Fatalf("expected ack, got %#v", ack)
	}
	api.server.Wait()

	msgs := api.sender.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected one bot reply, got %d", len(msgs))
	}
	if _, ok := msgs[0].ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup); !ok {
		t.Fatalf("expected reply keyboard on bot message")
	}
	api.mustDo(t, http.MethodGet, "/api/users/55/tokens", nil, nil, http.StatusOK)

	session := api.mustDo(t, http.MethodGet, "/telegram/user/55/tokens", nil, nil, http.StatusOK)
	auth := map[string]string{"X-API-Key": strField(t, session, "api_key")}
	api.mustDo(t, http.MethodGet, "/notifications/settings", nil, auth, http.StatusOK)
}

func TestE2E_AdminJobsAndEvents(t *testing.T) {
	api := newTestAPI(t)
	api.mustDo(t, http.MethodPost, "/api/users/42/tokens", map[string]interface{}{
		"ozon_api_token": validKey,
		"ozon_client_id": clientID,
	}, nil, http.StatusOK)

	api.mustDo(t, http.MethodPost, "/jobs/refresh", nil, nil, http.StatusUnauthorized)

	login := api.mustDo(t, http.MethodPost, "/admin/login", map[string]string{
		"username": adminUser,
		"password": adminPass,
	}, nil, http.StatusOK)
	bearer := map[string]string{"Authorization": "Bearer " + strField(t, login, "token")}

	res := api.mustDo(t, http.MethodPost, "/jobs/refresh", nil, bearer, http.StatusOK)
	if v, _ := numField(res, "processed"); v != 1 {
		t.Fatalf("expected one processed user, got %#v", res)
	}
	if v, _ := numField(res, "failed"); v != 0 {
		t.Fatalf("expected no failures, got %#v", res)
	}
	api.mustDo(t, http.MethodPost, "/jobs/nightly", nil, bearer, http.StatusNotFound)

	users := api.mustDo(t, http.MethodGet, "/admin/users", nil, bearer, http.StatusOK)
	if v, _ := numField(users, "count"); v != 1 {
		t.Fatalf("expected one user, got %#v", users)
	}
	evts := api.mustDo(t, http.MethodGet, "/admin/events?limit=5", nil, bearer, http.StatusOK)
	if v, _ := numField(evts, "count"); v < 1 {
		t.Fatalf("expected events, got %#v", evts)
	}
}

func (a *testAPI) mustDo(t *testing.T, method, path string, body interface{}, headers map[string]string, wantStatus int) map[string]interface{} {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.url+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: status=%d want=%d body=%#v", method, path, resp.StatusCode, wantStatus, out)
	}
	return out
}

func strField(t *testing.T, m map[string]interface{}, key string) string {
	t.Helper()
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	v, ok := m[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func numField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}
