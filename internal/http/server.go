package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"ozonbot/internal/config"
	"ozonbot/internal/domain"
	"ozonbot/internal/integrations/ozon"
	"ozonbot/internal/metrics"
	"ozonbot/internal/service/analytics"
	"ozonbot/internal/service/credentials"
	"ozonbot/internal/service/jobs"
	"ozonbot/internal/service/sessions"
	"ozonbot/internal/service/settings"
	storepkg "ozonbot/internal/store"
	"ozonbot/internal/tracking"
)

type contextKey string

const (
	contextKeyAdminSubject contextKey = "admin_subject"
	contextKeyCaller       contextKey = "caller"
)

type Verifier interface {
	Verify(ctx context.Context, apiToken, clientID string) (bool, string)
}

type Emitter interface {
	Emit(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) domain.Event
}

// UpdateHandler consumes Telegram webhook updates.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

type Deps struct {
	Credentials *credentials.Service
	Sessions    *sessions.Manager
	Verifier    Verifier
	Analytics   *analytics.Service
	Settings    *settings.Service
	Costs       storepkg.CostStore
	EventLog    storepkg.EventLog
	Events      Emitter
	Jobs        *jobs.Runner
	Bot         UpdateHandler
	Tracker     tracking.Tracker
}

type Server struct {
	cfg    config.Config
	deps   Deps
	logger *zap.Logger

	webhooks sync.WaitGroup
}

func NewServer(cfg config.Config, deps Deps, logger *zap.Logger) *Server {
	if deps.Tracker == nil {
		deps.Tracker = tracking.Nop{}
	}
	return &Server{cfg: cfg, deps: deps, logger: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.Origins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Post("/webhook/{botToken}", s.handleWebhook)

	r.Route("/api/tokens", func(tokens chi.Router) {
		tokens.Post("/", s.handleIssueTokens)
		tokens.Get("/", s.handleSessionInfo)
		tokens.Delete("/", s.handleRevokeSession)
	})
	r.Route("/api/users/{telegramID}/tokens", func(user chi.Router) {
		user.Get("/", s.handleUserTokens)
		user.Post("/", s.handleSaveUserTokens)
		user.Delete("/", s.handleDeleteUserTokens)
	})
	r.Get("/telegram/user/{telegramID}/tokens", s.handleTelegramUserSession)

	r.Group(func(user chi.Router) {
		user.Use(s.requireCaller)
		user.Get("/products", s.handleProducts)
		user.Get("/products/costs", s.handleListCosts)
		user.Post("/products/costs", s.handleSaveCosts)
		user.Get("/analytics", s.handleAnalytics)
		user.Get("/finance/totals", s.handleFinanceTotals)
		user.Get("/notifications/settings", s.handleGetSettings)
		user.Post("/notifications/settings", s.handleSaveSettings)
		user.Post("/reports/send", s.handleSendReport)
	})

	r.Post("/admin/login", s.handleAdminLogin)
	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/admin/users", s.handleAdminUsers)
		protected.Get("/admin/events", s.handleListEvents)
		protected.Post("/jobs/{job}", s.handleRunJob)
	})

	return r
}

// Wait blocks until webhook updates accepted so far are processed.
func (s *Server) Wait() {
	s.webhooks.Wait()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "ozonbot", "status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebhook checks the path secret before reading the body and
// acknowledges every accepted request with 200; the update is handled in its
// own goroutine.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	got := chi.URLParam(r, "botToken")
	want := s.cfg.TelegramBotToken
	if want == "" || s.deps.Bot == nil || subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		// Telegram retries non-2xx responses; a malformed update would loop.
		s.logger.Warn("undecodable webhook update", zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	s.webhooks.Add(1)
	go func() {
		defer s.webhooks.Done()
		s.deps.Bot.HandleUpdate(context.WithoutCancel(r.Context()), update)
	}()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cfg.AdminPassword == "" || req.Username != s.cfg.AdminUsername || req.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	creds, err := s.deps.Credentials.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list credentials", err)
		return
	}
	users := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		users = append(users, viewCredential(c))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 20)
	events, err := s.deps.EventLog.ListEvents(r.Context(), limit)
	if err != nil {
		s.internalError(w, r, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Jobs.Run(r.Context(), chi.URLParam(r, "job"))
	if errors.Is(err, jobs.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "run job", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(12 * time.Hour)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().UTC().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.cfg.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid admin claims")
			return
		}
		sub, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		path := r.URL.Path
		if strings.HasPrefix(path, "/webhook/") {
			path = "/webhook/***"
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("handler panicked", zap.String("path", r.URL.Path), zap.Any("panic", rec))
				s.deps.Tracker.CapturePanic(rec, map[string]string{"component": "http", "route": r.URL.Path})
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.deps.Tracker.CaptureError(err, map[string]string{"component": "http", "op": op})
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeUpstreamError maps Ozon failures: 4xx pass through, 5xx become 502,
// timeouts 504.
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *ozon.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500:
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.Status)
		}
		writeError(w, apiErr.Status, msg)
	case errors.As(err, &apiErr):
		writeError(w, http.StatusBadGateway, apiErr.Error())
	case errors.Is(err, ozon.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "ozon did not answer in time")
	case errors.Is(err, ozon.ErrUnreachable):
		writeError(w, http.StatusBadGateway, "ozon is unreachable")
	default:
		s.internalError(w, r, "marketplace call", err)
	}
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func parseTelegramID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
