package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ozonbot/internal/bot"
	"ozonbot/internal/domain"
	"ozonbot/internal/service/credentials"
	"ozonbot/internal/service/sessions"
)

type credentialView struct {
	TelegramID int64      `json:"telegram_id"`
	Username   string     `json:"username,omitempty"`
	ClientID   string     `json:"client_id"`
	Demo       bool       `json:"demo"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func viewCredential(c domain.Credential) credentialView {
	return credentialView{
		TelegramID: c.TelegramID,
		Username:   c.Username,
		ClientID:   credentials.MaskClientID(c.ClientID),
		Demo:       c.IsPlaceholder(),
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
		LastUsedAt: c.LastUsedAt,
	}
}

type tokensRequest struct {
	APIToken   string `json:"ozon_api_token"`
	ClientID   string `json:"ozon_client_id"`
	TelegramID *int64 `json:"telegram_id,omitempty"`
	Username   string `json:"username,omitempty"`
}

func (req *tokensRequest) normalize() error {
	req.APIToken = bot.NormalizeToken(req.APIToken)
	req.ClientID = bot.NormalizeClientID(req.ClientID)
	if req.APIToken == "" || req.ClientID == "" {
		return errors.New("ozon_api_token and a numeric ozon_client_id are required")
	}
	return nil
}

// handleIssueTokens verifies the pair, optionally binds it to a Telegram
// user, and hands out an API key for the frontend.
func (s *Server) handleIssueTokens(w http.ResponseWriter, r *http.Request) {
	var req tokensRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok, msg := s.deps.Verifier.Verify(r.Context(), req.APIToken, req.ClientID); !ok {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if req.TelegramID != nil {
		if err := s.saveCredential(r, *req.TelegramID, req.Username, req.APIToken, req.ClientID); err != nil {
			s.internalError(w, r, "save credentials", err)
			return
		}
	}
	key, session, err := s.deps.Sessions.Issue(r.Context(), req.APIToken, req.ClientID, req.TelegramID)
	if err != nil {
		s.internalError(w, r, "issue session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_key":    key,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
		"message":    "Токены успешно сохранены",
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	cred, session, err := s.deps.Sessions.Resolve(r.Context(), r.Header.Get("X-API-Key"))
	if errors.Is(err, sessions.ErrUnknownKey) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "resolve session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"client_id":   credentials.MaskClientID(cred.ClientID),
		"telegram_id": session.TelegramID,
		"demo":        cred.IsPlaceholder(),
		"created_at":  session.CreatedAt.Format(time.RFC3339),
		"expires_at":  session.ExpiresAt.Format(time.RFC3339),
	})
}

func (s *Server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if key == "" {
		writeError(w, http.StatusUnauthorized, "missing X-API-Key")
		return
	}
	err := s.deps.Sessions.Revoke(r.Context(), key)
	if errors.Is(err, sessions.ErrUnknownKey) {
		writeError(w, http.StatusNotFound, "Пользователь не найден")
		return
	}
	if err != nil {
		s.internalError(w, r, "revoke session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Токены успешно удалены"})
}

func (s *Server) handleUserTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTelegramID(chi.URLParam(r, "telegramID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid telegram id")
		return
	}
	cred, found, err := s.deps.Credentials.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "get credentials", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "tokens not set")
		return
	}
	writeJSON(w, http.StatusOK, viewCredential(cred))
}

func (s *Server) handleSaveUserTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTelegramID(chi.URLParam(r, "telegramID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid telegram id")
		return
	}
	var req tokensRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.normalize(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ok, msg := s.deps.Verifier.Verify(r.Context(), req.APIToken, req.ClientID); !ok {
		s.deps.Events.Emit(r.Context(), domain.EventVerificationFailed, id, map[string]interface{}{"reason": msg, "source": "http"})
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}
	if err := s.saveCredential(r, id, req.Username, req.APIToken, req.ClientID); err != nil {
		s.internalError(w, r, "save credentials", err)
		return
	}
	cred, _, err := s.deps.Credentials.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "get credentials", err)
		return
	}
	writeJSON(w, http.StatusOK, viewCredential(cred))
}

func (s *Server) handleDeleteUserTokens(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTelegramID(chi.URLParam(r, "telegramID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid telegram id")
		return
	}
	if err := s.deps.Credentials.Delete(r.Context(), id); err != nil {
		s.internalError(w, r, "delete credentials", err)
		return
	}
	s.deps.Events.Emit(r.Context(), domain.EventCredentialsDeleted, id, map[string]interface{}{"source": "http"})
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// handleTelegramUserSession exchanges a stored bot credential for an API key.
func (s *Server) handleTelegramUserSession(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTelegramID(chi.URLParam(r, "telegramID"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid telegram id")
		return
	}
	cred, found, err := s.deps.Credentials.Get(r.Context(), id)
	if err != nil {
		s.internalError(w, r, "get credentials", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Пользователь не найден или не установлены API токены")
		return
	}
	key, session, err := s.deps.Sessions.Issue(r.Context(), cred.APIToken, cred.ClientID, &id)
	if err != nil {
		s.internalError(w, r, "issue session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"api_key":    key,
		"expires_at": session.ExpiresAt.Format(time.RFC3339),
		"tokens":     viewCredential(cred),
	})
}

func (s *Server) saveCredential(r *http.Request, telegramID int64, username, apiToken, clientID string) error {
	if err := s.deps.Credentials.Save(r.Context(), telegramID, username, apiToken, clientID); err != nil {
		return err
	}
	s.deps.Events.Emit(r.Context(), domain.EventCredentialsSaved, telegramID, map[string]interface{}{
		"client_id": credentials.MaskClientID(clientID),
		"source":    "http",
	})
	s.logger.Info("credentials saved", zap.Int64("telegram_id", telegramID))
	return nil
}
