package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"ozonbot/internal/domain"
	"ozonbot/internal/service/analytics"
	"ozonbot/internal/service/sessions"
	"ozonbot/internal/service/settings"
	storepkg "ozonbot/internal/store"
)

// caller is the authenticated user of a marketplace endpoint. TelegramID is
// nil for frontend sessions that were never bound to a bot user.
type caller struct {
	cred        domain.Credential
	telegramID  *int64
	sessionHash string
}

func (c caller) costOwner() string {
	return storepkg.CostOwner(c.telegramID, c.sessionHash)
}

// requireCaller accepts an X-API-Key session key or a telegram_id query
// parameter. Neither is 401, an unknown key is 401, a telegram id without
// stored tokens is 404.
func (s *Server) requireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c caller
		if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
			cred, session, err := s.deps.Sessions.Resolve(r.Context(), key)
			if errors.Is(err, sessions.ErrUnknownKey) {
				writeError(w, http.StatusUnauthorized, "invalid or expired api key")
				return
			}
			if err != nil {
				s.internalError(w, r, "resolve session", err)
				return
			}
			if session.TelegramID != nil {
				s.deps.Credentials.Touch(*session.TelegramID)
			}
			c = caller{cred: cred, telegramID: session.TelegramID, sessionHash: session.KeyHash}
		} else if raw := r.URL.Query().Get("telegram_id"); raw != "" {
			id, ok := parseTelegramID(raw)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid telegram_id")
				return
			}
			cred, found, err := s.deps.Credentials.Use(r.Context(), id)
			if err != nil {
				s.internalError(w, r, "get credentials", err)
				return
			}
			if !found {
				writeError(w, http.StatusNotFound, "tokens not set for this telegram user")
				return
			}
			c = caller{cred: cred, telegramID: &id}
		} else {
			writeError(w, http.StatusUnauthorized, "X-API-Key header or telegram_id is required")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFromContext(ctx context.Context) caller {
	c, _ := ctx.Value(contextKeyCaller).(caller)
	return c
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	c := callerFromContext(r.Context())
	products, err := s.deps.Analytics.Products(r.Context(), c.cred)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result": map[string]interface{}{"items": products},
		"demo":   s.deps.Analytics.IsDemo(c.cred),
	})
}

type analyticsResponse struct {
	domain.Summary
	TotalProducts  int     `json:"total_products"`
	ActiveProducts int     `json:"active_products"`
	AverageOrder   float64 `json:"average_order"`
	Demo           bool    `json:"demo"`
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := callerFromContext(r.Context())
	summary, err := s.deps.Analytics.Summary(r.Context(), c.cred, c.costOwner(), period)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	resp := analyticsResponse{
		Summary:       summary,
		TotalProducts: len(summary.Products),
		Demo:          s.deps.Analytics.IsDemo(c.cred),
	}
	for _, p := range summary.Products {
		if p.Units > 0 {
			resp.ActiveProducts++
		}
	}
	if summary.Units > 0 {
		resp.AverageOrder = float64(int64(summary.Revenue/float64(summary.Units)*100)) / 100
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFinanceTotals(w http.ResponseWriter, r *http.Request) {
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := callerFromContext(r.Context())
	totals, err := s.deps.Analytics.Finance(r.Context(), c.cred, period)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	c := callerFromContext(r.Context())
	costs, err := s.deps.Costs.ListCosts(r.Context(), c.costOwner())
	if err != nil {
		s.internalError(w, r, "list costs", err)
		return
	}
	if costs == nil {
		costs = []domain.ProductCost{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"costs": costs})
}

func (s *Server) handleSaveCosts(w http.ResponseWriter, r *http.Request) {
	var costs []domain.ProductCost
	if err := decodeJSON(r, &costs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	type costKey struct {
		productID int64
		offerID   string
	}
	seen := make(map[costKey]bool, len(costs))
	for _, cost := range costs {
		k := costKey{cost.ProductID, strings.TrimSpace(cost.OfferID)}
		if seen[k] {
			writeError(w, http.StatusBadRequest, "duplicate cost entry for product_id/offer_id")
			return
		}
		seen[k] = true
		if cost.ProductID == 0 && strings.TrimSpace(cost.OfferID) == "" {
			writeError(w, http.StatusBadRequest, "each cost needs product_id or offer_id")
			return
		}
		if cost.Cost < 0 {
			writeError(w, http.StatusBadRequest, "cost must not be negative")
			return
		}
	}
	c := callerFromContext(r.Context())
	if err := s.deps.Costs.ReplaceCosts(r.Context(), c.costOwner(), costs); err != nil {
		s.internalError(w, r, "save costs", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Себестоимость товаров сохранена",
		"count":   len(costs),
	})
}

// telegramCaller rejects sessions without a bot user; settings and reports
// are keyed by telegram id.
func telegramCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c := callerFromContext(r.Context())
	if c.telegramID == nil {
		writeError(w, http.StatusBadRequest, "this api key is not linked to a telegram user")
		return caller{}, false
	}
	return c, true
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	c, ok := telegramCaller(w, r)
	if !ok {
		return
	}
	current, err := s.deps.Settings.Get(r.Context(), *c.telegramID)
	if err != nil {
		s.internalError(w, r, "get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	c, ok := telegramCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		MarginThreshold float64 `json:"margin_threshold"`
		ROIThreshold    float64 `json:"roi_threshold"`
		DailyReport     bool    `json:"daily_report"`
		SalesAlerts     bool    `json:"sales_alerts"`
		ReturnsAlerts   bool    `json:"returns_alerts"`
		ChatID          int64   `json:"chat_id,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved, err := s.deps.Settings.Save(r.Context(), domain.NotificationSettings{
		TelegramID:      *c.telegramID,
		ChatID:          req.ChatID,
		MarginThreshold: req.MarginThreshold,
		ROIThreshold:    req.ROIThreshold,
		DailyReport:     req.DailyReport,
		SalesAlerts:     req.SalesAlerts,
		ReturnsAlerts:   req.ReturnsAlerts,
	})
	if errors.Is(err, settings.ErrInvalid) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.internalError(w, r, "save settings", err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleSendReport(w http.ResponseWriter, r *http.Request) {
	c, ok := telegramCaller(w, r)
	if !ok {
		return
	}
	period, err := analytics.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	current, err := s.deps.Settings.Get(r.Context(), *c.telegramID)
	if err != nil {
		s.internalError(w, r, "get settings", err)
		return
	}
	cred := c.cred
	cred.TelegramID = *c.telegramID
	text, err := s.deps.Jobs.SendReport(r.Context(), cred, current.ChatID, period)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":    true,
		"chat_id": current.ChatID,
		"report":  text,
	})
}
