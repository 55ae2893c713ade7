package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/metrics"
	"ozonbot/internal/service/analytics"
	"ozonbot/internal/service/thresholds"
	"ozonbot/internal/store"
	"ozonbot/internal/tracking"
)

const (
	JobRefresh         = "refresh"
	JobDailyReports    = "daily-reports"
	JobCheckThresholds = "check-thresholds"
)

var ErrUnknownJob = errors.New("unknown job")

type Credentials interface {
	List(ctx context.Context) ([]domain.Credential, error)
}

type Verifier interface {
	Verify(ctx context.Context, apiToken, clientID string) (bool, string)
}

type Analytics interface {
	Summary(ctx context.Context, cred domain.Credential, owner string, period analytics.Period) (domain.Summary, error)
}

type Settings interface {
	Get(ctx context.Context, telegramID int64) (domain.NotificationSettings, error)
}

type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
	NotifyAdmin(ctx context.Context, text string) error
}

type Emitter interface {
	Emit(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) domain.Event
}

type Deps struct {
	Credentials Credentials
	Verifier    Verifier
	Analytics   Analytics
	Settings    Settings
	Snapshots   store.SnapshotStore
	Thresholds  *thresholds.Engine
	Notifier    Notifier
	Events      Emitter
	Tracker     tracking.Tracker
}

type Result struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// Runner executes the batch jobs. Every job walks all stored credentials;
// one user's failure is logged and counted, never fatal for the batch.
type Runner struct {
	deps       Deps
	logger     *zap.Logger
	userBudget time.Duration
	now        func() time.Time
}

func NewRunner(deps Deps, logger *zap.Logger) *Runner {
	if deps.Tracker == nil {
		deps.Tracker = tracking.Nop{}
	}
	if deps.Thresholds == nil {
		deps.Thresholds = thresholds.NewEngine(5)
	}
	return &Runner{deps: deps, logger: logger, userBudget: 60 * time.Second, now: time.Now}
}

// Run dispatches by job name, as used by cmd/jobs and the HTTP triggers.
func (r *Runner) Run(ctx context.Context, job string) (Result, error) {
	switch job {
	case JobRefresh:
		return r.RefreshAll(ctx)
	case JobDailyReports:
		return r.SendDailyReports(ctx)
	case JobCheckThresholds:
		return r.CheckThresholds(ctx)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
}

func (r *Runner) RefreshAll(ctx context.Context) (Result, error) {
	return r.each(ctx, JobRefresh, r.refreshOne)
}

func (r *Runner) SendDailyReports(ctx context.Context) (Result, error) {
	return r.each(ctx, JobDailyReports, r.reportOne)
}

func (r *Runner) CheckThresholds(ctx context.Context) (Result, error) {
	return r.each(ctx, JobCheckThresholds, r.thresholdsOne)
}

func (r *Runner) each(ctx context.Context, job string, fn func(context.Context, domain.Credential) error) (Result, error) {
	started := time.Now()
	log := r.logger.With(zap.String("job", job))
	creds, err := r.deps.Credentials.List(ctx)
	if err != nil {
		metrics.RecordJob(job, time.Since(started), 1)
		return Result{Job: job}, fmt.Errorf("list credentials: %w", err)
	}

	res := Result{Job: job}
	for _, cred := range creds {
		if err := ctx.Err(); err != nil {
			log.Warn("job interrupted", zap.Int("processed", res.Processed), zap.Error(err))
			break
		}
		res.Processed++
		if err := r.safely(ctx, cred, fn); err != nil {
			res.Failed++
			log.Warn("user step failed", zap.Int64("telegram_id", cred.TelegramID), zap.Error(err))
		}
	}
	res.Duration = time.Since(started)
	metrics.RecordJob(job, res.Duration, res.Failed)
	log.Info("job finished",
		zap.Int("processed", res.Processed),
		zap.Int("failed", res.Failed),
		zap.Duration("duration", res.Duration),
	)
	if res.Processed > 0 {
		summary := fmt.Sprintf("Задача %s: обработано %d, ошибок %d", job, res.Processed, res.Failed)
		if err := r.deps.Notifier.NotifyAdmin(ctx, summary); err != nil {
			log.Warn("admin notification failed", zap.Error(err))
		}
	}
	return res, nil
}

func (r *Runner) safely(ctx context.Context, cred domain.Credential, fn func(context.Context, domain.Credential) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.userBudget)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			r.deps.Tracker.CapturePanic(rec, map[string]string{"component": "jobs"})
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx, cred)
}

func owner(cred domain.Credential) string {
	id := cred.TelegramID
	return store.CostOwner(&id, "")
}

func (r *Runner) refreshOne(ctx context.Context, cred domain.Credential) error {
	ok, msg := r.deps.Verifier.Verify(ctx, cred.APIToken, cred.ClientID)
	if !ok {
		r.deps.Events.Emit(ctx, domain.EventVerificationFailed, cred.TelegramID, map[string]interface{}{
			"reason": msg,
			"source": JobRefresh,
		})
		text := "❌ Не удалось обновить данные: токены Ozon больше не проходят проверку (" + msg + "). Обновите их командой /set_token."
		if err := r.deps.Notifier.Notify(ctx, cred.TelegramID, text); err != nil {
			r.logger.Warn("notify invalid credentials failed", zap.Int64("telegram_id", cred.TelegramID), zap.Error(err))
		}
		return fmt.Errorf("verification failed: %s", msg)
	}
	summary, err := r.deps.Analytics.Summary(ctx, cred, owner(cred), analytics.PeriodMonth)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	snap := analytics.NewSnapshot(cred.TelegramID, r.now(), summary)
	if err := r.deps.Snapshots.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *Runner) reportOne(ctx context.Context, cred domain.Credential) error {
	settings, err := r.deps.Settings.Get(ctx, cred.TelegramID)
	if err != nil {
		return err
	}
	if !settings.DailyReport {
		return nil
	}
	_, err = r.SendReport(ctx, cred, settings.ChatID, analytics.PeriodMonth)
	return err
}

// SendReport computes the summary for period and delivers it to chatID.
func (r *Runner) SendReport(ctx context.Context, cred domain.Credential, chatID int64, period analytics.Period) (string, error) {
	summary, err := r.deps.Analytics.Summary(ctx, cred, owner(cred), period)
	if err != nil {
		return "", fmt.Errorf("summary: %w", err)
	}
	text := ReportText(summary)
	if err := r.deps.Notifier.Notify(ctx, chatID, text); err != nil {
		return "", fmt.Errorf("send report: %w", err)
	}
	r.deps.Events.Emit(ctx, domain.EventReportSent, cred.TelegramID, map[string]interface{}{
		"period":  string(period),
		"chat_id": chatID,
	})
	return text, nil
}

func (r *Runner) thresholdsOne(ctx context.Context, cred domain.Credential) error {
	settings, err := r.deps.Settings.Get(ctx, cred.TelegramID)
	if err != nil {
		return err
	}
	if !settings.SalesAlerts {
		return nil
	}
	summary, err := r.deps.Analytics.Summary(ctx, cred, owner(cred), analytics.PeriodMonth)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	for _, b := range r.deps.Thresholds.Evaluate(summary, settings) {
		if err := r.deps.Notifier.Notify(ctx, settings.ChatID, r.deps.Thresholds.Message(b)); err != nil {
			return fmt.Errorf("send %s alert: %w", b.Metric, err)
		}
		r.deps.Events.Emit(ctx, domain.EventAlertSent, cred.TelegramID, map[string]interface{}{
			"metric":    string(b.Metric),
			"threshold": b.Threshold,
			"products":  len(b.Offenders),
		})
	}
	return nil
}

// ReportText is the daily report body.
func ReportText(s domain.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Отчёт за период: %s\n", periodTitle(s.Period))
	fmt.Fprintf(&b, "Выручка: %s ₽\n", rub(s.Revenue))
	fmt.Fprintf(&b, "Прибыль: %s ₽\n", rub(s.Profit))
	fmt.Fprintf(&b, "Маржа: %s%%\n", humanize.FormatFloat("#,###.#", s.Margin))
	fmt.Fprintf(&b, "ROI: %s%%\n", humanize.FormatFloat("#,###.#", s.ROI))
	fmt.Fprintf(&b, "Заказано: %s шт.", humanize.Comma(s.Units))
	if top, ok := analytics.Top(s); ok {
		fmt.Fprintf(&b, "\nЛидер по прибыли: %s (%s ₽)", top.Name, rub(top.Profit))
	}
	return b.String()
}

func rub(v float64) string {
	return humanize.FormatFloat("#,###.", v)
}

func periodTitle(p string) string {
	switch analytics.Period(p) {
	case analytics.PeriodWeek:
		return "неделя"
	case analytics.PeriodQuarter:
		return "квартал"
	case analytics.PeriodYear:
		return "год"
	default:
		return "месяц"
	}
}
