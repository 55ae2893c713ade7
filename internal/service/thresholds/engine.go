package thresholds

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"ozonbot/internal/domain"
)

type Metric string

const (
	MetricMargin Metric = "margin"
	MetricROI    Metric = "roi"
)

// Breach is one metric under its threshold. Offenders are sorted worst first.
type Breach struct {
	Metric    Metric
	Threshold float64
	Overall   float64
	Offenders []domain.ProductMetrics
}

type Engine struct {
	maxListed int
}

func NewEngine(maxListed int) *Engine {
	if maxListed <= 0 {
		maxListed = 5
	}
	return &Engine{maxListed: maxListed}
}

// Evaluate returns at most one breach per metric. A metric breaches only when
// the store-wide value is under the threshold; the products under it are then
// listed as offenders. Products without sales are ignored, and so are
// products without a cost when checking ROI.
func (e *Engine) Evaluate(summary domain.Summary, settings domain.NotificationSettings) []Breach {
	if !settings.SalesAlerts {
		return nil
	}
	var out []Breach
	if b, ok := e.check(summary, MetricMargin, settings.MarginThreshold, summary.Margin); ok {
		out = append(out, b)
	}
	if b, ok := e.check(summary, MetricROI, settings.ROIThreshold, summary.ROI); ok {
		out = append(out, b)
	}
	return out
}

func (e *Engine) check(summary domain.Summary, metric Metric, threshold, overall float64) (Breach, bool) {
	if overall >= threshold {
		return Breach{}, false
	}
	if metric == MetricROI && summary.Cost <= 0 {
		return Breach{}, false
	}
	var offenders []domain.ProductMetrics
	for _, p := range summary.Products {
		if p.Revenue <= 0 {
			continue
		}
		if metric == MetricROI && p.Cost <= 0 {
			continue
		}
		if value(p, metric) < threshold {
			offenders = append(offenders, p)
		}
	}
	if len(offenders) == 0 {
		return Breach{}, false
	}
	sort.SliceStable(offenders, func(i, j int) bool {
		return value(offenders[i], metric) < value(offenders[j], metric)
	})
	return Breach{Metric: metric, Threshold: threshold, Overall: overall, Offenders: offenders}, true
}

func value(p domain.ProductMetrics, metric Metric) float64 {
	if metric == MetricROI {
		return p.ROI
	}
	return p.Margin
}

// Message renders a breach as a single alert. At most maxListed products are
// named; the rest are summarised as "+N".
func (e *Engine) Message(b Breach) string {
	var sb strings.Builder
	switch b.Metric {
	case MetricROI:
		fmt.Fprintf(&sb, "⚠️ Низкий ROI: %s из товаров ниже %s%%\n", humanize.Comma(int64(len(b.Offenders))), pct(b.Threshold))
		fmt.Fprintf(&sb, "ROI по магазину: %s%%\n", pct(b.Overall))
	default:
		fmt.Fprintf(&sb, "⚠️ Низкая маржа: %s из товаров ниже %s%%\n", humanize.Comma(int64(len(b.Offenders))), pct(b.Threshold))
		fmt.Fprintf(&sb, "Маржа по магазину: %s%%\n", pct(b.Overall))
	}
	for i, p := range b.Offenders {
		if i == e.maxListed {
			fmt.Fprintf(&sb, "+%d ещё", len(b.Offenders)-e.maxListed)
			break
		}
		fmt.Fprintf(&sb, "• %s: %s%%\n", productLabel(p), pct(value(p, b.Metric)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func productLabel(p domain.ProductMetrics) string {
	switch {
	case p.Name != "":
		return p.Name
	case p.OfferID != "":
		return p.OfferID
	default:
		return fmt.Sprintf("#%d", p.ProductID)
	}
}

func pct(v float64) string {
	return humanize.FormatFloat("#,###.#", v)
}
