package analytics

import (
	"fmt"
	"strings"
	"time"
)

type Period string

const (
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// ParsePeriod accepts the period names used by the frontend. Empty means month.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PeriodMonth, nil
	case PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("unknown period %q", raw)
	}
}

// Range returns the [from, to] window ending at now.
func (p Period) Range(now time.Time) (time.Time, time.Time) {
	to := now.UTC()
	switch p {
	case PeriodWeek:
		return to.AddDate(0, 0, -7), to
	case PeriodQuarter:
		return to.AddDate(0, -3, 0), to
	case PeriodYear:
		return to.AddDate(-1, 0, 0), to
	default:
		return to.AddDate(0, -1, 0), to
	}
}

// months is the period length relative to a month, used to scale fixtures.
func (p Period) months() float64 {
	switch p {
	case PeriodWeek:
		return 0.25
	case PeriodQuarter:
		return 3
	case PeriodYear:
		return 12
	default:
		return 1
	}
}
