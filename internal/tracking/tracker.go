package tracking

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
)

// Tracker reports unexpected failures caught at handler boundaries.
type Tracker interface {
	CaptureError(err error, tags map[string]string)
	CapturePanic(recovered interface{}, tags map[string]string)
	Flush(timeout time.Duration)
}

type Nop struct{}

func (Nop) CaptureError(error, map[string]string)       {}
func (Nop) CapturePanic(interface{}, map[string]string) {}
func (Nop) Flush(time.Duration)                         {}

type Sentry struct {
	hub *sentry.Hub
}

func NewSentry(dsn, environment string) (*Sentry, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &Sentry{hub: sentry.CurrentHub()}, nil
}

func (s *Sentry) CaptureError(err error, tags map[string]string) {
	hub := s.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	hub.CaptureException(err)
}

func (s *Sentry) CapturePanic(recovered interface{}, tags map[string]string) {
	hub := s.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
	})
	hub.Recover(recovered)
}

func (s *Sentry) Flush(timeout time.Duration) {
	s.hub.Flush(timeout)
}
