package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"ozonbot/internal/domain"
	"ozonbot/internal/store"
)

// Recorder appends events to the log and forwards them to the publisher in
// the background. Neither failure is returned to the caller.
type Recorder struct {
	log       store.EventLog
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger

	inflight sync.WaitGroup
}

func NewRecorder(log store.EventLog, publisher Publisher, timeout time.Duration, logger *zap.Logger) *Recorder {
	if publisher == nil {
		publisher = Nop{}
	}
	return &Recorder{log: log, publisher: publisher, timeout: timeout, logger: logger}
}

func (r *Recorder) Emit(ctx context.Context, eventType domain.EventType, telegramID int64, payload map[string]interface{}) domain.Event {
	event, err := r.log.AppendEvent(ctx, eventType, telegramID, payload)
	if err != nil {
		r.logger.Warn("append event failed", zap.String("type", string(eventType)), zap.Error(err))
		return domain.Event{}
	}
	r.inflight.Add(1)
	go func(evt domain.Event) {
		defer r.inflight.Done()
		pctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.publisher.Publish(pctx, evt); err != nil {
			r.logger.Warn("publish event failed", zap.String("event_id", evt.ID), zap.Error(err))
		}
	}(event)
	return event
}

// Wait blocks until every event emitted so far has been handed to the
// publisher.
func (r *Recorder) Wait() {
	r.inflight.Wait()
}
