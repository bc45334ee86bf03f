package events

import (
	"context"
	"time"

	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
	"github.com/vitwit/payterm/reconciler"
	"github.com/vitwit/payterm/types"
)

// Event types.
const (
	TransactionCreated   = "transaction.created"
	TransactionPaid      = "transaction.paid"
	TransactionCancelled = "transaction.cancelled"
	TransactionCleared   = "transaction.cleared"
)

const publishTimeout = 5 * time.Second

type Event struct {
	Type        string             `json:"type"`
	Network     types.Network      `json:"network"`
	Transaction *types.Transaction `json:"transaction,omitempty"`
	At          time.Time          `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }

// FromChange maps a reconciler change to an event. Field edits of the same
// transaction are not published.
func FromChange(ch reconciler.Change) (Event, bool) {
	ev := Event{Network: ch.Network, Transaction: ch.Current, At: ch.At}
	switch ch.Kind {
	case reconciler.ChangeCreated:
		ev.Type = TransactionCreated
	case reconciler.ChangePaid:
		ev.Type = TransactionPaid
	case reconciler.ChangeCancelled:
		ev.Type = TransactionCancelled
	case reconciler.ChangeCleared:
		ev.Type = TransactionCleared
		ev.Transaction = ch.Previous
	default:
		return Event{}, false
	}
	return ev, true
}

// Source is anything that emits reconciler changes.
type Source interface {
	Subscribe(fn func(reconciler.Change)) (unsubscribe func())
}

// Forward publishes every change of src. Publishing happens off the
// reconciler's goroutine; failures are logged and counted.
func Forward(src Source, pub Publisher, log logger.Logger, rec metrics.Recorder) (stop func()) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return src.Subscribe(func(ch reconciler.Change) {
		ev, ok := FromChange(ch)
		if !ok {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()

			labels := map[string]string{"network": string(ev.Network)}
			if err := pub.Publish(ctx, ev); err != nil {
				rec.IncCounter(metrics.EventPublishFail, labels)
				log.Error("event publish failed", map[string]any{"type": ev.Type, "network": ev.Network, "error": err})
				return
			}
			rec.IncCounter(metrics.EventPublished, labels)
		}()
	})
}
