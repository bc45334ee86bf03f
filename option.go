package payterm

import (
	"time"

	"github.com/vitwit/payterm/cache"
	"github.com/vitwit/payterm/events"
	"github.com/vitwit/payterm/logger"
	"github.com/vitwit/payterm/metrics"
)

type Option func(*Terminal)

func WithLogger(l logger.Logger) Option {
	return func(t *Terminal) {
		t.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(t *Terminal) {
		t.metrics = r
	}
}

func WithTimeout(d time.Duration) Option {
	return func(t *Terminal) {
		t.timeout = d
	}
}

// WithPublisher sends reconciler changes to p. The terminal closes p.
func WithPublisher(p events.Publisher) Option {
	return func(t *Terminal) {
		t.publisher = p
	}
}

func WithProfileStore(s *cache.ProfileStore) Option {
	return func(t *Terminal) {
		t.profiles = s
	}
}
