// Package housekeeping periodically republishes the bridge's outbound IP
// address, only when it changes.
package housekeeping

import (
	"context"
	"time"

	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// MinInterval is the lowest accepted cycle interval.
const MinInterval = 5 * time.Second

// AddressResolver looks up the current outbound address.
type AddressResolver interface {
	ResolveOutboundAddress() (string, error)
}

// AddressSink receives a changed address. Implemented by the MQTT client.
type AddressSink interface {
	PublishAddress(ip string) error
}

// Task is the periodic IP publisher.
type Task struct {
	log      logger.Logger
	clock    clockwork.Clock
	interval time.Duration
	resolver AddressResolver
	sink     AddressSink
	metrics  *metrics.Metrics

	last string
}

// New конструктор. Intervals below MinInterval are raised to it.
func New(log logger.Logger, clock clockwork.Clock, interval time.Duration, resolver AddressResolver, sink AddressSink, m *metrics.Metrics) *Task {
	if interval < MinInterval {
		interval = MinInterval
	}
	return &Task{
		log:      log,
		clock:    clock,
		interval: interval,
		resolver: resolver,
		sink:     sink,
		metrics:  m,
	}
}

// Interval is the effective cycle interval.
func (t *Task) Interval() time.Duration {
	return t.interval
}

// Last is the address most recently published.
func (t *Task) Last() string {
	return t.last
}

// Run performs one cycle immediately and then one per interval until ctx is done.
func (t *Task) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	t.Tick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			t.Tick()
		}
	}
}

// Tick resolves the address and forwards it if it differs from the last one
// sent. Failures are logged and retried on the next cycle.
func (t *Task) Tick() {
	log := t.log.With(logger.Fields{"module": "housekeeping"})

	ip, err := t.resolver.ResolveOutboundAddress()
	if err != nil {
		log.Warnf("failed to resolve outbound address: %v", err)
		return
	}
	if ip == t.last {
		return
	}
	if err := t.sink.PublishAddress(ip); err != nil {
		if t.metrics != nil {
			t.metrics.PublishErrors.WithLabelValues(metrics.KindAddress).Inc()
		}
		log.Errorf("error publishing IP %s: %v", ip, err)
		return
	}
	log.Debugf("published IP: %s", ip)
	t.last = ip
}
