// Package policy decides, independently per DMX channel, whether a freshly
// observed value is worth publishing.
//
// Two knobs apply in order: change detection (an identical value is never
// republished) and a minimum interval between publishes of the same channel.
// Timestamps come from an injected clockwork.Clock; the real clock returns
// time.Time values carrying a monotonic reading, so throttle windows are not
// affected by wall clock adjustments.
package policy

import (
	"time"

	"artnet2ha/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// Conf configures a Policy.
type Conf struct {
	StartChannel        int
	ChannelCount        int
	Throttle            time.Duration
	PublishOnChangeOnly bool
}

type channelState struct {
	value       byte
	publishedAt time.Time
}

// Policy owns the channel-state table. It is not safe for concurrent use:
// the listener's dispatch path is its only caller.
type Policy struct {
	clock   clockwork.Clock
	conf    Conf
	metrics *metrics.Metrics
	states  map[int]*channelState
}

// New конструктор.
func New(clock clockwork.Clock, conf Conf, m *metrics.Metrics) *Policy {
	return &Policy{
		clock:   clock,
		conf:    conf,
		metrics: m,
		states:  make(map[int]*channelState, conf.ChannelCount),
	}
}

// ShouldPublish evaluates value for channel at the current clock time.
func (p *Policy) ShouldPublish(channel int, value byte) bool {
	return p.Decide(channel, value, p.clock.Now())
}

// Decide reports whether value should be published for channel at now and
// records it as the last published value iff the answer is true.
// Channels outside the monitored window are never published and never stored.
func (p *Policy) Decide(channel int, value byte, now time.Time) bool {
	if channel < p.conf.StartChannel || channel >= p.conf.StartChannel+p.conf.ChannelCount {
		return false
	}

	st, seen := p.states[channel]
	if seen {
		if p.conf.PublishOnChangeOnly && st.value == value {
			p.suppressed(metrics.ReasonUnchanged)
			return false
		}
		if p.conf.Throttle > 0 && now.Sub(st.publishedAt) < p.conf.Throttle {
			p.suppressed(metrics.ReasonThrottled)
			return false
		}
	} else {
		st = &channelState{}
		p.states[channel] = st
	}

	st.value = value
	st.publishedAt = now
	return true
}

// Last returns the last published value for channel.
func (p *Policy) Last(channel int) (byte, bool) {
	st, ok := p.states[channel]
	if !ok {
		return 0, false
	}
	return st.value, true
}

// Len is the number of channels with a recorded publish.
func (p *Policy) Len() int {
	return len(p.states)
}

func (p *Policy) suppressed(reason string) {
	if p.metrics != nil {
		p.metrics.Suppressed.WithLabelValues(reason).Inc()
	}
}
