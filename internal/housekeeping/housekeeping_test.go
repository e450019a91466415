package housekeeping

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu  sync.Mutex
	ip  string
	err error
}

func (r *fakeResolver) set(ip string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ip, r.err = ip, err
}

func (r *fakeResolver) ResolveOutboundAddress() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ip, r.err
}

type fakeSink struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSink) PublishAddress(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, ip)
	return nil
}

func (s *fakeSink) published() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func TestNew_IntervalFloor(t *testing.T) {
	task := New(logger.Discard(), clockwork.NewFakeClock(), time.Second, &fakeResolver{}, &fakeSink{}, nil)
	assert.Equal(t, MinInterval, task.Interval())

	task = New(logger.Discard(), clockwork.NewFakeClock(), time.Minute, &fakeResolver{}, &fakeSink{}, nil)
	assert.Equal(t, time.Minute, task.Interval())
}

func TestTick_PublishesOnlyOnChange(t *testing.T) {
	res := &fakeResolver{ip: "192.168.1.10"}
	sink := &fakeSink{}
	task := New(logger.Discard(), clockwork.NewFakeClock(), MinInterval, res, sink, nil)

	task.Tick()
	task.Tick()
	assert.Equal(t, []string{"192.168.1.10"}, sink.published())

	res.set("192.168.1.11", nil)
	task.Tick()
	assert.Equal(t, []string{"192.168.1.10", "192.168.1.11"}, sink.published())
	assert.Equal(t, "192.168.1.11", task.Last())
}

func TestTick_ResolveFailureKeepsLast(t *testing.T) {
	res := &fakeResolver{ip: "10.0.0.2"}
	sink := &fakeSink{}
	task := New(logger.Discard(), clockwork.NewFakeClock(), MinInterval, res, sink, nil)

	task.Tick()
	res.set("", errors.New("network unreachable"))
	task.Tick()

	assert.Equal(t, "10.0.0.2", task.Last())
	assert.Len(t, sink.published(), 1)
}

func TestTick_PublishFailureRetries(t *testing.T) {
	res := &fakeResolver{ip: "10.0.0.3"}
	sink := &fakeSink{err: errors.New("mqtt: client not connected")}
	m := metrics.NewUnregistered()
	task := New(logger.Discard(), clockwork.NewFakeClock(), MinInterval, res, sink, m)

	task.Tick()
	assert.Empty(t, task.Last())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PublishErrors.WithLabelValues(metrics.KindAddress)))

	sink.mu.Lock()
	sink.err = nil
	sink.mu.Unlock()

	task.Tick()
	assert.Equal(t, "10.0.0.3", task.Last())
	assert.Equal(t, []string{"10.0.0.3"}, sink.published())
}

func TestRun_TicksAndStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	res := &fakeResolver{ip: "10.0.0.1"}
	sink := &fakeSink{}
	task := New(logger.Discard(), clock, MinInterval, res, sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.published()) == 1 }, time.Second, time.Millisecond)

	res.set("10.0.0.9", nil)
	require.Eventually(t, func() bool {
		clock.Advance(MinInterval)
		return len(sink.published()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.9"}, sink.published())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
}

func TestFindInterfaceIP(t *testing.T) {
	ip, err := FindInterfaceIP()
	if errors.Is(err, ErrNoAddress) {
		t.Skip("no non-loopback IPv4 interface")
	}
	require.NoError(t, err)
	assert.NotNil(t, ip.To4())
	assert.False(t, ip.IsLoopback())
}

func TestUDPResolver_Loopback(t *testing.T) {
	ip, err := UDPResolver{ProbeAddress: "127.0.0.1:9"}.ResolveOutboundAddress()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", net.ParseIP(ip).String())
}
