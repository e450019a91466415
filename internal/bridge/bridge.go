// Package bridge runs the Art-Net listener, the housekeeping task and the
// MQTT publisher under one lifecycle: Created → Running → Stopping → Stopped.
//
// A single context acts as the shutdown signal. Both loops poll it after each
// bounded wait (receive timeout, ticker), so shutdown latency is bounded by the
// longest poll interval.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
	"golang.org/x/sync/errgroup"
)

// ErrAlreadyStarted is returned by Start when the bridge left the Created state.
var ErrAlreadyStarted = errors.New("bridge: already started")

// State of the bridge lifecycle.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Listener is the Art-Net receive loop.
type Listener interface {
	Bind() error
	Run(ctx context.Context) error
	Close() error
}

// Task is a periodic loop.
type Task interface {
	Run(ctx context.Context) error
}

// Publisher is the MQTT connection lifecycle.
type Publisher interface {
	Start(ctx context.Context) error
	Stop() error
}

// Bridge orchestrates the listener, the housekeeping task and the publisher.
type Bridge struct {
	log       logger.Logger
	listener  Listener
	task      Task
	publisher Publisher
	metrics   *metrics.Metrics

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	runErr error
	done   chan struct{}
}

// New конструктор.
func New(log logger.Logger, listener Listener, task Task, publisher Publisher, m *metrics.Metrics) *Bridge {
	b := &Bridge{
		log:       log,
		listener:  listener,
		task:      task,
		publisher: publisher,
		metrics:   m,
		done:      make(chan struct{}),
	}
	b.setState(Created)
	return b
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

// Health reports an error unless the bridge is running.
func (b *Bridge) Health() error {
	if s := b.State(); s != Running {
		return fmt.Errorf("bridge is %s", s)
	}
	return nil
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	b.observe(s)
}

func (b *Bridge) observe(s State) {
	if b.metrics != nil {
		b.metrics.BridgeState.Set(float64(s))
	}
}

// Start binds the UDP socket, connects the publisher, launches both loops and
// blocks until ctx is done, Stop is called or a loop fails. It returns only
// after the bridge reached Stopped. A bind failure is returned before Running.
func (b *Bridge) Start(ctx context.Context) error {
	log := b.log.With(logger.Fields{"module": "bridge"})

	if b.State() != Created {
		return ErrAlreadyStarted
	}
	if err := b.listener.Bind(); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.state.CompareAndSwap(int32(Created), int32(Running)) {
		b.mu.Unlock()
		_ = b.listener.Close()
		return ErrAlreadyStarted
	}
	b.observe(Running)
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	b.cancel = cancel
	b.group = group
	b.mu.Unlock()

	// The loops start only once the broker is connected, so the first scene
	// is not consumed by the policy while publishes cannot go out.
	if err := b.publisher.Start(groupCtx); err != nil {
		if groupCtx.Err() == nil {
			log.Errorf("failed to start MQTT publisher: %v", err)
			b.mu.Lock()
			b.runErr = err
			b.mu.Unlock()
			cancel()
		}
	} else {
		// Stop moves out of Running under mu before it waits on the group.
		b.mu.Lock()
		if b.State() == Running {
			group.Go(func() error { return b.listener.Run(groupCtx) })
			group.Go(func() error { return b.task.Run(groupCtx) })
			log.Info("Art-Net2MQTT bridge is running")
		}
		b.mu.Unlock()
	}

	<-groupCtx.Done()
	b.Stop()
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runErr
}

// Stop raises the shutdown signal, waits for both loops, releases the socket
// and disconnects the publisher. Calls while Stopping or Stopped are no-ops.
func (b *Bridge) Stop() {
	log := b.log.With(logger.Fields{"module": "bridge"})

	b.mu.Lock()
	if b.state.CompareAndSwap(int32(Created), int32(Stopped)) {
		b.observe(Stopped)
		b.mu.Unlock()
		close(b.done)
		return
	}
	if !b.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		b.mu.Unlock()
		return
	}
	b.observe(Stopping)
	cancel, group := b.cancel, b.group
	b.mu.Unlock()

	log.Info("stopping Art-Net2MQTT bridge")
	cancel()

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		log.Errorf("loop stopped with error: %v", err)
	}

	if cerr := b.listener.Close(); cerr != nil {
		log.Warnf("error closing Art-Net listener: %v", cerr)
	}
	if perr := b.publisher.Stop(); perr != nil {
		log.Warnf("error stopping MQTT client: %v", perr)
	}

	b.mu.Lock()
	if b.runErr == nil {
		b.runErr = err
	}
	b.setState(Stopped)
	b.mu.Unlock()

	log.Info("bridge stopped")
	close(b.done)
}

// Done is closed once the bridge reached Stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}
