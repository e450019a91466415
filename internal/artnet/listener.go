package artnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	// DefaultReadTimeout bounds each receive so the loop observes shutdown promptly.
	DefaultReadTimeout = 50 * time.Millisecond

	statsEvery    = 50
	initialLogged = 5
	valuesShown   = 10
	logInterval   = 10 * time.Second
	readBufferLen = 65535
)

// ErrBind is returned when the UDP socket cannot be opened.
var ErrBind = errors.New("art-net: bind failed")

// ChannelSink receives accepted channel updates. Implemented by the MQTT client.
type ChannelSink interface {
	PublishChannel(universe uint16, channel int, value byte) error
}

// Decider is the publish policy seen by the listener.
type Decider interface {
	ShouldPublish(channel int, value byte) bool
}

// Listener owns the Art-Net UDP socket and dispatches monitored channels.
type Listener struct {
	log     logger.Logger
	cfg     ListenerConf
	decider Decider
	sink    ChannelSink
	metrics *metrics.Metrics
	decode  func([]byte) (Frame, error)

	conn *net.UDPConn
	buf  []byte

	frames    uint64
	published uint64
	universes map[uint16]uint64

	recvErrLog    rate.Sometimes
	rejectLog     rate.Sometimes
	publishErrLog rate.Sometimes
	valuesLog     rate.Sometimes
}

// NewListener конструктор.
func NewListener(log logger.Logger, cfg ListenerConf, decider Decider, sink ChannelSink, m *metrics.Metrics) *Listener {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	decode := Decode
	if cfg.StrictVersion {
		decode = DecodeStrict
	}
	return &Listener{
		log:           log,
		cfg:           cfg,
		decider:       decider,
		sink:          sink,
		metrics:       m,
		decode:        decode,
		buf:           make([]byte, readBufferLen),
		universes:     map[uint16]uint64{},
		recvErrLog:    rate.Sometimes{First: 1, Interval: logInterval},
		rejectLog:     rate.Sometimes{First: 1, Interval: logInterval},
		publishErrLog: rate.Sometimes{First: 1, Interval: logInterval},
		valuesLog:     rate.Sometimes{Interval: logInterval},
	}
}

// Bind opens the UDP socket. A failure here is fatal for the bridge.
func (l *Listener) Bind() error {
	var lc net.ListenConfig
	if l.cfg.ReuseAddr {
		lc.Control = reuseAddrControl
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBind, l.cfg.Addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return fmt.Errorf("%w: %s: unexpected socket type %T", ErrBind, l.cfg.Addr, pc)
	}
	l.conn = conn
	l.log.With(logger.Fields{"module": "art-net"}).Infof("UDP listener bound to %s, monitoring universe %d channels %d-%d",
		conn.LocalAddr(), l.cfg.Universe, l.cfg.StartChannel, l.cfg.StartChannel+l.cfg.ChannelCount-1)
	return nil
}

// LocalAddr returns the bound address, nil before Bind.
func (l *Listener) LocalAddr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close releases the socket.
func (l *Listener) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Run receives datagrams until ctx is done. Per-packet errors never stop the loop.
func (l *Listener) Run(ctx context.Context) error {
	if l.conn == nil {
		return fmt.Errorf("%w: listener is not bound", ErrBind)
	}
	log := l.log.With(logger.Fields{"module": "art-net"})
	log.Info("Art-Net listener started")
	defer func() {
		log.Infof("Art-Net listener stopped. Frames: %d, universes: %s", l.frames, l.universeStats())
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("art-net set deadline: %w", err)
		}

		n, _, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, net.ErrClosed):
				return fmt.Errorf("art-net socket closed: %w", err)
			}
			l.count(metrics.ResultReceiveError)
			l.recvErrLog.Do(func() {
				log.Warnf("receive error: %v", err)
			})
			continue
		}

		l.HandleDatagram(l.buf[:n])
	}
}

// HandleDatagram decodes raw and dispatches it. It returns the number of
// channel values handed to the sink.
func (l *Listener) HandleDatagram(raw []byte) int {
	f, err := l.decode(raw)
	if err != nil {
		l.count(metrics.ResultRejected)
		l.rejectLog.Do(func() {
			l.log.With(logger.Fields{"module": "art-net"}).Debugf("datagram rejected (%d bytes): %v", len(raw), err)
		})
		return 0
	}
	l.universes[f.Universe]++
	return l.HandleFrame(f)
}

// HandleFrame extracts the monitored channels of f in ascending order and
// forwards those accepted by the policy. Frames of other universes are ignored.
func (l *Listener) HandleFrame(f Frame) int {
	log := l.log.With(logger.Fields{"module": "art-net"})
	if f.Universe != l.cfg.Universe {
		l.count(metrics.ResultFiltered)
		log.Tracef("filtering out frame from universe %d (configured: %d)", f.Universe, l.cfg.Universe)
		return 0
	}
	l.count(metrics.ResultAccepted)

	published := 0
	for i := 0; i < l.cfg.ChannelCount; i++ {
		channel := l.cfg.StartChannel + i
		idx := channel - 1
		if idx >= len(f.Data) {
			log.Tracef("channel %d exceeds DMX data length %d", channel, len(f.Data))
			break
		}

		value := f.Data[idx]
		if !l.decider.ShouldPublish(channel, value) {
			continue
		}
		if err := l.sink.PublishChannel(f.Universe, channel, value); err != nil {
			if l.metrics != nil {
				l.metrics.PublishErrors.WithLabelValues(metrics.KindChannel).Inc()
			}
			l.publishErrLog.Do(func() {
				log.Errorf("error publishing channel %d: %v", channel, err)
			})
			continue
		}
		if l.metrics != nil {
			l.metrics.ChannelPublishes.Inc()
		}
		published++
		l.published++
		if l.published <= initialLogged {
			log.Infof("published: universe %d channel %d = %d", f.Universe, channel, value)
		}
	}

	l.valuesLog.Do(func() {
		log.Infof("current values: %s", l.currentValues(f.Data))
	})

	if published > 0 {
		log.Debugf("published %d channel updates from %s", published, f)
	}

	l.frames++
	if l.frames%statsEvery == 0 {
		log.Infof("processed %d frames. Universe stats: %s", l.frames, l.universeStats())
	}
	return published
}

// currentValues renders the first monitored channels of data, published or not.
func (l *Listener) currentValues(data []byte) string {
	n := l.cfg.ChannelCount
	if n > valuesShown {
		n = valuesShown
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		channel := l.cfg.StartChannel + i
		if channel-1 >= len(data) {
			break
		}
		parts = append(parts, fmt.Sprintf("CH%d=%d", channel, data[channel-1]))
	}
	return strings.Join(parts, ", ")
}

func (l *Listener) count(result string) {
	if l.metrics != nil {
		l.metrics.Datagrams.WithLabelValues(result).Inc()
	}
}

func (l *Listener) universeStats() string {
	keys := make([]int, 0, len(l.universes))
	for u := range l.universes {
		keys = append(keys, int(u))
	}
	sort.Ints(keys)
	parts := make([]string, 0, len(keys))
	for _, u := range keys {
		parts = append(parts, fmt.Sprintf("%d:%d", u, l.universes[uint16(u)]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
