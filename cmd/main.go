package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artnet2ha/internal/artnet"
	"artnet2ha/internal/bridge"
	"artnet2ha/internal/clientmqtt"
	"artnet2ha/internal/config"
	"artnet2ha/internal/housekeeping"
	"artnet2ha/internal/logger"
	"artnet2ha/internal/metrics"
	"artnet2ha/internal/policy"
	"github.com/jonboulle/clockwork"
)

// version задаётся при сборке через -ldflags "-X main.version=...".
var version = "dev"

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")
	log.Infof("Art-Net universe %d, channels %d..%d, listen %s",
		cfg.ArtNet.Universe, cfg.ArtNet.StartChannel, cfg.ArtNet.LastChannel(), cfg.ArtNet.Listen)

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), ConvertConfigDiscovery(cfg))
	log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")

	clock := clockwork.NewRealClock()
	pol := policy.New(clock, ConvertConfigPolicy(cfg), m)

	listener := artnet.NewListener(log, ConvertConfigListener(cfg.ArtNet), pol, client, m)
	log.With(logger.Fields{"module": "art-net"}).Debug("NewListener created ok")

	task := housekeeping.New(log, clock,
		time.Duration(cfg.Housekeeping.IntervalS)*time.Second,
		housekeeping.UDPResolver{ProbeAddress: cfg.Housekeeping.ProbeAddress},
		client, m)

	b := bridge.New(log, listener, task, client, m)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if cfg.HTTP.Listen != "" {
		srv := metrics.NewServer(log, cfg.HTTP.Listen, reg, func() error {
			return errors.Join(b.Health(), client.HealthCheck())
		})
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.With(logger.Fields{"module": "http"}).Errorf("%v", err)
			}
		}()
	}

	if err = b.Start(ctx); err != nil {
		log.Errorf("bridge failed: %v", err)
		if errors.Is(err, artnet.ErrBind) {
			log.Errorf("is another Art-Net application already using %s?", cfg.ArtNet.Listen)
		}
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:     cfg.ClientID,
		Schema:       "tcp",
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password,
		KeepAlive:    cfg.KeepAlive,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	}
}

// ConvertConfigDiscovery преобразует структуры.
func ConvertConfigDiscovery(cfg *config.Config) clientmqtt.DiscoveryConf {
	return clientmqtt.DiscoveryConf{
		Prefix:       cfg.Discovery.Prefix,
		NodeName:     cfg.Discovery.NodeName,
		ObjectPrefix: cfg.Discovery.ObjectPrefix,
		ForceUpdate:  cfg.Discovery.ForceUpdate,
		ExpireAfter:  cfg.Discovery.ExpireAfter,
		Universe:     uint16(cfg.ArtNet.Universe),
		StartChannel: cfg.ArtNet.StartChannel,
		ChannelCount: cfg.ArtNet.Channels,
		SWVersion:    version,
	}
}

// ConvertConfigPolicy преобразует структуры.
func ConvertConfigPolicy(cfg *config.Config) policy.Conf {
	return policy.Conf{
		StartChannel:        cfg.ArtNet.StartChannel,
		ChannelCount:        cfg.ArtNet.Channels,
		Throttle:            time.Duration(cfg.Publish.ThrottleMs) * time.Millisecond,
		PublishOnChangeOnly: cfg.Publish.PublishOnChangeOnly,
	}
}

// ConvertConfigListener преобразует структуры.
func ConvertConfigListener(cfg config.ArtNetConf) artnet.ListenerConf {
	return artnet.ListenerConf{
		Addr:          cfg.Listen,
		Universe:      uint16(cfg.Universe),
		StartChannel:  cfg.StartChannel,
		ChannelCount:  cfg.Channels,
		StrictVersion: cfg.StrictVersion,
		ReuseAddr:     cfg.ReuseAddr,
		ReadTimeout:   time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
	}
}
