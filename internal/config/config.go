package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// DMX512 limits.
const (
	MaxUniverse = 15
	MaxChannel  = 512
)

// ErrInvalidConfig is returned for any value that fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config структура конфигурации.
type Config struct {
	Logger       LogConf          // Logger - конфигурация регистратора.
	MQTT         MQTTConf         // MQTT - конфигурация MQTT клиента.
	ArtNet       ArtNetConf       // ArtNet - приём кадров Art-Net.
	Publish      PublishConf      // Publish - политика публикации каналов.
	Discovery    DiscoveryConf    // Discovery - Home Assistant MQTT Discovery.
	Housekeeping HousekeepingConf // Housekeeping - периодическая публикация IP.
	HTTP         HTTPConf         // HTTP - метрики и проверка состояния.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level"` // Level - уровень логирования.
	Format string `toml:"format"`    // Format - text или json.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID       string `toml:"clientID"`         // ClientID - имя клиента.
	UniqueClientID bool   `toml:"unique-client-id"` // UniqueClientID - добавить случайный суффикс к ClientID.
	Host           string `toml:"server"`           // Host - адрес MQTT сервера.
	Port           string `toml:"port"`             // Port - порт MQTT сервера.
	User           string `toml:"user"`             // User - логин для подключения к MQTT серверу.
	Password       string `toml:"password"`         // Password - пароль для подключения к MQTT серверу.
	KeepAlive      int    `toml:"keepalive-s"`
	ReconnectMin   int    `toml:"reconnect-min-s"`
	ReconnectMax   int    `toml:"reconnect-max-s"`
}

// ArtNetConf describes which part of the DMX space is monitored.
type ArtNetConf struct {
	Listen        string `toml:"listen"`
	Universe      int    `toml:"universe"`
	StartChannel  int    `toml:"start_channel"`
	Channels      int    `toml:"channels"`
	StrictVersion bool   `toml:"strict_version"`
	ReuseAddr     bool   `toml:"reuse_addr"`
	ReadTimeoutMs int    `toml:"read_timeout_ms"`
}

type PublishConf struct {
	ThrottleMs          int  `toml:"throttle_ms"`
	PublishOnChangeOnly bool `toml:"publish_on_change_only"`
}

type DiscoveryConf struct {
	Prefix       string `toml:"prefix"`
	NodeName     string `toml:"node_name"`
	ObjectPrefix string `toml:"object_prefix"`
	ForceUpdate  bool   `toml:"force_update"`
	ExpireAfter  int    `toml:"expire_after"`
}

type HousekeepingConf struct {
	IntervalS    int    `toml:"ip_publish_interval_s"`
	ProbeAddress string `toml:"probe_address"`
}

type HTTPConf struct {
	Listen string `toml:"listen"`
}

// envOverrides are applied on top of the file, same names as the Home Assistant add-on.
type envOverrides struct {
	Host     string `env:"MQTT_HOST"`
	Port     string `env:"MQTT_PORT"`
	User     string `env:"MQTT_USER"`
	Password string `env:"MQTT_PASS"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info", Format: "text"},
		MQTT: MQTTConf{
			Host:         "core-mosquitto",
			Port:         "1883",
			KeepAlive:    60,
			ReconnectMin: 1,
			ReconnectMax: 30,
		},
		ArtNet: ArtNetConf{
			Listen:        "0.0.0.0:6454",
			Universe:      0,
			StartChannel:  1,
			Channels:      20,
			ReadTimeoutMs: 50,
		},
		Publish: PublishConf{
			ThrottleMs:          20,
			PublishOnChangeOnly: true,
		},
		Discovery: DiscoveryConf{
			Prefix:       "homeassistant",
			NodeName:     "artnet_bridge",
			ObjectPrefix: "artnet",
			ForceUpdate:  true,
		},
		Housekeeping: HousekeepingConf{
			IntervalS:    30,
			ProbeAddress: "8.8.8.8:80",
		},
	}
}

// NewConfig конструктор.
func NewConfig(path string) (*Config, error) {
	// .env is optional.
	_ = godotenv.Load()

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.applyEnv(); err != nil {
		return &cfg, err
	}
	if err := cfg.finalize(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Load(&o, nil); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if o.Host != "" {
		c.MQTT.Host = o.Host
	}
	if o.Port != "" {
		c.MQTT.Port = o.Port
	}
	if o.User != "" {
		c.MQTT.User = o.User
	}
	if o.Password != "" {
		c.MQTT.Password = o.Password
	}
	return nil
}

// finalize fills derived values and validates the result.
func (c *Config) finalize() error {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Discovery.NodeName
	}
	if c.MQTT.UniqueClientID {
		c.MQTT.ClientID = fmt.Sprintf("%s-%s", c.MQTT.ClientID, strings.Split(uuid.NewString(), "-")[0])
	}
	return c.Validate()
}

// Validate checks ranges once at startup; the bridge treats the values as immutable afterwards.
func (c *Config) Validate() error {
	a := c.ArtNet
	switch {
	case a.Universe < 0 || a.Universe > MaxUniverse:
		return fmt.Errorf("%w: universe must be in 0..%d, got %d", ErrInvalidConfig, MaxUniverse, a.Universe)
	case a.StartChannel < 1 || a.StartChannel > MaxChannel:
		return fmt.Errorf("%w: start_channel must be in 1..%d, got %d", ErrInvalidConfig, MaxChannel, a.StartChannel)
	case a.Channels < 1 || a.Channels > MaxChannel:
		return fmt.Errorf("%w: channels must be in 1..%d, got %d", ErrInvalidConfig, MaxChannel, a.Channels)
	case a.StartChannel-1+a.Channels > MaxChannel:
		return fmt.Errorf("%w: start_channel + channels - 1 cannot exceed %d", ErrInvalidConfig, MaxChannel)
	case a.Listen == "":
		return fmt.Errorf("%w: artnet listen address is empty", ErrInvalidConfig)
	case a.ReadTimeoutMs <= 0:
		return fmt.Errorf("%w: read_timeout_ms must be positive", ErrInvalidConfig)
	case c.Publish.ThrottleMs < 0:
		return fmt.Errorf("%w: throttle_ms must be >= 0", ErrInvalidConfig)
	case c.Discovery.NodeName == "":
		return fmt.Errorf("%w: node_name is empty", ErrInvalidConfig)
	case c.Discovery.ExpireAfter < 0:
		return fmt.Errorf("%w: expire_after must be >= 0", ErrInvalidConfig)
	case c.MQTT.Host == "":
		return fmt.Errorf("%w: mqtt server is empty", ErrInvalidConfig)
	case c.MQTT.ReconnectMax < c.MQTT.ReconnectMin:
		return fmt.Errorf("%w: reconnect-max-s is lower than reconnect-min-s", ErrInvalidConfig)
	}
	return nil
}

// LastChannel is the highest monitored channel number.
func (a ArtNetConf) LastChannel() int {
	return a.StartChannel + a.Channels - 1
}
