package clientmqtt

import (
	"encoding/json"
	"fmt"
)

// Device groups all entities of the bridge in Home Assistant.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// SensorConfig is the discovery payload of one sensor entity.
type SensorConfig struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	Device            Device `json:"device"`
	Icon              string `json:"icon,omitempty"`
	EntityCategory    string `json:"entity_category,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	ForceUpdate       *bool  `json:"force_update,omitempty"`
	ExpireAfter       int    `json:"expire_after,omitempty"`
}

// BuildDiscovery returns the IP diagnostic sensor followed by one sensor per
// monitored channel, in ascending channel order.
func BuildDiscovery(cfg DiscoveryConf) ([]Message, error) {
	topics := Topics{Node: cfg.NodeName}
	device := Device{
		Identifiers:  []string{cfg.NodeName},
		Name:         "ArtNet Bridge",
		Manufacturer: "artnet2ha",
		Model:        "ArtNet to MQTT Bridge",
		SWVersion:    cfg.SWVersion,
	}

	msgs := make([]Message, 0, cfg.ChannelCount+1)

	ip := SensorConfig{
		Name:              "Bridge IP Address",
		UniqueID:          cfg.NodeName + "_ip",
		StateTopic:        topics.IP(),
		AvailabilityTopic: topics.Availability(),
		Device:            device,
		Icon:              "mdi:ip-network",
		EntityCategory:    "diagnostic",
	}
	msg, err := newMessage(DiscoveryTopic(cfg.Prefix, cfg.ObjectPrefix+"_eth_ip"), ip)
	if err != nil {
		return nil, err
	}
	msgs = append(msgs, msg)

	forceUpdate := cfg.ForceUpdate
	for ch := cfg.StartChannel; ch < cfg.StartChannel+cfg.ChannelCount; ch++ {
		sensor := SensorConfig{
			Name:              fmt.Sprintf("DMX U%d CH%d", cfg.Universe, ch),
			UniqueID:          fmt.Sprintf("%s_u%d_ch%d", cfg.NodeName, cfg.Universe, ch),
			StateTopic:        topics.Channel(cfg.Universe, ch),
			AvailabilityTopic: topics.Availability(),
			Device:            device,
			Icon:              "mdi:lightbulb-on",
			StateClass:        "measurement",
			ForceUpdate:       &forceUpdate,
		}
		if cfg.ExpireAfter > 0 {
			sensor.ExpireAfter = cfg.ExpireAfter
		}
		objectID := fmt.Sprintf("%s_u%d_ch%d", cfg.ObjectPrefix, cfg.Universe, ch)
		msg, err := newMessage(DiscoveryTopic(cfg.Prefix, objectID), sensor)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}

	return msgs, nil
}

func newMessage(topic string, cfg SensorConfig) (Message, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return Message{}, fmt.Errorf("discovery payload for %s: %w", topic, err)
	}
	return Message{Topic: topic, Payload: payload}, nil
}
