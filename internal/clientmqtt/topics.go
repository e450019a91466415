package clientmqtt

import "fmt"

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds the state topics of one bridge node.
type Topics struct {
	Node string
}

// Availability is the LWT / online-offline topic.
func (t Topics) Availability() string {
	return t.Node + "/status"
}

// Channel is the state topic of one DMX channel sensor.
func (t Topics) Channel(universe uint16, channel int) string {
	return fmt.Sprintf("%s/u/%d/ch/%d", t.Node, universe, channel)
}

// IP is the state topic of the bridge IP diagnostic sensor.
func (t Topics) IP() string {
	return t.Node + "/eth/ip"
}

// BirthTopic is where Home Assistant announces itself after a restart.
func BirthTopic(prefix string) string {
	return prefix + "/status"
}

// DiscoveryTopic is the config topic of a sensor entity.
func DiscoveryTopic(prefix, objectID string) string {
	return fmt.Sprintf("%s/sensor/%s/config", prefix, objectID)
}
