package clientmqtt

type MQTTConf struct {
	ClientID     string // ClientID - уникальное имя клиента для брокеров.
	Schema       string // Schema - тип подключения.
	Host         string // Host - адрес MQTT сервера.
	Port         string // Port - порт MQTT сервера.
	User         string // User - логин для подключения к MQTT серверу.
	Password     string // Password - пароль для подключения к MQTT серверу.
	KeepAlive    int    // KeepAlive - секунды.
	ReconnectMin int    // ReconnectMin - первая пауза перед повторным подключением, секунды.
	ReconnectMax int    // ReconnectMax - максимальная пауза, секунды.
}

// DiscoveryConf describes the entities announced through Home Assistant MQTT Discovery.
type DiscoveryConf struct {
	Prefix       string
	NodeName     string
	ObjectPrefix string
	ForceUpdate  bool
	ExpireAfter  int // seconds, 0 = not sent
	Universe     uint16
	StartChannel int
	ChannelCount int
	SWVersion    string
}

// Message is a ready to publish discovery config.
type Message struct {
	Topic   string
	Payload []byte
}
