package mqtt

import "fmt"

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "ON"
	MQTT_PAYLOAD_OFF     = "OFF"

	COMMAND_NUKE    = "nuke"
	COMMAND_RESTART = "restart"
	COMMAND_CAPTURE = "capture"
)

// Topics builds every topic the bridge publishes or subscribes to, from the
// discovery prefix, the state namespace and the bridge id suffix. Both the
// entity publisher and the MQTT actor derive topics exclusively through this
// type so the two sides can never disagree.
type Topics struct {
	DiscoveryPrefix string
	Namespace       string
	IdSuffix        string
}

func NewTopics(discoveryPrefix, namespace, idSuffix string) Topics {
	return Topics{
		DiscoveryPrefix: discoveryPrefix,
		Namespace:       namespace,
		IdSuffix:        idSuffix,
	}
}

// Availability carries retained "online"/"offline" and backs the last will.
func (t Topics) Availability() string {
	return fmt.Sprintf("home/status/rtl_bridge%s/availability", t.IdSuffix)
}

func (t Topics) State(cleanId, field string) string {
	return fmt.Sprintf("home/%s/%s/%s", t.Namespace, cleanId, field)
}

func (t Topics) DetailsState(cleanId string) string {
	return t.State(cleanId, "details")
}

func (t Topics) DetailsAttributes(cleanId string) string {
	return t.State(cleanId, "details_attr")
}

func (t Topics) Command(action string) string {
	return fmt.Sprintf("home/status/rtl_bridge%s/%s/set", t.IdSuffix, action)
}

func (t Topics) NukeCommand() string {
	return t.Command(COMMAND_NUKE)
}

func (t Topics) RestartCommand() string {
	return t.Command(COMMAND_RESTART)
}

func (t Topics) CaptureCommand() string {
	return t.Command(COMMAND_CAPTURE)
}

func (t Topics) DiscoveryConfig(entityDomain, uniqueId string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, entityDomain, uniqueId)
}

// DiscoveryScan matches every retained discovery config under the prefix.
// The nuke scan subscribes here to find entities this bridge published.
func (t Topics) DiscoveryScan() string {
	return fmt.Sprintf("%s/+/+/config", t.DiscoveryPrefix)
}
