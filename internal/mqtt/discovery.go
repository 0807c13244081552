package mqtt

import (
	"fmt"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
)

// HADiscoveryConfig is the Home Assistant MQTT discovery payload for the
// entity platforms the bridge publishes: sensor, binary_sensor and button.
type HADiscoveryConfig struct {
	Device              HADiscoveryDevice `json:"device"`
	StateTopic          string            `json:"state_topic,omitempty"`
	CommandTopic        string            `json:"command_topic,omitempty"`
	StateClass          string            `json:"state_class,omitempty"`
	DeviceClass         string            `json:"device_class,omitempty"`
	UnitOfMeasurement   string            `json:"unit_of_measurement,omitempty"`
	AvTopic             string            `json:"availability_topic,omitempty"`
	EntityCategory      string            `json:"entity_category,omitempty"`
	Name                string            `json:"name"`
	UniqueId            string            `json:"unique_id"`
	PayloadOn           string            `json:"payload_on,omitempty"`
	PayloadOff          string            `json:"payload_off,omitempty"`
	Icon                string            `json:"icon,omitempty"`
	ExpireAfter         int               `json:"expire_after,omitempty"`
	JsonAttributesTopic string            `json:"json_attributes_topic,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// DeviceIdentifier is the registry identifier grouping all entities of one
// radio device. It must stay stable across releases or Home Assistant will
// split the device in two.
func DeviceIdentifier(model, cleanId string) string {
	return fmt.Sprintf("rtl433_%s_%s", model, cleanId)
}

// RadioDevice is the registry block for a receiving radio device. Everything
// except the bridge itself hangs off the bridge via via_device.
func RadioDevice(model, name, cleanId string, bridge domain.BridgeInfo) HADiscoveryDevice {
	dev := HADiscoveryDevice{
		Id:           []string{DeviceIdentifier(model, cleanId)},
		Manufacturer: domain.BridgeManufacturer,
		Model:        model,
		Name:         name,
	}
	if model != bridge.Name {
		dev.ViaDevice = DeviceIdentifier(bridge.Name, bridge.Id)
	} else {
		dev.Version = bridge.Version
	}
	return dev
}

// BridgeDevice is the registry block for the bridge's own entities (control
// buttons and radio status).
func BridgeDevice(bridge domain.BridgeInfo) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{DeviceIdentifier(bridge.Name, bridge.Id)},
		Manufacturer: domain.BridgeManufacturer,
		Model:        bridge.Name,
		Name:         fmt.Sprintf("%s (%s)", bridge.Name, bridge.Id),
		Version:      bridge.Version,
	}
}
