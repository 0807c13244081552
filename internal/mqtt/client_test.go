package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := controlCommandExtractor("_2")

	matches := r.FindAllStringSubmatch("home/status/rtl_bridge_2/nuke/set", 1)
	require.Len(t, matches, 1)
	assert.Equal("nuke", matches[0][1], "action extract")

	matches = r.FindAllStringSubmatch("home/status/rtl_bridge_2/capture/set", 1)
	require.Len(t, matches, 1)
	assert.Equal("capture", matches[0][1], "action extract")
}

func TestControlCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := controlCommandExtractor("")

	assert.Empty(r.FindAllStringSubmatch("home/status/rtl_bridge/availability", 1), "no matches")
	assert.Empty(r.FindAllStringSubmatch("home/status/rtl_bridge/reboot/set", 1), "unknown action")
	assert.Empty(r.FindAllStringSubmatch("home/status/rtl_bridge_2/nuke/set", 1), "wrong suffix")
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	topics := NewTopics("homeassistant", "rtl_devices", "_2")

	assert.Equal("home/status/rtl_bridge_2/availability", topics.Availability())
	assert.Equal("home/rtl_devices/acurite5n1i3554/temperature_C", topics.State("acurite5n1i3554", "temperature_C"))
	assert.Equal("home/rtl_devices/acurite5n1i3554/details_attr", topics.DetailsAttributes("acurite5n1i3554"))
	assert.Equal("home/status/rtl_bridge_2/nuke/set", topics.NukeCommand())
	assert.Equal("homeassistant/sensor/abc_temperature_C_2/config", topics.DiscoveryConfig("sensor", "abc_temperature_C_2"))
	assert.Equal("homeassistant/+/+/config", topics.DiscoveryScan())
}

func TestRadioDeviceRegistry(t *testing.T) {

	assert := assert.New(t)

	bridge := domain.BridgeInfo{Name: "RTL-Bridge", Id: "garagepi", Version: "v1.2.3"}

	dev := RadioDevice("Acurite-5n1", "Acurite-5n1 3554", "acurite5n1i3554", bridge)
	assert.Equal([]string{"rtl433_Acurite-5n1_acurite5n1i3554"}, dev.Id)
	assert.Equal("rtl-haos", dev.Manufacturer)
	assert.Equal("rtl433_RTL-Bridge_garagepi", dev.ViaDevice)
	assert.Empty(dev.Version)

	// the bridge's own entities carry the version and no via_device
	self := RadioDevice("RTL-Bridge", "RTL-Bridge (garagepi)", "garagepi", bridge)
	assert.Empty(self.ViaDevice)
	assert.Equal("v1.2.3", self.Version)
}

func TestDiscoveryPayloadOmitsEmptyFields(t *testing.T) {

	require := require.New(t)

	cfg := HADiscoveryConfig{
		Device:     BridgeDevice(domain.BridgeInfo{Name: "RTL-Bridge", Id: "garagepi", Version: "v1"}),
		StateTopic: "home/rtl_devices/x/temperature_C",
		Name:       "Temperature",
		UniqueId:   "x_temperature_C",
		Icon:       "mdi:thermometer",
	}

	raw, err := json.Marshal(cfg)
	require.NoError(err)

	var m map[string]any
	require.NoError(json.Unmarshal(raw, &m))

	_, hasExpire := m["expire_after"]
	require.False(hasExpire, "zero expire_after must be omitted")
	_, hasClass := m["device_class"]
	require.False(hasClass)
	_, hasCmd := m["command_topic"]
	require.False(hasCmd)
}
