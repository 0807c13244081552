package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detailsOpts(o *PublisherOptions) {
	o.DetailsEnabled = true
	o.DetailsInterval = 30 * time.Second
	o.DetailsMaxKeys = 40
	o.DetailsValueMaxLen = 10
	o.DetailsIncludeKeys = []string{"freq"}
}

func TestDetailsEntityPublish(t *testing.T) {

	p, sink, _ := newTestPublisher(t, detailsOpts)

	p.UpdateDetails("acurite_tower_1234", "Acurite-Tower 1234", "Acurite-Tower", map[string]any{
		"id":   1234,
		"freq": "915M",
		"raw":  "aaaaaaaaaaaaaaaaaaaa",
		"sub":  map[string]any{"a": 1},
	}, "2026-01-02T03:04:05Z")

	cfgs := sink.byTopic("homeassistant/sensor/acurite_tower_1234_details/config")
	require.Len(t, cfgs, 1)
	cfg := unmarshalConfig(t, cfgs[0].Payload)
	assert.Equal(t, "Details", cfg["name"])
	assert.Equal(t, "mdi:information-outline", cfg["icon"])
	assert.Equal(t, "diagnostic", cfg["entity_category"])
	assert.Equal(t, "home/rtl_devices/acurite_tower_1234/details_attr", cfg["json_attributes_topic"])
	assert.Equal(t, "home/rtl_devices/acurite_tower_1234/details", cfg["state_topic"])

	var attrs map[string]any
	require.NoError(t, json.Unmarshal([]byte(sink.lastPayload("home/rtl_devices/acurite_tower_1234/details_attr")), &attrs))
	assert.Equal(t, "2026-01-02T03:04:05Z", attrs["last_seen"])
	assert.Equal(t, "Acurite-Tower", attrs["model"])
	assert.Equal(t, "Acurite-Tower 1234", attrs["device"])
	assert.Equal(t, float64(1234), attrs["id"])
	// long and structured values flatten to bounded strings
	assert.Equal(t, "aaaaaaaaaa", attrs["raw"])
	assert.Equal(t, `{"a":1}`, attrs["sub"])

	assert.Equal(t, "ok", sink.lastPayload("home/rtl_devices/acurite_tower_1234/details"))

	assert.Equal(t, 1, p.TrackedDeviceCount())
}

func TestDetailsThrottledPerDevice(t *testing.T) {

	p, sink, clock := newTestPublisher(t, detailsOpts)
	attrTopic := "home/rtl_devices/dev1/details_attr"

	p.UpdateDetails("dev1", "Dev 1", "Acurite-Tower", map[string]any{"rssi": -42.5}, "")
	require.Len(t, sink.byTopic(attrTopic), 1)

	// merged but silent inside the interval
	p.UpdateDetails("dev1", "Dev 1", "Acurite-Tower", map[string]any{"snr": 12.0}, "")
	require.Len(t, sink.byTopic(attrTopic), 1)

	clock.advance(31 * time.Second)
	p.UpdateDetails("dev1", "Dev 1", "Acurite-Tower", map[string]any{"rssi": -40.0}, "")

	msgs := sink.byTopic(attrTopic)
	require.Len(t, msgs, 2)
	var attrs map[string]any
	require.NoError(t, json.Unmarshal([]byte(msgs[1].Payload), &attrs))
	assert.Equal(t, float64(-40.0), attrs["rssi"])
	// earlier merges survive
	assert.Equal(t, float64(12.0), attrs["snr"])
}

func TestDetailsTrimsToMaxKeys(t *testing.T) {

	p, sink, _ := newTestPublisher(t, func(o *PublisherOptions) {
		detailsOpts(o)
		o.DetailsMaxKeys = 6
	})

	p.UpdateDetails("dev1", "Dev 1", "Acurite-Tower", map[string]any{
		"id":   1234,
		"freq": "915M",
		"mod":  "ASK",
		"rssi": -42.5,
		"raw":  "zz",
	}, "")

	var attrs map[string]any
	require.NoError(t, json.Unmarshal([]byte(sink.lastPayload("home/rtl_devices/dev1/details_attr")), &attrs))
	assert.Len(t, attrs, 6)

	// core identity and include keys always survive the trim
	for _, k := range []string{"last_seen", "model", "device", "freq"} {
		assert.Contains(t, attrs, k)
	}
	// remaining capacity fills in sorted key order
	assert.Contains(t, attrs, "id")
	assert.Contains(t, attrs, "mod")
	assert.NotContains(t, attrs, "raw")
	assert.NotContains(t, attrs, "rssi")
}

func TestDetailsDisabledStaysSilent(t *testing.T) {

	p, sink, _ := newTestPublisher(t, nil)

	p.UpdateDetails("dev1", "Dev 1", "Acurite-Tower", map[string]any{"rssi": -42.5}, "")
	assert.Empty(t, sink.messages)
	assert.Equal(t, 0, p.TrackedDeviceCount())
}
