package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acuriteFields() map[string]any {
	return map[string]any{
		"model":   "Acurite-5n1",
		"id":      float64(3554),
		"channel": "A",
	}
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "aabbccddeeff", CleanKey("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "macurite5n1i3554ca", CleanKey("mAcurite-5n1i3554cA"))
	assert.Equal(t, "unknown", CleanKey("---"))
	assert.Equal(t, "unknown", CleanKey(""))
}

func TestDeviceKeyStrategies(t *testing.T) {
	require := require.New(t)

	fields := acuriteFields()

	require.Equal("3554", DeviceKey(fields, DEVICE_KEY_LEGACY, ""))
	require.Equal("mAcurite-5n1i3554", DeviceKey(fields, DEVICE_KEY_MODEL_ID, ""))
	require.Equal("mAcurite-5n1i3554cA", DeviceKey(fields, DEVICE_KEY_MODEL_ID_CHANNEL, ""))
	require.Equal("mAcurite-5n1i3554cA", DeviceKey(fields, DEVICE_KEY_TEMPLATE, DEFAULT_KEY_TEMPLATE))

	// unknown strategy falls back to legacy
	require.Equal("3554", DeviceKey(fields, "bogus", ""))
}

func TestDeviceKeyMissingComponents(t *testing.T) {
	fields := map[string]any{"model": "Cotech-367959"}

	assert.Equal(t, "na", DeviceKey(fields, DEVICE_KEY_LEGACY, ""))
	assert.Equal(t, "mCotech-367959ina", DeviceKey(fields, DEVICE_KEY_MODEL_ID, ""))
	assert.Equal(t, "mCotech-367959inacna", DeviceKey(fields, DEVICE_KEY_MODEL_ID_CHANNEL, ""))
}

func TestDeviceKeyTemplateUnknownToken(t *testing.T) {
	fields := acuriteFields()
	assert.Equal(t, "3554-na", DeviceKey(fields, DEVICE_KEY_TEMPLATE, "{id}-{nonsense}"))
}

func TestDeviceKeyChannelVariants(t *testing.T) {
	fields := map[string]any{"model": "X", "id": "7", "chan": float64(3)}
	assert.Equal(t, "mXi7c3", DeviceKey(fields, DEVICE_KEY_MODEL_ID_CHANNEL, ""))
}

func TestDisplayName(t *testing.T) {
	fields := acuriteFields()

	assert.Equal(t, "Acurite-5n1 3554", DisplayName(fields, "Acurite-5n1", "3554", DEVICE_KEY_LEGACY, ""))
	assert.Equal(t, "Acurite-5n1 3554 chA", DisplayName(fields, "Acurite-5n1", "macurite5n1i3554ca", DEVICE_KEY_MODEL_ID_CHANNEL, ""))
	assert.Equal(t, "Acurite-5n1 3554 chA", DisplayName(fields, "Acurite-5n1", "x", DEVICE_KEY_TEMPLATE, DEFAULT_KEY_TEMPLATE))

	// id missing: fall back to the cleaned key
	assert.Equal(t, "Acurite-5n1 abc123", DisplayName(map[string]any{}, "Acurite-5n1", "abc123", DEVICE_KEY_LEGACY, ""))
	assert.Equal(t, "Unknown unknown", DisplayName(map[string]any{}, "", "", DEVICE_KEY_LEGACY, ""))
}

func TestSystemIdPrefersConfiguredId(t *testing.T) {
	assert.Equal(t, "aabbccddeeff", SystemId("AA:BB:CC:DD:EE:FF"))
	assert.Equal(t, "garage-pi", SystemId("Garage-Pi"))

	// unconfigured: derived from the hostname, never empty
	assert.NotEmpty(t, SystemId(""))
}
