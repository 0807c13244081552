package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEventLine = `{"time":"2024-06-01 12:00:00","model":"Acurite-5n1","id":3554,` +
	`"channel":"A","battery_ok":1,"temperature_C":21.5,"humidity":60,"mic":"CHECKSUM",` +
	`"rssi":-7.2,"protocol":40}`

func TestParseLine(t *testing.T) {
	require := require.New(t)

	ev, err := ParseLine(sampleEventLine)
	require.NoError(err)
	require.Equal("Acurite-5n1", ev.Model())
	require.Equal("3554", ev.RawId())

	p, ok := ev.Protocol()
	require.True(ok)
	require.Equal(40, p)
}

func TestParseLineRejectsGarbage(t *testing.T) {
	_, err := ParseLine("")
	assert.Error(t, err)
	_, err = ParseLine("not json")
	assert.Error(t, err)
	_, err = ParseLine(`["array"]`)
	assert.Error(t, err)
	_, err = ParseLine(`{"broken":`)
	assert.Error(t, err)
}

func TestReadingsSkipIdentityFields(t *testing.T) {
	require := require.New(t)

	ev, err := ParseLine(sampleEventLine)
	require.NoError(err)

	readings := ev.Readings("3554", "Acurite-5n1 3554", "Acurite-5n1", "RTL_001", "433.92M")

	fields := map[string]bool{}
	for _, r := range readings {
		fields[r.Field] = true
		require.Equal("3554", r.DeviceKey)
		require.Equal("Acurite-5n1 3554", r.DeviceName)
		require.Equal("Acurite-5n1", r.DeviceModel)
		require.Equal("RTL_001", r.RadioName)
	}

	assert.True(t, fields["battery_ok"])
	assert.True(t, fields["temperature_C"])
	assert.True(t, fields["humidity"])
	assert.True(t, fields["rssi"])
	assert.True(t, fields["dew_point"])
	assert.False(t, fields["time"])
	assert.False(t, fields["model"])
	assert.False(t, fields["id"])
	assert.False(t, fields["channel"])
	assert.False(t, fields["mic"])
	assert.False(t, fields["protocol"])
}

func TestReadingsDropNullsAndNested(t *testing.T) {
	require := require.New(t)

	ev, err := ParseLine(`{"model":"X","id":1,"humidity":null,"rows":[{"len":32}],"temperature_C":10}`)
	require.NoError(err)

	readings := ev.Readings("1", "X 1", "X", "stdin", "")
	require.Len(readings, 1)
	require.Equal("temperature_C", readings[0].Field)
}

func TestDewPointFromCelsius(t *testing.T) {
	require := require.New(t)

	ev, err := ParseLine(`{"model":"X","id":1,"temperature_C":20.0,"humidity":50}`)
	require.NoError(err)

	dp, ok := ev.DewPointF()
	require.True(ok)
	// 20°C at 50% RH -> dew point around 9.3°C = 48.7°F
	require.InDelta(48.7, dp, 0.3)
}

func TestDewPointFromFahrenheit(t *testing.T) {
	require := require.New(t)

	ev, err := ParseLine(`{"model":"X","id":1,"temperature_F":68.0,"humidity":50}`)
	require.NoError(err)

	dp, ok := ev.DewPointF()
	require.True(ok)
	require.InDelta(48.7, dp, 0.3)
}

func TestDewPointRequiresHumidity(t *testing.T) {
	ev, err := ParseLine(`{"model":"X","id":1,"temperature_C":20.0}`)
	require.NoError(t, err)
	_, ok := ev.DewPointF()
	assert.False(t, ok)

	ev, err = ParseLine(`{"model":"X","id":1,"temperature_C":20.0,"humidity":0}`)
	require.NoError(t, err)
	_, ok = ev.DewPointF()
	assert.False(t, ok)
}
