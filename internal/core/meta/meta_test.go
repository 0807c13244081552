package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKnownField(t *testing.T) {
	m := Classify("temperature_C", "Acurite-5n1")
	assert.Equal(t, "°C", m.Unit)
	assert.Equal(t, "temperature", m.DeviceClass)
	assert.Equal(t, "mdi:thermometer", m.Icon)
	assert.Equal(t, "Temperature", m.Name)
}

func TestClassifyUnknownFieldFallsBackToDefault(t *testing.T) {
	m := Classify("ert_crc_errors", "")
	assert.Empty(t, m.Unit)
	assert.Empty(t, m.DeviceClass)
	assert.Equal(t, "mdi:eye", m.Icon)
	assert.Equal(t, "Ert Crc Errors", m.Name)
}

func TestConsumptionDefaultsToCubicFeet(t *testing.T) {
	require := require.New(t)

	for _, f := range []string{"Consumption", "consumption", "consumption_data", "meter_reading"} {
		m, ok := Lookup(f, "")
		require.True(ok, f)
		require.Equal("ft³", m.Unit, f)
		require.Empty(m.DeviceClass, f)
	}
}

func TestAggregationModeLatchedAndAngular(t *testing.T) {
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("battery_ok", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("wind_dir", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("wind_dir_deg", ""))
}

func TestAggregationModePeaks(t *testing.T) {
	assert.Equal(t, AGGREGATE_MAX, AggregationMode("gust_speed_km_h", ""))
	assert.Equal(t, AGGREGATE_MAX, AggregationMode("wind_gust", ""))
	assert.Equal(t, AGGREGATE_MAX, AggregationMode("rssi", ""))
	assert.Equal(t, AGGREGATE_MAX, AggregationMode("snr_db", ""))
	assert.Equal(t, AGGREGATE_MAX, AggregationMode("noise", ""))
}

func TestAggregationModeCounters(t *testing.T) {
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("counter", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("sequence", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("strikes", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("strike_count", ""))
}

func TestAggregationModeAccumulatingTotals(t *testing.T) {
	// precipitation resolves through the metadata table
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("rain_mm", ""))
	assert.Equal(t, AGGREGATE_LAST, AggregationMode("energy_kWh", ""))
}

func TestAggregationModeDefaultsToMean(t *testing.T) {
	assert.Equal(t, AGGREGATE_MEAN, AggregationMode("temperature_C", ""))
	assert.Equal(t, AGGREGATE_MEAN, AggregationMode("humidity", ""))
	assert.Equal(t, AGGREGATE_MEAN, AggregationMode("some_unknown_field", ""))
}

func TestStateClassMapping(t *testing.T) {
	assert.Equal(t, STATE_CLASS_TOTAL_INCREASING, StateClassFor("gas"))
	assert.Equal(t, STATE_CLASS_TOTAL_INCREASING, StateClassFor("energy"))
	assert.Equal(t, STATE_CLASS_TOTAL_INCREASING, StateClassFor("water"))
	assert.Equal(t, STATE_CLASS_TOTAL_INCREASING, StateClassFor("precipitation"))
	assert.Equal(t, STATE_CLASS_MEASUREMENT, StateClassFor("temperature"))
	assert.Equal(t, STATE_CLASS_MEASUREMENT, StateClassFor("wind_speed"))
	assert.Equal(t, STATE_CLASS_MEASUREMENT_ANGLE, StateClassFor("wind_direction"))
	assert.Empty(t, StateClassFor("battery"))
	assert.Empty(t, StateClassFor(""))
}
