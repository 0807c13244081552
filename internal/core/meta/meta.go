package meta

import (
	"strings"
)

// FieldMeta is the display metadata advertised for a field: unit of
// measurement, Home Assistant device class, icon and default friendly name.
// An empty Unit or DeviceClass is omitted from the discovery payload.
type FieldMeta struct {
	Unit        string
	DeviceClass string
	Icon        string
	Name        string
}

const (
	STATE_CLASS_MEASUREMENT       = "measurement"
	STATE_CLASS_MEASUREMENT_ANGLE = "measurement_angle"
	STATE_CLASS_TOTAL_INCREASING  = "total_increasing"
)

type AggregateMode string

const (
	AGGREGATE_LAST AggregateMode = "last"
	AGGREGATE_MAX  AggregateMode = "max"
	AGGREGATE_MEAN AggregateMode = "mean"
)

// fieldMeta maps the common rtl_433 field vocabulary. Consumption-family
// fields default to raw ft³ until a commodity is inferred for the device.
var fieldMeta = map[string]FieldMeta{
	"temperature_C":    {"°C", "temperature", "mdi:thermometer", "Temperature"},
	"temperature_F":    {"°F", "temperature", "mdi:thermometer", "Temperature"},
	"temperature_1_C":  {"°C", "temperature", "mdi:thermometer", "Temperature 1"},
	"temperature_2_C":  {"°C", "temperature", "mdi:thermometer", "Temperature 2"},
	"dew_point":        {"°F", "temperature", "mdi:thermometer-water", "Dew Point"},
	"humidity":         {"%", "humidity", "mdi:water-percent", "Humidity"},
	"moisture":         {"%", "moisture", "mdi:water-percent", "Moisture"},
	"pressure_hPa":     {"hPa", "pressure", "mdi:gauge", "Pressure"},
	"pressure_kPa":     {"kPa", "pressure", "mdi:gauge", "Pressure"},
	"pressure_PSI":     {"psi", "pressure", "mdi:gauge", "Tire Pressure"},
	"wind_avg_km_h":    {"km/h", "wind_speed", "mdi:weather-windy", "Wind Speed"},
	"wind_avg_m_s":     {"m/s", "wind_speed", "mdi:weather-windy", "Wind Speed"},
	"wind_avg_mi_h":    {"mph", "wind_speed", "mdi:weather-windy", "Wind Speed"},
	"wind_max_km_h":    {"km/h", "wind_speed", "mdi:weather-windy", "Wind Max"},
	"wind_max_m_s":     {"m/s", "wind_speed", "mdi:weather-windy", "Wind Max"},
	"gust_speed_km_h":  {"km/h", "wind_speed", "mdi:weather-windy-variant", "Wind Gust"},
	"gust_speed_m_s":   {"m/s", "wind_speed", "mdi:weather-windy-variant", "Wind Gust"},
	"wind_dir_deg":     {"°", "wind_direction", "mdi:compass", "Wind Direction"},
	"rain_mm":          {"mm", "precipitation", "mdi:weather-rainy", "Rain"},
	"rain_in":          {"in", "precipitation", "mdi:weather-rainy", "Rain"},
	"rain_rate_mm_h":   {"mm/h", "precipitation_intensity", "mdi:weather-pouring", "Rain Rate"},
	"rain_rate_in_h":   {"in/h", "precipitation_intensity", "mdi:weather-pouring", "Rain Rate"},
	"battery_ok":       {"", "battery", "mdi:battery", "Battery"},
	"battery_V":        {"V", "voltage", "mdi:battery", "Battery Voltage"},
	"battery_mV":       {"mV", "voltage", "mdi:battery", "Battery Voltage"},
	"rssi":             {"dB", "signal_strength", "mdi:signal", "RSSI"},
	"snr":              {"dB", "signal_strength", "mdi:signal", "SNR"},
	"noise":            {"dB", "signal_strength", "mdi:signal", "Noise"},
	"Consumption":      {"ft³", "", "mdi:counter", "Consumption"},
	"consumption":      {"ft³", "", "mdi:counter", "Consumption"},
	"consumption_data": {"ft³", "", "mdi:counter", "Consumption"},
	"meter_reading":    {"ft³", "", "mdi:counter", "Meter Reading"},
	"power_W":          {"W", "power", "mdi:flash", "Power"},
	"energy_kWh":       {"kWh", "energy", "mdi:flash", "Energy"},
	"current_A":        {"A", "current", "mdi:current-ac", "Current"},
	"voltage_V":        {"V", "voltage", "mdi:sine-wave", "Voltage"},
	"lux":              {"lx", "illuminance", "mdi:brightness-5", "Illuminance"},
	"uv":               {"UV index", "", "mdi:weather-sunny", "UV Index"},
	"uvi":              {"UV index", "", "mdi:weather-sunny", "UV Index"},
	"co2_ppm":          {"ppm", "carbon_dioxide", "mdi:molecule-co2", "CO2"},
	"pm2_5_ug_m3":      {"µg/m³", "pm25", "mdi:blur", "PM2.5"},
	"pm10_ug_m3":       {"µg/m³", "pm10", "mdi:blur", "PM10"},
	"depth_cm":         {"cm", "distance", "mdi:arrow-expand-vertical", "Depth"},
	"strikes":          {"", "", "mdi:flash-alert", "Lightning Strikes"},
	"strike_count":     {"", "", "mdi:flash-alert", "Lightning Strikes"},
	"storm_dist_km":    {"km", "distance", "mdi:flash-alert", "Storm Distance"},
	"sequence_num":     {"", "", "mdi:counter", "Sequence"},
	"counter":          {"", "", "mdi:counter", "Counter"},
	"radio_status":     {"", "", "mdi:radio-tower", "Radio Status"},
	"ert_type":         {"", "", "mdi:gauge", "ERT Type"},
	"MeterType":        {"", "", "mdi:gauge", "Meter Type"},
}

// Lookup returns the table entry for a field, if any. The model parameter is
// reserved for model-specific overrides applied by the publisher (commodity
// and Neptune-R900 handling live there, keyed on learned device state).
func Lookup(field string, model string) (FieldMeta, bool) {
	m, ok := fieldMeta[field]
	return m, ok
}

// Classify returns display metadata for a field, falling back to a neutral
// default (no unit, no device class, mdi:eye, title-cased field name).
func Classify(field string, model string) FieldMeta {
	if m, ok := Lookup(field, model); ok {
		return m
	}
	return DefaultMeta(field)
}

func DefaultMeta(field string) FieldMeta {
	return FieldMeta{
		Unit:        "",
		DeviceClass: "",
		Icon:        "mdi:eye",
		Name:        titleCase(field),
	}
}

// AggregationMode decides how buffered values of a field reduce on flush.
// Latched booleans, angles and cumulative totals must never be averaged.
// Peaks are the meaningful statistic for gusts and signal quality.
func AggregationMode(field string, model string) AggregateMode {
	f := strings.TrimSpace(field)
	fl := strings.ToLower(f)

	// battery_ok is latched/translated downstream; never average.
	if f == "battery_ok" {
		return AGGREGATE_LAST
	}

	// Averaging 359° and 1° should not yield 180°.
	if fl == "wind_dir" || fl == "wind_dir_deg" {
		return AGGREGATE_LAST
	}

	if strings.Contains(fl, "gust") {
		return AGGREGATE_MAX
	}
	switch fl {
	case "rssi", "snr", "noise", "rssi_db", "snr_db", "noise_db":
		return AGGREGATE_MAX
	}

	switch fl {
	case "counter", "sequence", "strikes", "strike_count":
		return AGGREGATE_LAST
	}

	if m, ok := Lookup(f, model); ok {
		switch m.DeviceClass {
		case "gas", "energy", "water", "precipitation":
			return AGGREGATE_LAST
		}
	}

	return AGGREGATE_MEAN
}

// StateClassFor maps a device class to the state_class advertised in the
// discovery payload, or "" when none applies.
func StateClassFor(deviceClass string) string {
	switch deviceClass {
	case "gas", "energy", "water", "monetary", "precipitation":
		return STATE_CLASS_TOTAL_INCREASING
	case "temperature", "humidity", "pressure", "illuminance", "voltage", "wind_speed", "moisture":
		return STATE_CLASS_MEASUREMENT
	case "wind_direction":
		return STATE_CLASS_MEASUREMENT_ANGLE
	}
	return ""
}

func titleCase(field string) string {
	parts := strings.FieldsFunc(field, func(r rune) bool {
		return r == '_' || r == ' '
	})
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	if len(parts) == 0 {
		return field
	}
	return strings.Join(parts, " ")
}
