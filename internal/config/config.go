package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level

	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Filter    FilterConfig    `mapstructure:"filter"`
	DeviceId  DeviceIdConfig  `mapstructure:"device_id"`
	Battery   BatteryConfig   `mapstructure:"battery"`
	Details   DetailsConfig   `mapstructure:"details"`
	Capture   CaptureConfig   `mapstructure:"capture"`

	// Seconds between aggregation flushes. <= 0 disables buffering and
	// publishes every reading as it arrives.
	ThrottleIntervalSeconds int `mapstructure:"throttle_interval"`

	// "ft3" publishes raw gas counters, "ccf" rescales to billing units.
	GasUnit string `mapstructure:"gas_unit"`

	Port    uint `mapstructure:"port"`
	HttpLog bool `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

type BridgeConfig struct {
	// Name is the bridge device model shown in Home Assistant.
	Name string `mapstructure:"name"`
	// Id identifies this bridge instance. Empty = derived from the hostname.
	Id string `mapstructure:"id"`
	// IdSuffix is appended to every unique_id and control topic so multiple
	// bridges can share a broker.
	IdSuffix string `mapstructure:"id_suffix"`
}

type DiscoveryConfig struct {
	Prefix    string `mapstructure:"prefix"`
	Namespace string `mapstructure:"namespace"`
	// ExpireAfter seconds for sensor entities. <= 0 omits the field.
	ExpireAfter int `mapstructure:"expire_after"`
	// MainSensors lose the diagnostic entity category.
	MainSensors          []string `mapstructure:"main_sensors"`
	VerboseTransmissions bool     `mapstructure:"verbose_transmissions"`
}

type IngestConfig struct {
	// EventsTopic is the rtl_433 JSON events subscription. Empty disables
	// the MQTT feed.
	EventsTopic string `mapstructure:"events_topic"`
	// Stdin enables the newline-delimited JSON feed on standard input.
	Stdin bool `mapstructure:"stdin"`
}

type FilterConfig struct {
	Whitelist []string `mapstructure:"whitelist"`
	Blacklist []string `mapstructure:"blacklist"`
}

type DeviceIdConfig struct {
	// Strategy: legacy | model_id | model_id_channel | template
	Strategy string `mapstructure:"strategy"`
	Template string `mapstructure:"template"`
}

type BatteryConfig struct {
	// ClearAfterSeconds of continuous "ok" before a latched low clears.
	ClearAfterSeconds int `mapstructure:"clear_after"`
}

type DetailsConfig struct {
	Enabled                bool     `mapstructure:"enabled"`
	PublishIntervalSeconds int      `mapstructure:"publish_interval"`
	MaxKeys                int      `mapstructure:"max_keys"`
	ValueMaxLen            int      `mapstructure:"value_maxlen"`
	IncludeKeys            []string `mapstructure:"include_keys"`
}

type CaptureConfig struct {
	Seconds int    `mapstructure:"seconds"`
	Dir     string `mapstructure:"dir"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func CheckIdSuffix(suffix string) (string, error) {
	// empty suffix is valid (single-bridge setups)
	if suffix == "" {
		return "", nil
	}
	lower := strings.ToLower(suffix)
	suffixRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := suffixRegexp.FindAllStringSubmatch(lower, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid id suffix. can only contain letters, numbers and underscores")
	}
	return lower, nil
}
