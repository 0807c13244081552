package util

import (
	"os"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host: "localhost",
			Port: 1883,
		},
		Bridge: config.BridgeConfig{
			Name: "RTL Bridge",
			Id:   "rtlbridge01",
		},
		Discovery: config.DiscoveryConfig{
			Prefix:      "homeassistant",
			Namespace:   "rtl_devices",
			ExpireAfter: 900,
			MainSensors: []string{"temperature_F"},
		},
		Ingest: config.IngestConfig{
			EventsTopic: "rtl_433/+/events",
		},
		DeviceId: config.DeviceIdConfig{
			Strategy: "model_id",
		},
		Battery: config.BatteryConfig{
			ClearAfterSeconds: 300,
		},
		Details: config.DetailsConfig{
			Enabled:                true,
			PublishIntervalSeconds: 300,
			MaxKeys:                40,
			ValueMaxLen:            256,
		},
		Capture: config.CaptureConfig{
			Seconds: 30,
			Dir:     os.TempDir(),
		},
		GasUnit: "ft3",
		Port:    8080,
	}
}
