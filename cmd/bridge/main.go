package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/rtlhaos2mqtt/internal/adapter/actor"
	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/actor"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/ingest"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	"github.com/berfenger/rtlhaos2mqtt/internal/server"
	"github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	slog.Info("starting rtlhaos2mqtt", "version", versioninfo.Short())

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, mqttActorProvider(cfg, logger), logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => RTLHAOS_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("RTLHAOS_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("rtlhaos")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix homeassistant discovery prefix
	prefix, err := config.CheckMQTTTopic(cfg.Discovery.Prefix)
	if err != nil {
		return nil, errors.New("invalid discovery prefix. can only contain letters, numbers and underscores")
	}
	cfg.Discovery.Prefix = prefix

	// check and fix state topic namespace
	namespace, err := config.CheckMQTTTopic(cfg.Discovery.Namespace)
	if err != nil {
		return nil, errors.New("invalid state namespace. can only contain letters, numbers and underscores")
	}
	cfg.Discovery.Namespace = namespace

	// check and fix bridge id suffix
	suffix, err := config.CheckIdSuffix(cfg.Bridge.IdSuffix)
	if err != nil {
		return nil, errors.New("invalid bridge id suffix. can only contain letters, numbers and underscores")
	}
	cfg.Bridge.IdSuffix = suffix

	// check device key strategy
	switch strings.ToLower(strings.TrimSpace(cfg.DeviceId.Strategy)) {
	case ingest.DEVICE_KEY_LEGACY, ingest.DEVICE_KEY_MODEL_ID,
		ingest.DEVICE_KEY_MODEL_ID_CHANNEL, ingest.DEVICE_KEY_TEMPLATE:
	default:
		return nil, errors.New("config param device_id.strategy should be one of legacy, model_id, model_id_channel or template")
	}

	// check gas unit
	switch strings.ToLower(strings.TrimSpace(cfg.GasUnit)) {
	case "", "ft3", "ccf", "centum_cubic_feet":
	default:
		return nil, errors.New("config param gas_unit should be ft3 or ccf")
	}

	// check bounds
	if cfg.ThrottleIntervalSeconds < 0 {
		return nil, errors.New("config param throttle_interval should be >= 0")
	}
	if cfg.Discovery.ExpireAfter < 0 {
		return nil, errors.New("config param discovery.expire_after should be >= 0")
	}
	if cfg.Battery.ClearAfterSeconds < 0 {
		return nil, errors.New("config param battery.clear_after should be >= 0")
	}
	if cfg.Details.PublishIntervalSeconds < 0 {
		return nil, errors.New("config param details.publish_interval should be >= 0")
	}
	if cfg.Details.MaxKeys < 1 {
		return nil, errors.New("config param details.max_keys should be >= 1")
	}
	if cfg.Details.ValueMaxLen < 1 {
		return nil, errors.New("config param details.value_maxlen should be >= 1")
	}
	if cfg.Capture.Seconds < 1 || cfg.Capture.Seconds > 600 {
		return nil, errors.New("config param capture.seconds should be between 1 and 600")
	}
	if cfg.Ingest.EventsTopic == "" && !cfg.Ingest.Stdin {
		return nil, errors.New("no event feed enabled. set ingest.events_topic or ingest.stdin")
	}

	return &cfg, nil
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(topics mqtt.Topics) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, topics, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "info")
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("bridge.name", "RTL Bridge")
	viper.SetDefault("bridge.id", "")
	viper.SetDefault("bridge.id_suffix", "")
	viper.SetDefault("discovery.prefix", "homeassistant")
	viper.SetDefault("discovery.namespace", "rtl_devices")
	viper.SetDefault("discovery.expire_after", 0)
	viper.SetDefault("discovery.main_sensors", []string{})
	viper.SetDefault("discovery.verbose_transmissions", false)
	viper.SetDefault("ingest.events_topic", "rtl_433/+/events")
	viper.SetDefault("ingest.stdin", false)
	viper.SetDefault("filter.whitelist", []string{})
	viper.SetDefault("filter.blacklist", []string{})
	viper.SetDefault("device_id.strategy", ingest.DEVICE_KEY_LEGACY)
	viper.SetDefault("device_id.template", ingest.DEFAULT_KEY_TEMPLATE)
	viper.SetDefault("battery.clear_after", 0)
	viper.SetDefault("details.enabled", false)
	viper.SetDefault("details.publish_interval", 30)
	viper.SetDefault("details.max_keys", 40)
	viper.SetDefault("details.value_maxlen", 160)
	viper.SetDefault("details.include_keys", []string{})
	viper.SetDefault("capture.seconds", 30)
	viper.SetDefault("capture.dir", "/share/rtl-haos/captures")
	viper.SetDefault("throttle_interval", 0)
	viper.SetDefault("gas_unit", "ft3")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
