package actor

import (
	"sync"
	"testing"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/port"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/service"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	"github.com/berfenger/rtlhaos2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sinkMessage struct {
	Topic   string
	Payload string
	Retain  bool
}

// recordingSink captures publishes across actor goroutines.
type recordingSink struct {
	mu       sync.Mutex
	messages []sinkMessage
}

func (s *recordingSink) Publish(topic string, payload string, retain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sinkMessage{Topic: topic, Payload: payload, Retain: retain})
}

func (s *recordingSink) byTopic(topic string) []sinkMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkMessage
	for _, m := range s.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) lastPayload(topic string) (string, bool) {
	msgs := s.byTopic(topic)
	if len(msgs) == 0 {
		return "", false
	}
	return msgs[len(msgs)-1].Payload, true
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func testPublisher(cfg *config.Config, topics mqtt.Topics, sink port.MessageSink, logger *zap.Logger) *service.EntityPublisher {
	return service.NewEntityPublisher(service.PublisherOptions{
		Topics:               topics,
		Bridge:               domain.BridgeInfo{Name: cfg.Bridge.Name, Id: "rtlbridge01", Version: "1.0.0"},
		ExpireAfterSeconds:   cfg.Discovery.ExpireAfter,
		MainSensors:          cfg.Discovery.MainSensors,
		VerboseTransmissions: cfg.Discovery.VerboseTransmissions,
		GasUnit:              cfg.GasUnit,
		BatteryClearAfter:    time.Duration(cfg.Battery.ClearAfterSeconds) * time.Second,
		CaptureSeconds:       cfg.Capture.Seconds,
		DetailsEnabled:       cfg.Details.Enabled,
		DetailsInterval:      time.Duration(cfg.Details.PublishIntervalSeconds) * time.Second,
		DetailsMaxKeys:       cfg.Details.MaxKeys,
		DetailsValueMaxLen:   cfg.Details.ValueMaxLen,
		DetailsIncludeKeys:   cfg.Details.IncludeKeys,
	}, sink, logger)
}

func TestIngestActorPipeline(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.Capture.Dir = t.TempDir()
	logger := zap.Must(zap.NewDevelopment())

	topics := mqtt.NewTopics(cfg.Discovery.Prefix, cfg.Discovery.Namespace, cfg.Bridge.IdSuffix)
	sink := &recordingSink{}
	publisher := testPublisher(&cfg, topics, sink, logger)
	capture := service.NewCaptureWriter(cfg.Capture.Dir, cfg.Capture.Seconds, "rtlbridge01", logger)
	bridge := domain.BridgeInfo{Name: cfg.Bridge.Name, Id: "rtlbridge01", Version: "1.0.0"}

	as := actor.NewActorSystem()
	context := as.Root
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewIngestActor(&cfg, bridge, publisher, capture, logger)
	}))

	line := `{"time":"2025-06-01 12:00:00","model":"Acurite-Tower","id":1234,"channel":"A",` +
		`"battery_ok":1,"temperature_F":71.2,"humidity":45,"mic":"CHECKSUM","protocol":40}`
	context.Send(pid, domain.RawEventLine{Line: line, Feed: "mqtt"})

	// value lands on the model_id derived state topic
	waitUntil(t, 3*time.Second, func() bool {
		p, ok := sink.lastPayload("home/rtl_devices/macuritetoweri1234/temperature_F")
		return ok && p == "71.2"
	})

	// dew point is synthesized from temperature and humidity
	waitUntil(t, 3*time.Second, func() bool {
		_, ok := sink.lastPayload("home/rtl_devices/macuritetoweri1234/dew_point")
		return ok
	})

	// battery_ok becomes a binary sensor, not a plain sensor
	waitUntil(t, 3*time.Second, func() bool {
		return len(sink.byTopic("homeassistant/binary_sensor/macuritetoweri1234_battery_ok/config")) == 1
	})

	// details attributes carry the whole event
	waitUntil(t, 3*time.Second, func() bool {
		p, ok := sink.lastPayload("home/rtl_devices/macuritetoweri1234/details_attr")
		return ok && p != ""
	})

	// feed status is published as a bridge radio_status entity
	context.Send(pid, domain.FeedStatusEvent{Feed: "mqtt", Status: "subscribed"})
	waitUntil(t, 3*time.Second, func() bool {
		p, ok := sink.lastPayload("home/rtl_devices/rtlbridge01/radio_status_mqtt")
		return ok && p == "subscribed"
	})

	res, err := context.RequestFuture(pid, domain.BridgeStatusRequest{}, 3*time.Second).Result()
	require.NoError(t, err)
	status, ok := res.(domain.BridgeStatusResponse)
	require.True(t, ok)
	assert.Equal(t, "-R 40", status.ProtocolsHint)
	assert.Equal(t, "idle", status.CaptureStatus)
	assert.GreaterOrEqual(t, status.TrackedDevices, 1)
	assert.Equal(t, "1.0.0", status.Version)

	context.Stop(pid)
	as.Shutdown()
}

func TestIngestActorFiltersAndSkipsJunk(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.Capture.Dir = t.TempDir()
	cfg.Filter.Blacklist = []string{"Acurite-Tower"}
	logger := zap.Must(zap.NewDevelopment())

	topics := mqtt.NewTopics(cfg.Discovery.Prefix, cfg.Discovery.Namespace, cfg.Bridge.IdSuffix)
	sink := &recordingSink{}
	publisher := testPublisher(&cfg, topics, sink, logger)
	capture := service.NewCaptureWriter(cfg.Capture.Dir, cfg.Capture.Seconds, "rtlbridge01", logger)
	bridge := domain.BridgeInfo{Name: cfg.Bridge.Name, Id: "rtlbridge01", Version: "1.0.0"}

	as := actor.NewActorSystem()
	context := as.Root
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewIngestActor(&cfg, bridge, publisher, capture, logger)
	}))

	// not JSON, no model, and a blacklisted device: none may publish
	context.Send(pid, domain.RawEventLine{Line: "Detected OOK package", Feed: "stdin"})
	context.Send(pid, domain.RawEventLine{Line: `{"time":"2025-06-01 12:00:00"}`, Feed: "stdin"})
	context.Send(pid, domain.RawEventLine{Line: `{"model":"Acurite-Tower","id":1234,"temperature_F":70.0}`, Feed: "stdin"})

	// an allowed device still flows
	context.Send(pid, domain.RawEventLine{Line: `{"model":"LaCrosse-TX141THBv2","id":77,"temperature_C":20.0}`, Feed: "stdin"})
	waitUntil(t, 3*time.Second, func() bool {
		_, ok := sink.lastPayload("home/rtl_devices/mlacrossetx141thbv2i77/temperature_C")
		return ok
	})

	assert.Empty(t, sink.byTopic("home/rtl_devices/macuritetoweri1234/temperature_F"))

	context.Stop(pid)
	as.Shutdown()
}

func TestIngestActorThrottledFlush(t *testing.T) {

	cfg := util.LoadTestConfig()
	cfg.Capture.Dir = t.TempDir()
	cfg.ThrottleIntervalSeconds = 1
	logger := zap.Must(zap.NewDevelopment())

	topics := mqtt.NewTopics(cfg.Discovery.Prefix, cfg.Discovery.Namespace, cfg.Bridge.IdSuffix)
	sink := &recordingSink{}
	publisher := testPublisher(&cfg, topics, sink, logger)
	capture := service.NewCaptureWriter(cfg.Capture.Dir, cfg.Capture.Seconds, "rtlbridge01", logger)
	bridge := domain.BridgeInfo{Name: cfg.Bridge.Name, Id: "rtlbridge01", Version: "1.0.0"}

	as := actor.NewActorSystem()
	context := as.Root
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewIngestActor(&cfg, bridge, publisher, capture, logger)
	}))

	// two transmissions inside one window collapse into one publish
	context.Send(pid, domain.RawEventLine{Line: `{"model":"Acurite-Tower","id":1234,"temperature_F":70.0}`, Feed: "mqtt"})
	context.Send(pid, domain.RawEventLine{Line: `{"model":"Acurite-Tower","id":1234,"temperature_F":71.0}`, Feed: "mqtt"})

	waitUntil(t, 4*time.Second, func() bool {
		_, ok := sink.lastPayload("home/rtl_devices/macuritetoweri1234/temperature_F")
		return ok
	})
	values := sink.byTopic("home/rtl_devices/macuritetoweri1234/temperature_F")
	assert.Len(t, values, 1)

	context.Stop(pid)
	as.Shutdown()
}
