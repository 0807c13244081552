package actor

import (
	"strings"
	"testing"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// probeActor records everything it receives for assertions.
type probeActor struct {
	sink chan any
}

func (p *probeActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started, *actor.Stopping, *actor.Stopped, *actor.Restarting:
	default:
		p.sink <- msg
	}
}

func awaitMessage[T any](t *testing.T, sink chan any) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case m := <-sink:
			if v, ok := m.(T); ok {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestMQTTFeedForwardsLines(t *testing.T) {

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	context := as.Root
	es := &eventstream.EventStream{}

	sink := make(chan any, 64)
	probe := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return &probeActor{sink: sink} }))

	mqttPid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewTestMQTTActor(&cfg, testTopics(), logger)
	}))

	feedPid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewMQTTFeedActor(&cfg, mqttPid, probe, es, logger)
	}))

	status := awaitMessage[domain.FeedStatusEvent](t, sink)
	assert.Equal(t, FEED_MQTT, status.Feed)
	assert.Equal(t, "subscribed", status.Status)

	context.Send(feedPid, domain.TopicMessage{
		Topic:   "rtl_433/radio1/events",
		Payload: []byte(`{"model":"Acurite-Tower","id":1234}`),
	})

	line := awaitMessage[domain.RawEventLine](t, sink)
	assert.Equal(t, FEED_MQTT, line.Feed)
	assert.Contains(t, line.Line, "Acurite-Tower")

	// a feed restart rolls the subscription and reports both transitions
	es.Publish(domain.RestartFeedsEvent{})

	status = awaitMessage[domain.FeedStatusEvent](t, sink)
	assert.Equal(t, "restarting", status.Status)
	status = awaitMessage[domain.FeedStatusEvent](t, sink)
	assert.Equal(t, "subscribed", status.Status)

	context.Stop(feedPid)
	as.Shutdown()
}

func TestReaderFeedPumpsUntilEOF(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actor.NewActorSystem()
	context := as.Root
	es := &eventstream.EventStream{}

	sink := make(chan any, 64)
	probe := context.Spawn(actor.PropsFromProducer(func() actor.Actor { return &probeActor{sink: sink} }))

	input := `{"model":"Acurite-Tower","id":1234,"temperature_F":71.2}` + "\n" +
		`{"model":"SCMplus","EndpointID":420029,"Consumption":217504}` + "\n"

	feedPid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewReaderFeedActor(strings.NewReader(input), FEED_STDIN, probe, es, logger)
	}))

	status := awaitMessage[domain.FeedStatusEvent](t, sink)
	assert.Equal(t, FEED_STDIN, status.Feed)
	assert.Equal(t, "reading", status.Status)

	first := awaitMessage[domain.RawEventLine](t, sink)
	require.Equal(t, FEED_STDIN, first.Feed)
	assert.Contains(t, first.Line, "Acurite-Tower")

	second := awaitMessage[domain.RawEventLine](t, sink)
	assert.Contains(t, second.Line, "SCMplus")

	status = awaitMessage[domain.FeedStatusEvent](t, sink)
	assert.Equal(t, "closed", status.Status)

	context.Stop(feedPid)
	as.Shutdown()
}
