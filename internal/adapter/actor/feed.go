package actor

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

const (
	FEED_MQTT  = "mqtt"
	FEED_STDIN = "stdin"

	// rtl_433 raw-code lines can get long
	feedMaxLineBytes = 1024 * 1024
)

type OnEventStreamMessage struct {
	message any
}

// MQTTFeedActor bridges the rtl_433 events topic to the ingest actor. Each
// MQTT message on the subscribed topic is one JSON event line. A
// RestartFeedsEvent on the event stream re-subscribes, which also covers
// broker session loss.
type MQTTFeedActor struct {
	config         *config.Config
	behavior       actor.Behavior
	stash          *actorutil.Stash
	mqttActor      *actor.PID
	ingestActor    *actor.PID
	topic          string
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger
}

func NewMQTTFeedActor(config *config.Config, mqttActor *actor.PID, ingestActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTFeedActor {
	act := &MQTTFeedActor{
		config:      config,
		mqttActor:   mqttActor,
		ingestActor: ingestActor,
		topic:       config.Ingest.EventsTopic,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger("feed_mqtt", logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTFeedActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTFeedActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("feed_mqtt@starting started", zap.String("topic", state.topic))
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), OnEventStreamMessage{message: value})
		})
		ctx.Request(state.mqttActor, domain.SubscribeTopicRequest{Topic: state.topic})
	case domain.SubscribeTopicResponse:
		if msg.HasResponseError() {
			state.logger.Error("feed_mqtt@starting subscribe failed", zap.Error(msg.GetResponseError()))
			panic(msg.GetResponseError())
		}
		state.sendStatus(ctx, "subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.unsubscribeEventStream()
	case *actor.Stopping:
		state.unsubscribeEventStream()
	default:
		state.logger.Debug("feed_mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTFeedActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.TopicMessage:
		ctx.Send(state.ingestActor, domain.RawEventLine{
			Line: string(msg.Payload),
			Feed: FEED_MQTT,
		})
	case OnEventStreamMessage:
		if _, ok := msg.message.(domain.RestartFeedsEvent); ok {
			state.logger.Info("feed_mqtt@default resubscribe", zap.String("topic", state.topic))
			state.sendStatus(ctx, "restarting")
			ctx.Request(state.mqttActor, domain.SubscribeTopicRequest{Topic: state.topic})
		}
	case domain.SubscribeTopicResponse:
		if msg.HasResponseError() {
			state.logger.Error("feed_mqtt@default resubscribe failed", zap.Error(msg.GetResponseError()))
			panic(msg.GetResponseError())
		}
		state.sendStatus(ctx, "subscribed")
	case *actor.Restarting:
		state.unsubscribeEventStream()
	case *actor.Stopping:
		state.unsubscribeEventStream()
		ctx.Send(state.mqttActor, domain.UnsubscribeTopicRequest{Topic: state.topic})
	default:
		state.logger.Debug("feed_mqtt@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MQTTFeedActor) sendStatus(ctx actor.Context, status string) {
	ctx.Send(state.ingestActor, domain.FeedStatusEvent{Feed: FEED_MQTT, Status: status})
}

func (state *MQTTFeedActor) unsubscribeEventStream() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}

type readLine struct {
	text string
}

type readClosed struct {
	err error
}

// ReaderFeedActor pumps newline-delimited JSON events from a reader into the
// ingest actor. Used for rtl_433 piped to stdin. The reader cannot be
// reopened once drained, so a RestartFeedsEvent only refreshes the status
// entity.
type ReaderFeedActor struct {
	reader         io.Reader
	feed           string
	ingestActor    *actor.PID
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	status         string
	logger         *zap.Logger
}

func NewStdinFeedActor(ingestActor *actor.PID, eventStream *eventstream.EventStream, zlogger *zap.Logger) *ReaderFeedActor {
	return NewReaderFeedActor(os.Stdin, FEED_STDIN, ingestActor, eventStream, zlogger)
}

func NewReaderFeedActor(reader io.Reader, feed string, ingestActor *actor.PID, eventStream *eventstream.EventStream, zlogger *zap.Logger) *ReaderFeedActor {
	return &ReaderFeedActor{
		reader:      reader,
		feed:        feed,
		ingestActor: ingestActor,
		eventStream: eventStream,
		logger:      actorutil.ActorLogger("feed_"+feed, zlogger),
	}
}

func (state *ReaderFeedActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("feed_reader started", zap.String("feed", state.feed))
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), OnEventStreamMessage{message: value})
		})
		state.setStatus(ctx, "reading")
		go state.pump(ctx)
	case readLine:
		ctx.Send(state.ingestActor, domain.RawEventLine{
			Line: msg.text,
			Feed: state.feed,
		})
	case readClosed:
		if msg.err != nil {
			state.logger.Error("feed_reader closed", zap.String("feed", state.feed), zap.Error(msg.err))
			state.setStatus(ctx, fmt.Sprintf("closed (error: %s)", msg.err))
		} else {
			state.logger.Info("feed_reader closed", zap.String("feed", state.feed))
			state.setStatus(ctx, "closed")
		}
	case OnEventStreamMessage:
		if _, ok := msg.message.(domain.RestartFeedsEvent); ok {
			// keep the retained status entity fresh after a nuke sweep
			state.setStatus(ctx, state.status)
		}
	case *actor.Restarting:
		state.unsubscribeEventStream()
	case *actor.Stopping:
		state.unsubscribeEventStream()
	}
}

func (state *ReaderFeedActor) pump(ctx actor.Context) {
	scanner := bufio.NewScanner(state.reader)
	scanner.Buffer(make([]byte, 64*1024), feedMaxLineBytes)
	for scanner.Scan() {
		ctx.Send(ctx.Self(), readLine{text: scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		logger.Error(err)
	}
	ctx.Send(ctx.Self(), readClosed{err: scanner.Err()})
}

func (state *ReaderFeedActor) setStatus(ctx actor.Context, status string) {
	state.status = status
	ctx.Send(state.ingestActor, domain.FeedStatusEvent{Feed: state.feed, Status: status})
}

func (state *ReaderFeedActor) unsubscribeEventStream() {
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}
