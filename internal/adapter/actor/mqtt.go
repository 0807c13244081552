package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	"github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor owns the broker connection. Topic subscriptions requested by
// other actors forward raw messages to the requester; parsed control
// commands route to the parent. Messages arriving before the connection is
// up are stashed and replayed once subscribed.
type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	topics   mqtt.Topics
	logger   *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

// MQTTReady tells the parent the broker session is up, initially and after
// every reconnect cycle.
type MQTTReady struct {
}

type MQTTConnectionLost struct {
	Error error
}

// MQTTConnectFailed tells the parent a connect attempt failed before the
// session was established.
type MQTTConnectFailed struct {
	Error error
}

// ParsedCommand is a control button press parsed from a command topic.
type ParsedCommand struct {
	Command *mqtt.ParsedControlCommand
}

type publishResult struct {
	ReplyTo *actor.PID
	Error   error
}

type subscribeResult struct {
	Topic   string
	ReplyTo *actor.PID
	Error   error
}

type unsubscribeResult struct {
	Topic   string
	ReplyTo *actor.PID
	Error   error
}

func NewMQTTActor(config *config.Config, topics mqtt.Topics, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		topics:   topics,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateMQTTClient(state.topics, mqtt.OptsFromConfig(state.config, state.topics), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.topics.Availability(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// subscribe to the bridge's own command topics
		state.client.SubscribeToCommandTopics(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseControlCommand(m)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		// init completed, transition to default state
		state.logger.Debug("mqtt@starting subscribed")
		ctx.Send(ctx.Parent(), MQTTReady{})
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		ctx.Send(ctx.Parent(), MQTTConnectFailed{Error: msg.Error})
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "connected",
		})
	case ParsedCommand:
		// route command to parent
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishMessageRequest:
		state.publishMessage(ctx, msg.Topic, msg.Payload, msg.Retain, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.SubscribeTopicRequest:
		state.subscribeTopic(ctx, msg.Topic, actorutil.ForRequest(msg).ReplyTo(ctx))
	case domain.UnsubscribeTopicRequest:
		state.unsubscribeTopic(ctx, msg.Topic, actorutil.ForRequest(msg).ReplyTo(ctx))
	case publishResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@default could not publish a message", zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.PublishMessageResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
			})
		}
	case subscribeResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@default subscribe failed", zap.String("topic", msg.Topic), zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.SubscribeTopicResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
				Topic: msg.Topic,
			})
		}
	case unsubscribeResult:
		if msg.Error != nil {
			state.logger.Error("mqtt@default unsubscribe failed", zap.String("topic", msg.Topic), zap.Error(msg.Error))
		}
		if msg.ReplyTo != nil {
			ctx.Send(msg.ReplyTo, domain.UnsubscribeTopicResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: msg.Error,
				},
				Topic: msg.Topic,
			})
		}
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default ignore", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishMessage fires the publish and reports the outcome to self. Publishes
// stay concurrent: a nuke sweep deletes hundreds of retained configs and must
// not serialize behind a stash.
func (state *MQTTActor) publishMessage(ctx actor.Context, topic, payload string, retain bool, replyTo *actor.PID) {
	state.logger.Sugar().Debugf("mqtt@publish %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, retain, func(err error) {
		if err != nil || replyTo != nil {
			ctx.Send(ctx.Self(), publishResult{ReplyTo: replyTo, Error: err})
		}
	}, 5*time.Second)
}

// subscribeTopic forwards every message on topic to the requesting actor as
// a TopicMessage.
func (state *MQTTActor) subscribeTopic(ctx actor.Context, topic string, replyTo *actor.PID) {
	state.logger.Debug("mqtt@default subscribe", zap.String("topic", topic))
	target := replyTo
	state.client.Subscribe(topic, 0, func(c pahomqtt.Client, m pahomqtt.Message) {
		ctx.Send(target, domain.TopicMessage{
			Topic:   m.Topic(),
			Payload: m.Payload(),
		})
	}, func(err error) {
		ctx.Send(ctx.Self(), subscribeResult{Topic: topic, ReplyTo: replyTo, Error: err})
	}, 2*time.Second)
}

func (state *MQTTActor) unsubscribeTopic(ctx actor.Context, topic string, replyTo *actor.PID) {
	state.logger.Debug("mqtt@default unsubscribe", zap.String("topic", topic))
	state.client.Unsubscribe(topic, func(err error) {
		ctx.Send(ctx.Self(), unsubscribeResult{Topic: topic, ReplyTo: replyTo, Error: err})
	}, 2*time.Second)
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.client != nil {
		state.client.Publish(state.topics.Availability(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// Dummy actor for tests: acknowledges every request without a broker.
func NewTestMQTTActor(config *config.Config, topics mqtt.Topics, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		topics:   topics,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		if ctx.Parent() != nil {
			ctx.Send(ctx.Parent(), MQTTReady{})
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "connected",
		})
	case domain.PublishMessageRequest:
		if ctx.Sender() != nil || msg.ReplyTo() != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.PublishMessageResponse{})
		}
	case domain.SubscribeTopicRequest:
		if ctx.Sender() != nil || msg.ReplyTo() != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.SubscribeTopicResponse{Topic: msg.Topic})
		}
	case domain.UnsubscribeTopicRequest:
		if ctx.Sender() != nil || msg.ReplyTo() != nil {
			actorutil.ForRequest(msg).Respond(ctx, domain.UnsubscribeTopicResponse{Topic: msg.Topic})
		}
	}
}
