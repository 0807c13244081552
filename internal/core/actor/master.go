package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/rtlhaos2mqtt/internal/adapter/actor"
	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/ingest"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/port"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/service"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	. "github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"go.uber.org/zap"
)

type MQTTActorProvider func(topics mqtt.Topics) *adactor.MQTTActor

// MasterOfPuppetsActor boots and supervises the actor tree: the MQTT
// connection, the ingest pipeline, the control buttons and one actor per
// event feed. It also fans out health checks and routes parsed button
// presses.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	mqttActor          *actor.PID
	ingestActor        *actor.PID
	controlActor       *actor.PID
	mqttActorProvider  MQTTActorProvider
	mqttReadySeen      bool
	publisher          *service.EntityPublisher
	logger             *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy    bool
	ingestActorHealthy  bool
	controlActorHealthy bool
	checksReceived      int
	respondTo           *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       &eventstream.EventStream{},
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		cfg := &state.config
		topics := mqtt.NewTopics(cfg.Discovery.Prefix, cfg.Discovery.Namespace, cfg.Bridge.IdSuffix)

		// start MQTT child first, everything downstream publishes through it
		mqttActorPID, err := state.startMQTTActor(ctx, topics)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		bridge := domain.BridgeInfo{
			Name:     cfg.Bridge.Name,
			Id:       ingest.SystemId(cfg.Bridge.Id),
			IdSuffix: cfg.Bridge.IdSuffix,
			Version:  versioninfo.Short(),
		}

		// shared services. The sink funnels every publish through the MQTT
		// actor mailbox, Root sends are safe from timers and callbacks.
		root := ctx.ActorSystem().Root
		sink := port.MessageSinkFunc(func(topic string, payload string, retain bool) {
			root.Send(mqttActorPID, domain.PublishMessageRequest{
				Topic:   topic,
				Payload: payload,
				Retain:  retain,
			})
		})
		capture := service.NewCaptureWriter(cfg.Capture.Dir, cfg.Capture.Seconds, bridge.Id, state.logger)
		publisher := service.NewEntityPublisher(service.PublisherOptions{
			Topics:               topics,
			Bridge:               bridge,
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
		}, sink, state.logger)
		state.publisher = publisher

		ingestActorPID, err := state.startIngestActor(ctx, bridge, publisher, capture)
		if err != nil {
			panic(err)
		}
		state.ingestActor = ingestActorPID

		controlActorPID, err := state.startControlActor(ctx, publisher, capture, topics)
		if err != nil {
			panic(err)
		}
		state.controlActor = controlActorPID

		if err := state.startFeedActors(ctx); err != nil {
			panic(err)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Ingest Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.ingestActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_INGEST,
				Healthy: false,
			}
		})
		// Control Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controlActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CONTROL,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.BridgeStatusRequest:
		// ingest owns the counters, let it answer the caller directly
		state.logger.Debug("master@default BridgeStatusRequest")
		ctx.RequestWithCustomSender(state.ingestActor, msg, ctx.Sender())
	case adactor.ParsedCommand:
		// redirect parsed button press to the control actor
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			if cmd := ParsedControlCommandToMessage(*msg.Command); cmd != nil {
				ctx.Send(state.controlActor, cmd)
			}
		}
	case adactor.MQTTReady:
		// on reconnect the broker session is fresh, feeds must resubscribe
		if state.mqttReadySeen {
			// publishes in flight when the old session died may be gone,
			// drop the value cache so the next readings republish state
			state.logger.Info("master@default mqtt session reestablished, restarting feeds")
			state.publisher.ForgetSentValues()
			state.eventStream.Publish(domain.RestartFeedsEvent{})
		} else {
			state.logger.Debug("master@default mqtt session ready")
			state.mqttReadySeen = true
		}
	case adactor.MQTTConnectFailed:
		// connect failures before the first established session are fatal
		if !state.mqttReadySeen {
			state.logger.Fatal("master@default mqtt connect failed at startup", zap.Error(msg.Error))
		}
		state.logger.Warn("master@default mqtt reconnect failed", zap.Error(msg.Error))
	case *actor.Terminated:
		// if the MQTT actor gives up, the bridge is useless
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MQTT) {
			state.logger.Error("master@default mqtt terminated")
			panic(errors.New("mqtt terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			if msg.Id == domain.ACTOR_ID_MQTT {
				state.currentHealthCheck.mqttActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_INGEST {
				state.currentHealthCheck.ingestActorHealthy = true
			} else if msg.Id == domain.ACTOR_ID_CONTROL {
				state.currentHealthCheck.controlActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context, topics mqtt.Topics) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(topics)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterOfPuppetsActor) startIngestActor(ctx actor.Context, bridge domain.BridgeInfo, publisher *service.EntityPublisher, capture *service.CaptureWriter) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	ingestProps := actor.PropsFromProducer(func() actor.Actor {
		return NewIngestActor(&state.config, bridge, publisher, capture, state.logger)
	}, actor.WithSupervisor(supervisor))
	ingestActorPID, err := ctx.SpawnNamed(ingestProps, domain.ACTOR_ID_INGEST)
	if err != nil {
		return nil, err
	}

	return ingestActorPID, nil
}

func (state *MasterOfPuppetsActor) startControlActor(ctx actor.Context, publisher *service.EntityPublisher, capture *service.CaptureWriter, topics mqtt.Topics) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return NewControlActor(&state.config, state.mqttActor, publisher, capture, topics, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	controlActorPID, err := ctx.SpawnNamed(controlProps, domain.ACTOR_ID_CONTROL)
	if err != nil {
		return nil, err
	}

	return controlActorPID, nil
}

func (state *MasterOfPuppetsActor) startFeedActors(ctx actor.Context) error {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}

	if state.config.Ingest.EventsTopic != "" {
		supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)
		props := actor.PropsFromProducer(func() actor.Actor {
			return adactor.NewMQTTFeedActor(&state.config, state.mqttActor, state.ingestActor, state.eventStream, state.logger)
		}, actor.WithSupervisor(supervisor))
		if _, err := ctx.SpawnNamed(props, domain.ACTOR_ID_FEED+"_"+adactor.FEED_MQTT); err != nil {
			return err
		}
	}

	if state.config.Ingest.Stdin {
		supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)
		props := actor.PropsFromProducer(func() actor.Actor {
			return adactor.NewStdinFeedActor(state.ingestActor, state.eventStream, state.logger)
		}, actor.WithSupervisor(supervisor))
		if _, err := ctx.SpawnNamed(props, domain.ACTOR_ID_FEED+"_"+adactor.FEED_STDIN); err != nil {
			return err
		}
	}

	return nil
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.ingestActorHealthy = false
	state.controlActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.mqttActorHealthy && state.ingestActorHealthy && state.controlActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
