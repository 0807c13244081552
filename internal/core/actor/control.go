package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/service"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	. "github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// ControlActor executes the bridge's HA buttons: the five-press nuke with its
// retained-config scan window, the feed restart broadcast, and timed support
// captures.
type ControlActor struct {
	ActorWithStates
	config            *config.Config
	scheduler         *scheduler.TimerScheduler
	stash             *Stash
	mqttActor         *actor.PID
	publisher         *service.EntityPublisher
	capture           *service.CaptureWriter
	topics            mqtt.Topics
	eventStream       *eventstream.EventStream
	cancelCaptureStop scheduler.CancelFunc

	logger *zap.Logger
}

type nukeScanDone struct {
}

type captureStarted struct {
	duration time.Duration
	err      error
}

type captureStop struct {
}

func NewControlActor(config *config.Config, mqttActor *actor.PID, publisher *service.EntityPublisher, capture *service.CaptureWriter, topics mqtt.Topics, eventStream *eventstream.EventStream, logger *zap.Logger) *ControlActor {
	act := &ControlActor{
		config:      config,
		mqttActor:   mqttActor,
		publisher:   publisher,
		capture:     capture,
		topics:      topics,
		eventStream: eventStream,
		stash:       &Stash{},
		logger:      ActorLogger(domain.ACTOR_ID_CONTROL, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(ControlStartingState{
		actor: act,
	})
	return act
}

func (state *ControlActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type ControlStartingState struct {
	ActorState
	actor *ControlActor
}

func (state ControlStartingState) Name() string {
	return "starting"
}

func (state ControlStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("control@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		// retained button configs, queued at the MQTT actor until connected
		state.actor.publisher.PublishControlButtons()

		state.actor.Become(ControlIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("control@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type ControlIdleState struct {
	ActorState
	actor *ControlActor
}

func (state ControlIdleState) Name() string {
	return "idle"
}

func (state ControlIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("control@idle: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.NukeCommand:
		if state.actor.publisher.HandleNukePress() {
			state.actor.Become(ControlNukeScanState{
				actor: state.actor,
			}.OnEnter(ctx))
		}
	case domain.RestartCommand:
		state.actor.logger.Info("control@idle: restarting feeds")
		state.actor.eventStream.Publish(domain.RestartFeedsEvent{})
	case domain.CaptureCommand:
		state.actor.logger.Debug("control@idle: capture requested")
		NewBackgroundTask(ctx, func() (*captureStarted, error) {
			d, err := state.actor.capture.Start(0)
			return &captureStarted{duration: d, err: err}, nil
		}).WithTimeout(5 * time.Second).OnError(func(err error) {
			state.actor.logger.Error("control@idle: capture start failed", zap.Error(err))
		}).PipeTo(ctx.Self())
	case captureStarted:
		if msg.err != nil {
			state.actor.logger.Error("control@idle: capture start failed", zap.Error(msg.err))
		} else {
			// stop slightly after the write deadline so the tail line lands
			if state.actor.cancelCaptureStop != nil {
				state.actor.cancelCaptureStop()
			}
			state.actor.cancelCaptureStop = state.actor.scheduler.RequestOnce(msg.duration+time.Second, ctx.Self(), captureStop{})
		}
	case captureStop:
		state.actor.capture.Stop()
		state.actor.cancelCaptureStop = nil
	default:
		state.actor.logger.Debug("control@idle: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Nuke scan state. Subscribed to the discovery wildcard, deleting every
// retained config this bridge owns until the window closes.

type ControlNukeScanState struct {
	ActorState
	actor      *ControlActor
	cancelTick scheduler.CancelFunc
}

func (state ControlNukeScanState) Name() string {
	return "nukeScan"
}

func (state ControlNukeScanState) OnEnter(ctx actor.Context) ControlNukeScanState {
	ctx.Request(state.actor.mqttActor, domain.SubscribeTopicRequest{Topic: state.actor.topics.DiscoveryScan()})
	state.cancelTick = state.actor.scheduler.RequestOnce(service.NUKE_SCAN_WINDOW, ctx.Self(), nukeScanDone{})
	return state
}

func (state ControlNukeScanState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL,
			Healthy: true,
			State:   state.Name(),
		})
	case domain.TopicMessage:
		state.actor.publisher.HandleDiscoveryScanMessage(msg.Topic, msg.Payload)
	case domain.SubscribeTopicResponse:
		if msg.HasResponseError() {
			state.actor.logger.Error("control@nukeScan: subscribe failed, aborting", zap.Error(msg.GetResponseError()))
			state.cancelTick()
			state.finishScan(ctx)
		}
	case nukeScanDone:
		state.finishScan(ctx)
	case domain.NukeCommand:
		state.actor.logger.Debug("control@nukeScan: press ignored, scan running")
	default:
		state.actor.logger.Debug("control@nukeScan: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state ControlNukeScanState) finishScan(ctx actor.Context) {
	ctx.Send(state.actor.mqttActor, domain.UnsubscribeTopicRequest{Topic: state.actor.topics.DiscoveryScan()})
	state.actor.publisher.FinishNukeScan()
	state.actor.Become(ControlIdleState{
		actor: state.actor,
	})
	state.actor.stash.UnstashAll(ctx)
}
