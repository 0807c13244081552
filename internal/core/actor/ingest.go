package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/ingest"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/service"
	"github.com/berfenger/rtlhaos2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// protocolsHintMax caps how many protocol ids the "-R" hint lists.
const protocolsHintMax = 40

type flushTick struct {
}

// IngestActor turns raw feed lines into entity publishes. It owns the
// per-line pipeline: capture tap, JSON decode, device filter, protocol
// tracking, details attributes, then per-field fan-out either straight to
// the publisher or through the aggregation buffer when throttling is on.
type IngestActor struct {
	config     *config.Config
	bridge     domain.BridgeInfo
	publisher  *service.EntityPublisher
	aggregator *service.AggregationBuffer
	capture    *service.CaptureWriter
	filter     *ingest.DeviceFilter
	scheduler  *scheduler.TimerScheduler
	throttle   time.Duration
	logger     *zap.Logger
}

func NewIngestActor(config *config.Config, bridge domain.BridgeInfo, publisher *service.EntityPublisher, capture *service.CaptureWriter, logger *zap.Logger) *IngestActor {
	return &IngestActor{
		config:     config,
		bridge:     bridge,
		publisher:  publisher,
		aggregator: service.NewAggregationBuffer(logger),
		capture:    capture,
		filter:     ingest.NewDeviceFilter(config.Filter.Whitelist, config.Filter.Blacklist),
		throttle:   time.Duration(config.ThrottleIntervalSeconds) * time.Second,
		logger:     actorutil.ActorLogger(domain.ACTOR_ID_INGEST, logger),
	}
}

func (state *IngestActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("ingest started", zap.Duration("throttle", state.throttle))
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		if state.throttle > 0 {
			state.scheduler.RequestOnce(state.throttle, ctx.Self(), flushTick{})
		}
	case domain.RawEventLine:
		state.handleLine(msg)
	case flushTick:
		state.flush()
		state.scheduler.RequestOnce(state.throttle, ctx.Self(), flushTick{})
	case domain.ReadingEvent:
		if msg.Immediate || state.throttle <= 0 {
			state.publisher.PublishReading(msg.Reading, true)
		} else {
			state.aggregator.Dispatch(msg.Reading)
		}
	case domain.FeedStatusEvent:
		state.logger.Info("feed status", zap.String("feed", msg.Feed), zap.String("status", msg.Status))
		state.publisher.PublishReading(domain.SensorReading{
			DeviceKey:   state.bridge.Id,
			Field:       "radio_status_" + msg.Feed,
			Value:       msg.Status,
			DeviceName:  fmt.Sprintf("%s (%s)", state.bridge.Name, state.bridge.Id),
			DeviceModel: state.bridge.Name,
		}, true)
	case domain.ActorHealthRequest:
		state.logger.Debug("ingest ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_INGEST,
			Healthy: true,
			State:   "running",
		})
	case domain.BridgeStatusRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.BridgeStatusResponse{
			Version:        state.bridge.Version,
			TrackedDevices: state.publisher.TrackedDeviceCount(),
			ProtocolsHint:  state.publisher.ProtocolsHint(protocolsHintMax),
			CaptureStatus:  state.capture.Status(),
		})
	case *actor.Stopping:
		if state.throttle > 0 {
			state.flush()
		}
	}
}

func (state *IngestActor) handleLine(msg domain.RawEventLine) {
	state.capture.Feed(msg.Line)

	ev, err := ingest.ParseLine(msg.Line)
	if err != nil {
		// rtl_433 mixes human output into stdout, only JSON lines matter
		state.logger.Debug("unparseable line", zap.String("feed", msg.Feed), zap.Error(err))
		return
	}
	model := ev.Model()
	if model == "" {
		return
	}

	strategy := state.config.DeviceId.Strategy
	template := state.config.DeviceId.Template
	cleanId := ev.CleanDeviceKey(strategy, template)
	if cleanId == "" {
		return
	}
	if !state.filter.Allowed(cleanId, model, ev.Type(), ev.RawId()) {
		state.logger.Debug("device filtered", zap.String("device", cleanId), zap.String("model", model))
		return
	}

	if p, ok := ev.Protocol(); ok {
		state.publisher.ObserveProtocol(p)
	}

	name := ingest.DisplayName(ev.Fields, model, cleanId, strategy, template)
	state.publisher.UpdateDetails(cleanId, name, model, ev.Fields, ev.Time())

	for _, r := range ev.Readings(cleanId, name, model, msg.Feed, ev.Freq()) {
		if state.throttle > 0 {
			state.aggregator.Dispatch(r)
		} else {
			state.publisher.PublishReading(r, true)
		}
	}
}

func (state *IngestActor) flush() {
	readings := state.aggregator.Flush()
	for _, r := range readings {
		state.publisher.PublishReading(r, true)
	}
	if len(readings) > 0 {
		state.logger.Debug("flush", zap.Int("readings", len(readings)))
	}
}
