package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER  = "master"
	ACTOR_ID_MQTT    = "mqtt"
	ACTOR_ID_INGEST  = "ingest"
	ACTOR_ID_CONTROL = "control"
	ACTOR_ID_FEED    = "feed"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type SubscribeTopicRequest struct {
	ActorRequestMixIn
	Topic string
}

type SubscribeTopicResponse struct {
	ActorResponseMixIn
	Topic string
}

type UnsubscribeTopicRequest struct {
	ActorRequestMixIn
	Topic string
}

type UnsubscribeTopicResponse struct {
	ActorResponseMixIn
	Topic string
}

// ReadingEvent carries one parsed reading straight to the ingest actor.
// Immediate readings (bridge status fields) bypass the aggregation buffer.
type ReadingEvent struct {
	Reading   SensorReading
	Immediate bool
}

// RawEventLine is one undecoded JSON line from a feed. The ingest actor owns
// parsing, filtering and fan-out.
type RawEventLine struct {
	Line string
	Feed string
}

// TopicMessage is a raw MQTT message forwarded by the MQTT actor to whoever
// subscribed the topic.
type TopicMessage struct {
	Topic   string
	Payload []byte
}

// FeedStatusEvent reports a feed lifecycle change, published as a
// radio_status entity on the bridge device.
type FeedStatusEvent struct {
	Feed   string
	Status string
}

// Control button presses, parsed from command topics by the MQTT actor.

type NukeCommand struct{}

type RestartCommand struct{}

type CaptureCommand struct{}

// RestartFeedsEvent asks the feed layer to drop and re-create its inputs.
type RestartFeedsEvent struct{}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

type BridgeStatusRequest struct {
	ActorRequestMixIn
}

type BridgeStatusResponse struct {
	ActorResponseMixIn
	Version        string
	TrackedDevices int
	ProtocolsHint  string
	CaptureStatus  string
}
