package port

// MessageSink is the outbound bus boundary of the core services. The
// implementation must not block: the actor adapter forwards to the MQTT
// actor, tests record.
type MessageSink interface {
	Publish(topic string, payload string, retain bool)
}

type MessageSinkFunc func(topic string, payload string, retain bool)

func (f MessageSinkFunc) Publish(topic string, payload string, retain bool) {
	f(topic, payload, retain)
}
