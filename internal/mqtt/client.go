package mqtt

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

func OptsFromConfig(cfg *config.Config, topics Topics) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("rtlhaos_%d", rand.Intn(1000)))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = topics.Availability()
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(topics Topics, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:               mqtt.NewClient(opts),
		topics:               topics,
		controlCommandRegexp: controlCommandExtractor(topics.IdSuffix),
	}
}

type MQTTClient struct {
	client               mqtt.Client
	topics               Topics
	controlCommandRegexp *regexp.Regexp
}

// ParsedControlCommand is a button press on one of the bridge's own command
// topics. Action is one of the COMMAND_* constants.
type ParsedControlCommand struct {
	Action  string
	Payload string
}

func (c *MQTTClient) Topics() Topics {
	return c.topics
}

func (c *MQTTClient) AvailabilityTopic() string {
	return c.topics.Availability()
}

func (c *MQTTClient) ParseControlCommand(msg mqtt.Message) (*ParsedControlCommand, error) {
	matches := c.controlCommandRegexp.FindAllStringSubmatch(msg.Topic(), 1)
	if len(matches) == 0 || len(matches[0]) != 2 {
		return nil, errors.New("invalid control command")
	}
	return &ParsedControlCommand{
		Action:  matches[0][1],
		Payload: string(msg.Payload()),
	}, nil
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT subscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) SubscribeToCommandTopics(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.topics.Command("+"), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	token := c.client.Unsubscribe(topic)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT unsubscribe timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func controlCommandExtractor(idSuffix string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^home/status/rtl_bridge%s/(%s|%s|%s)/set$",
		regexp.QuoteMeta(idSuffix), COMMAND_NUKE, COMMAND_RESTART, COMMAND_CAPTURE))
}
