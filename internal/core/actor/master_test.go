package actor

import (
	"fmt"
	"testing"
	"time"

	adactor "github.com/berfenger/rtlhaos2mqtt/internal/adapter/actor"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"
	"github.com/berfenger/rtlhaos2mqtt/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func(topics mqtt.Topics) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, topics, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	res, err = context.RequestFuture(pid, domain.BridgeStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	statusResp, ok := res.(domain.BridgeStatusResponse)
	assert.True(t, ok)
	assert.Equal(t, "No protocol IDs seen yet", statusResp.ProtocolsHint)
	assert.Equal(t, "idle", statusResp.CaptureStatus)

	context.Stop(pid)

	as.Shutdown()
}
