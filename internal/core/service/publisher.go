package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/meta"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/port"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"

	"go.uber.org/zap"
)

const (
	NUKE_THRESHOLD   = 5
	NUKE_TIMEOUT     = 5 * time.Second
	NUKE_SCAN_WINDOW = 5 * time.Second

	// battery reports are sparse; never let the entity expire within a day
	BATTERY_MIN_EXPIRE_AFTER = 86400
)

type PublisherOptions struct {
	Topics               mqtt.Topics
	Bridge               domain.BridgeInfo
	ExpireAfterSeconds   int
	MainSensors          []string
	VerboseTransmissions bool
	GasUnit              string
	BatteryClearAfter    time.Duration
	CaptureSeconds       int
	DetailsEnabled       bool
	DetailsInterval      time.Duration
	DetailsMaxKeys       int
	DetailsValueMaxLen   int
	DetailsIncludeKeys   []string
}

// EntityPublisher owns every per-entity publishing decision: discovery
// metadata diffing, value diffing, commodity inference with retroactive
// republish, the battery latch and the nuke sweep. All MQTT traffic leaves
// through the injected sink, which must never block.
type EntityPublisher struct {
	topics mqtt.Topics
	bridge domain.BridgeInfo
	sink   port.MessageSink
	logger *zap.Logger

	expireAfter    int
	mainSensors    map[string]bool
	verbose        bool
	gasUnit        string
	captureSeconds int

	latch *BatteryLatch

	mu                 sync.Mutex
	discoveryPublished map[string]bool
	discoverySig       map[string]string
	lastSentValues     map[string]string
	trackedDevices     map[string]bool
	migrationCleared   map[string]bool
	utilityLastRaw     map[string]map[string]any
	commodityByDevice  map[string]domain.Commodity
	deviceModelById    map[string]string

	nukeCounter   int
	nukeLastPress time.Time
	nukeActive    bool

	details *detailsCache

	protocolsMu   sync.Mutex
	protocolsSeen map[int]bool

	now func() time.Time
}

func NewEntityPublisher(opts PublisherOptions, sink port.MessageSink, logger *zap.Logger) *EntityPublisher {
	mainSensors := make(map[string]bool, len(opts.MainSensors))
	for _, s := range opts.MainSensors {
		mainSensors[s] = true
	}
	return &EntityPublisher{
		topics:             opts.Topics,
		bridge:             opts.Bridge,
		sink:               sink,
		logger:             logger,
		expireAfter:        opts.ExpireAfterSeconds,
		mainSensors:        mainSensors,
		verbose:            opts.VerboseTransmissions,
		gasUnit:            opts.GasUnit,
		captureSeconds:     opts.CaptureSeconds,
		latch:              NewBatteryLatch(opts.BatteryClearAfter, logger),
		discoveryPublished: make(map[string]bool),
		discoverySig:       make(map[string]string),
		lastSentValues:     make(map[string]string),
		trackedDevices:     make(map[string]bool),
		migrationCleared:   make(map[string]bool),
		utilityLastRaw:     make(map[string]map[string]any),
		commodityByDevice:  make(map[string]domain.Commodity),
		deviceModelById:    make(map[string]string),
		details:            newDetailsCache(opts),
		protocolsSeen:      make(map[int]bool),
		now:                time.Now,
	}
}

// PublishReading runs one reading through the full pipeline: utility caching,
// commodity inference (with retroactive republish of cached utility totals),
// normalization, the battery latch, discovery diffing and value diffing.
// live=false marks a replayed reading: its value publishes only on change.
func (p *EntityPublisher) PublishReading(r domain.SensorReading, live bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishReadingLocked(r, live)
}

func (p *EntityPublisher) publishReadingLocked(r domain.SensorReading, live bool) {
	if r.Value == nil {
		return
	}

	cleanId := r.DeviceKey
	field := r.Field

	p.trackedDevices[cleanId] = true
	if r.DeviceModel != "" {
		p.deviceModelById[cleanId] = r.DeviceModel
	}

	uniqueIdBase := fmt.Sprintf("%s_%s", cleanId, field)
	stateTopic := p.topics.State(cleanId, field)

	entityDomain := domain.EntityDomainSensor
	payloadOn, payloadOff := "", ""
	friendlyName := ""
	outValue := r.Value

	// raw utility totals are remembered so a later commodity hint can
	// re-publish them with the right unit
	if IsUtilityTotalField(field) {
		p.utilityRawForDevice(cleanId)[field] = r.Value
	}

	if c, ok := InferCommodity(field, r.Value); ok && c != p.commodityByDevice[cleanId] {
		p.commodityByDevice[cleanId] = c
		p.logger.Info("utility commodity learned",
			zap.String("device", cleanId),
			zap.String("commodity", string(c)))
		p.refreshUtilityEntitiesLocked(cleanId, r.DeviceName, r.DeviceModel)
	}

	var metaOverride *meta.FieldMeta
	if IsUtilityTotalField(field) {
		model := p.modelForLocked(cleanId, r.DeviceModel)
		commodity := p.commodityByDevice[cleanId]
		if m, ok := UtilityMetaOverride(commodity, field, model, p.gasUnit); ok {
			metaOverride = &m
		}
		outValue = NormalizeUtilityValue(commodity, model, p.gasUnit, outValue)
	}

	if field == "battery_ok" {
		ok, parsed := ParseBoolish(r.Value)
		if !parsed {
			return
		}
		low := p.latch.Report(cleanId, ok)

		entityDomain = domain.EntityDomainBinarySensor
		if low {
			outValue = mqtt.MQTT_PAYLOAD_ON
		} else {
			outValue = mqtt.MQTT_PAYLOAD_OFF
		}
		payloadOn, payloadOff = mqtt.MQTT_PAYLOAD_ON, mqtt.MQTT_PAYLOAD_OFF
		friendlyName = "Battery Low"

		// one-time migration: drop any retained numeric sensor config from
		// before battery_ok became a binary_sensor
		uidV2 := uniqueIdBase + p.bridge.IdSuffix
		if !p.migrationCleared[uidV2] {
			p.sink.Publish(p.topics.DiscoveryConfig(domain.EntityDomainSensor, uidV2), "", true)
			delete(p.discoveryPublished, uidV2)
			p.migrationCleared[uidV2] = true
		}
	}

	publishedNow := p.publishDiscoveryLocked(discoveryRequest{
		field:        field,
		stateTopic:   stateTopic,
		uniqueIdBase: uniqueIdBase,
		cleanId:      cleanId,
		deviceName:   r.DeviceName,
		deviceModel:  r.DeviceModel,
		friendlyName: friendlyName,
		entityDomain: entityDomain,
		payloadOn:    payloadOn,
		payloadOff:   payloadOff,
		metaOverride: metaOverride,
	})

	uidV2 := uniqueIdBase + p.bridge.IdSuffix
	outStr := formatStateValue(outValue)
	last, seen := p.lastSentValues[uidV2]
	changed := !seen || last != outStr || publishedNow

	if changed || live {
		p.sink.Publish(stateTopic, outStr, true)
		p.lastSentValues[uidV2] = outStr

		if changed {
			if p.verbose {
				p.logger.Info("entity transmit",
					zap.String("device", r.DeviceName),
					zap.String("field", field),
					zap.String("value", outStr))
			} else {
				p.logger.Debug("entity transmit",
					zap.String("device", r.DeviceName),
					zap.String("field", field),
					zap.String("value", outStr))
			}
		}
	}
}

type discoveryRequest struct {
	field        string
	stateTopic   string
	uniqueIdBase string
	cleanId      string
	deviceName   string
	deviceModel  string
	friendlyName string
	entityDomain string
	payloadOn    string
	payloadOff   string
	metaOverride *meta.FieldMeta
}

// publishDiscoveryLocked publishes the retained discovery config when its
// signature differs from the last published one. Returns whether a publish
// actually happened.
func (p *EntityPublisher) publishDiscoveryLocked(req discoveryRequest) bool {
	uid := req.uniqueIdBase + p.bridge.IdSuffix

	var m meta.FieldMeta
	if strings.HasPrefix(req.field, "radio_status") {
		m = meta.Classify("radio_status", req.deviceModel)
	} else {
		m = meta.Classify(req.field, req.deviceModel)
		if req.metaOverride != nil {
			m = *req.metaOverride
		}
	}

	friendly := m.Name
	if req.friendlyName != "" {
		friendly = req.friendlyName
	} else if strings.HasPrefix(req.field, "radio_status_") {
		friendly = fmt.Sprintf("%s %s", m.Name, strings.TrimPrefix(req.field, "radio_status_"))
	}

	entityCategory := "diagnostic"
	if p.mainSensors[req.field] {
		entityCategory = ""
	}
	if strings.HasPrefix(req.field, "radio_status") {
		entityCategory = ""
	}
	switch m.DeviceClass {
	case "gas", "energy", "water":
		entityCategory = ""
	}

	payload := mqtt.HADiscoveryConfig{
		Name:           friendly,
		StateTopic:     req.stateTopic,
		UniqueId:       uid,
		Device:         mqtt.RadioDevice(req.deviceModel, req.deviceName, req.cleanId, p.bridge),
		Icon:           m.Icon,
		DeviceClass:    m.DeviceClass,
		EntityCategory: entityCategory,
		PayloadOn:      req.payloadOn,
		PayloadOff:     req.payloadOff,
	}

	if req.entityDomain == domain.EntityDomainSensor {
		payload.UnitOfMeasurement = m.Unit
		payload.StateClass = meta.StateClassFor(m.DeviceClass)
	}

	if !strings.Contains(strings.ToLower(req.field), "version") && !strings.HasPrefix(req.field, "radio_status") {
		if req.field == "battery_ok" {
			payload.ExpireAfter = max(p.expireAfter, BATTERY_MIN_EXPIRE_AFTER)
		} else {
			payload.ExpireAfter = p.expireAfter
		}
	}

	payload.AvTopic = p.topics.Availability()

	sig := discoverySignature(req.entityDomain, payload)
	if p.discoverySig[uid] == sig {
		p.discoveryPublished[uid] = true
		return false
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("discovery payload marshal failed", zap.String("unique_id", uid), zap.Error(err))
		return false
	}

	p.sink.Publish(p.topics.DiscoveryConfig(req.entityDomain, uid), string(raw), true)
	p.discoveryPublished[uid] = true
	p.discoverySig[uid] = sig
	return true
}

// refreshUtilityEntitiesLocked replays cached raw utility totals of a device
// through the full pipeline. Used when commodity metadata arrives after the
// reading was already published; live=false so unchanged output stays quiet.
func (p *EntityPublisher) refreshUtilityEntitiesLocked(cleanId, deviceName, deviceModel string) {
	cached := p.utilityLastRaw[cleanId]
	if len(cached) == 0 {
		return
	}

	type entry struct {
		field string
		value any
	}
	replay := make([]entry, 0, len(cached))
	for field, value := range cached {
		replay = append(replay, entry{field, value})
	}

	for _, e := range replay {
		p.publishReadingLocked(domain.SensorReading{
			DeviceKey:   cleanId,
			Field:       e.field,
			Value:       e.value,
			DeviceName:  deviceName,
			DeviceModel: deviceModel,
		}, false)
	}
}

func (p *EntityPublisher) utilityRawForDevice(cleanId string) map[string]any {
	m, ok := p.utilityLastRaw[cleanId]
	if !ok {
		m = make(map[string]any)
		p.utilityLastRaw[cleanId] = m
	}
	return m
}

func (p *EntityPublisher) modelForLocked(cleanId, model string) string {
	if model != "" {
		return model
	}
	return p.deviceModelById[cleanId]
}

// --- availability and control buttons ---

func (p *EntityPublisher) PublishAvailabilityOnline() {
	p.sink.Publish(p.topics.Availability(), mqtt.MQTT_PAYLOAD_ONLINE, true)
}

func (p *EntityPublisher) PublishAvailabilityOffline() {
	p.sink.Publish(p.topics.Availability(), mqtt.MQTT_PAYLOAD_OFFLINE, true)
}

// PublishControlButtons creates the bridge's own button entities: the guarded
// entity delete, the feed restart and the support capture.
func (p *EntityPublisher) PublishControlButtons() {
	p.publishButton(mqtt.COMMAND_NUKE, "Delete Entities (Press 5x)", "mdi:delete-alert")
	p.publishButton(mqtt.COMMAND_RESTART, "Restart Radios", "mdi:restart")
	p.publishButton(mqtt.COMMAND_CAPTURE, fmt.Sprintf("Support Capture (%ds)", p.captureSeconds), "mdi:record-circle-outline")
}

func (p *EntityPublisher) publishButton(action, name, icon string) {
	uid := fmt.Sprintf("rtl_bridge_%s%s", action, p.bridge.IdSuffix)

	payload := mqtt.HADiscoveryConfig{
		Name:           name,
		CommandTopic:   p.topics.Command(action),
		UniqueId:       uid,
		Icon:           icon,
		EntityCategory: "config",
		Device:         mqtt.BridgeDevice(p.bridge),
		AvTopic:        p.topics.Availability(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("button payload marshal failed", zap.String("unique_id", uid), zap.Error(err))
		return
	}
	p.sink.Publish(p.topics.DiscoveryConfig(domain.EntityDomainButton, uid), string(raw), true)
}

// --- nuke ---

// HandleNukePress counts button presses inside the rolling arming window and
// reports whether the scan should start now. The caller subscribes to the
// discovery scan topic and schedules FinishNukeScan after NUKE_SCAN_WINDOW.
func (p *EntityPublisher) HandleNukePress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.nukeLastPress) > NUKE_TIMEOUT {
		p.nukeCounter = 0
	}
	p.nukeCounter++
	p.nukeLastPress = now

	remaining := NUKE_THRESHOLD - p.nukeCounter
	if remaining > 0 {
		p.logger.Warn("nuke safety lock", zap.Int("presses_remaining", remaining))
		return false
	}

	p.nukeCounter = 0
	p.nukeActive = true
	p.logger.Warn("nuke detonated, scanning for bridge entities")
	return true
}

// HandleDiscoveryScanMessage inspects one retained discovery config seen
// during the scan window and deletes it when it belongs to this bridge. The
// bridge's own control buttons are never deleted.
func (p *EntityPublisher) HandleDiscoveryScanMessage(topic string, payload []byte) {
	p.mu.Lock()
	active := p.nukeActive
	p.mu.Unlock()

	if !active || len(payload) == 0 {
		return
	}

	var cfg struct {
		Device struct {
			Manufacturer string `json:"manufacturer"`
		} `json:"device"`
	}
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return
	}
	if !strings.Contains(cfg.Device.Manufacturer, domain.BridgeManufacturer) {
		return
	}
	for _, keep := range []string{mqtt.COMMAND_NUKE, mqtt.COMMAND_RESTART, mqtt.COMMAND_CAPTURE} {
		if strings.Contains(topic, keep) {
			return
		}
	}

	p.logger.Warn("deleting bridge entity", zap.String("topic", topic))
	p.sink.Publish(topic, "", true)
}

// FinishNukeScan ends the scan window, clears the publish caches so every
// surviving device rediscovers cleanly, and restores the bridge's own
// availability and buttons.
func (p *EntityPublisher) FinishNukeScan() {
	p.mu.Lock()
	p.nukeActive = false
	p.discoveryPublished = make(map[string]bool)
	p.lastSentValues = make(map[string]string)
	p.trackedDevices = make(map[string]bool)
	p.discoverySig = make(map[string]string)
	p.mu.Unlock()

	p.logger.Warn("nuke scan complete, republishing bridge entities")
	p.PublishAvailabilityOnline()
	p.PublishControlButtons()
}

func (p *EntityPublisher) NukeScanActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nukeActive
}

// ForgetSentValues drops the value-diff cache so the next reading of every
// entity republishes its state. Called after the broker session is rebuilt.
func (p *EntityPublisher) ForgetSentValues() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSentValues = make(map[string]string)
}

// --- protocol tracking ---

// ObserveProtocol records a numeric protocol id seen in decoder output so the
// bridge can suggest a narrowed decoder filter.
func (p *EntityPublisher) ObserveProtocol(value any) {
	n, ok := intValue(value)
	if !ok || n <= 0 {
		return
	}
	p.protocolsMu.Lock()
	p.protocolsSeen[n] = true
	p.protocolsMu.Unlock()
}

func (p *EntityPublisher) ProtocolsSeen() []int {
	p.protocolsMu.Lock()
	defer p.protocolsMu.Unlock()

	out := make([]int, 0, len(p.protocolsSeen))
	for n := range p.protocolsSeen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// ProtocolsHint renders the protocol ids as a decoder filter argument, at
// most maxProtocols of them.
func (p *EntityPublisher) ProtocolsHint(maxProtocols int) string {
	protos := p.ProtocolsSeen()
	if len(protos) == 0 {
		return "No protocol IDs seen yet"
	}

	shown := protos
	if len(protos) > maxProtocols {
		shown = protos[:maxProtocols]
	}
	parts := make([]string, 0, len(shown))
	for _, n := range shown {
		parts = append(parts, strconv.Itoa(n))
	}
	s := strings.Join(parts, ",")
	if len(protos) > maxProtocols {
		s += ",..."
	}
	return fmt.Sprintf("-R %s", s)
}

// --- status ---

func (p *EntityPublisher) TrackedDeviceCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.trackedDevices)
}

func discoverySignature(entityDomain string, p mqtt.HADiscoveryConfig) string {
	return strings.Join([]string{
		entityDomain,
		p.DeviceClass,
		p.UnitOfMeasurement,
		p.Icon,
		p.Name,
		p.EntityCategory,
		p.StateClass,
	}, "\x00")
}

// formatStateValue renders a reading value the way it goes on the wire.
// Floats print in plain decimal notation, integral floats without a decimal
// part.
func formatStateValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
