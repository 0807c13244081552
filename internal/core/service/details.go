package service

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/mqtt"

	"go.uber.org/zap"
)

// detailsCoreKeys are always retained when the attrs map is trimmed to
// max_keys, together with the configured include keys.
var detailsCoreKeys = []string{"last_seen", "model", "device"}

type detailsCache struct {
	enabled     bool
	interval    time.Duration
	maxKeys     int
	valueMaxLen int
	includeKeys map[string]bool

	mu      sync.Mutex
	entries map[string]*detailsEntry
}

type detailsEntry struct {
	attrs       map[string]any
	lastPublish time.Time
}

func newDetailsCache(opts PublisherOptions) *detailsCache {
	include := make(map[string]bool, len(opts.DetailsIncludeKeys))
	for _, k := range opts.DetailsIncludeKeys {
		include[k] = true
	}
	return &detailsCache{
		enabled:     opts.DetailsEnabled,
		interval:    opts.DetailsInterval,
		maxKeys:     opts.DetailsMaxKeys,
		valueMaxLen: opts.DetailsValueMaxLen,
		includeKeys: include,
		entries:     make(map[string]*detailsEntry),
	}
}

// UpdateDetails merges one event's attributes into the device's Details
// sensor and publishes it when the per-device interval allows. timestamp
// overrides the last_seen attribute; empty means now.
func (p *EntityPublisher) UpdateDetails(cleanId, deviceName, deviceModel string, attrs map[string]any, timestamp string) {
	if !p.details.enabled {
		return
	}

	p.mu.Lock()
	p.trackedDevices[cleanId] = true
	p.mu.Unlock()

	now := p.now()
	payloadAttrs := p.details.merge(cleanId, deviceName, deviceModel, attrs, timestamp, now)
	if payloadAttrs == nil {
		return
	}
	p.publishDetailsEntity(cleanId, deviceName, deviceModel, payloadAttrs)
}

// merge folds attrs into the cache entry and decides whether a publish is
// due. Returns a detached copy of the attrs to publish, or nil.
func (d *detailsCache) merge(cleanId, deviceName, deviceModel string, attrs map[string]any, timestamp string, now time.Time) map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[cleanId]
	if !ok {
		entry = &detailsEntry{attrs: make(map[string]any)}
		d.entries[cleanId] = entry
	}

	for k, v := range attrs {
		entry.attrs[k] = normalizeDetailValue(v, d.valueMaxLen)
	}

	if timestamp == "" {
		timestamp = now.UTC().Format("2006-01-02T15:04:05Z")
	}
	entry.attrs["last_seen"] = timestamp
	entry.attrs["model"] = deviceModel
	entry.attrs["device"] = deviceName

	if d.maxKeys > 0 && len(entry.attrs) > d.maxKeys {
		entry.attrs = d.trimAttrs(entry.attrs)
	}

	if !entry.lastPublish.IsZero() && now.Sub(entry.lastPublish) < d.interval {
		return nil
	}
	entry.lastPublish = now

	out := make(map[string]any, len(entry.attrs))
	for k, v := range entry.attrs {
		out[k] = v
	}
	return out
}

// trimAttrs keeps the core and include keys, then fills remaining capacity
// in sorted key order.
func (d *detailsCache) trimAttrs(attrs map[string]any) map[string]any {
	kept := make(map[string]any, d.maxKeys)
	for _, k := range detailsCoreKeys {
		if v, ok := attrs[k]; ok {
			kept[k] = v
		}
	}
	for k := range d.includeKeys {
		if v, ok := attrs[k]; ok {
			kept[k] = v
		}
	}

	rest := make([]string, 0, len(attrs))
	for k := range attrs {
		if _, ok := kept[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		if len(kept) >= d.maxKeys {
			break
		}
		kept[k] = attrs[k]
	}
	return kept
}

func (p *EntityPublisher) publishDetailsEntity(cleanId, deviceName, deviceModel string, attrs map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	uid := fmt.Sprintf("%s_details%s", cleanId, p.bridge.IdSuffix)
	stateTopic := p.topics.DetailsState(cleanId)
	attrTopic := p.topics.DetailsAttributes(cleanId)

	payload := mqtt.HADiscoveryConfig{
		Name:                "Details",
		StateTopic:          stateTopic,
		JsonAttributesTopic: attrTopic,
		UniqueId:            uid,
		Icon:                "mdi:information-outline",
		EntityCategory:      "diagnostic",
		Device:              mqtt.RadioDevice(deviceModel, deviceName, cleanId, p.bridge),
		AvTopic:             p.topics.Availability(),
		ExpireAfter:         p.expireAfter,
	}

	sig := strings.Join([]string{
		domain.EntityDomainSensor,
		payload.Icon,
		payload.Name,
		payload.JsonAttributesTopic,
		strings.Join(payload.Device.Id, ","),
		payload.Device.ViaDevice,
	}, "\x00")

	if p.discoverySig[uid] != sig {
		raw, err := json.Marshal(payload)
		if err != nil {
			p.logger.Error("details discovery marshal failed", zap.String("unique_id", uid), zap.Error(err))
			return
		}
		p.sink.Publish(p.topics.DiscoveryConfig(domain.EntityDomainSensor, uid), string(raw), true)
		p.discoveryPublished[uid] = true
		p.discoverySig[uid] = sig
	}

	rawAttrs, err := json.Marshal(attrs)
	if err != nil {
		rawAttrs = []byte(`{"error":"attrs serialization failed"}`)
	}
	p.sink.Publish(attrTopic, string(rawAttrs), true)
	p.sink.Publish(stateTopic, "ok", true)
}

// normalizeDetailValue keeps JSON scalars as-is and flattens everything else
// to a bounded string.
func normalizeDetailValue(v any, maxLen int) any {
	switch t := v.(type) {
	case nil, bool, int, int32, int64, float32, float64:
		return t
	case string:
		return capString(t, maxLen)
	case map[string]any, []any:
		raw, err := json.Marshal(t)
		if err != nil {
			return capString(fmt.Sprintf("%v", t), maxLen)
		}
		return capString(string(raw), maxLen)
	default:
		return capString(fmt.Sprintf("%v", t), maxLen)
	}
}

func capString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
