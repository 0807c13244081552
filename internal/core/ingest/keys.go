package ingest

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

const (
	DEVICE_KEY_LEGACY           = "legacy"
	DEVICE_KEY_MODEL_ID         = "model_id"
	DEVICE_KEY_MODEL_ID_CHANNEL = "model_id_channel"
	DEVICE_KEY_TEMPLATE         = "template"

	DEFAULT_KEY_TEMPLATE = "m{model}i{id}c{channel}"
)

var nonAlphanumRegexp = regexp.MustCompile(`[^A-Za-z0-9]`)

// CleanKey strips everything that is not a letter or digit and lowercases,
// so the result is safe inside MQTT topics and unique ids.
func CleanKey(key string) string {
	cleaned := nonAlphanumRegexp.ReplaceAllString(key, "")
	if cleaned == "" {
		return "unknown"
	}
	return strings.ToLower(cleaned)
}

// DeviceKey builds the stable device key of a decoded event. The key feeds
// CleanKey and then becomes the device id in topics and unique ids, so a
// strategy change renames every entity of every device.
//
// Strategies:
//   - legacy:           id
//   - model_id:         m<model>i<id>
//   - model_id_channel: m<model>i<id>c<channel>
//   - template:         tokens {model} {id} {channel} {subtype} {protocol} {type}
func DeviceKey(fields map[string]any, strategy string, template string) string {
	model := safeComponent(fieldValue(fields, "model"))
	id := safeComponent(fieldValue(fields, "id"))
	channel := safeComponent(fieldValue(fields, "channel", "chan", "channel_id"))
	subtype := safeComponent(fieldValue(fields, "subtype", "subtype_string", "type_string"))
	protocol := safeComponent(fieldValue(fields, "protocol", "mod"))
	dtype := safeComponent(fieldValue(fields, "type"))

	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case DEVICE_KEY_LEGACY, "":
		return id
	case DEVICE_KEY_MODEL_ID:
		return fmt.Sprintf("m%si%s", model, id)
	case DEVICE_KEY_MODEL_ID_CHANNEL:
		return fmt.Sprintf("m%si%sc%s", model, id, channel)
	case DEVICE_KEY_TEMPLATE:
		if template == "" {
			template = DEFAULT_KEY_TEMPLATE
		}
		return expandKeyTemplate(template, map[string]string{
			"model":    model,
			"id":       id,
			"channel":  channel,
			"subtype":  subtype,
			"protocol": protocol,
			"type":     dtype,
		})
	}
	return id
}

// DisplayName is the human name shown in Home Assistant: "<Model> <id>",
// plus the channel when the key strategy is channel-aware. It never feeds
// unique ids, so changing it cannot break existing entities.
func DisplayName(fields map[string]any, model string, cleanId string, strategy string, template string) string {
	modelS := strings.TrimSpace(model)
	if modelS == "" {
		modelS = "Unknown"
	}

	suffix := strings.TrimSpace(fieldValue(fields, "id"))
	if suffix == "" {
		suffix = strings.TrimSpace(cleanId)
	}
	if suffix == "" {
		suffix = "unknown"
	}

	st := strings.ToLower(strings.TrimSpace(strategy))
	includeChannel := st == DEVICE_KEY_MODEL_ID_CHANNEL ||
		(st == DEVICE_KEY_TEMPLATE && strings.Contains(template, "{channel}"))

	if includeChannel {
		chan_ := strings.TrimSpace(fieldValue(fields, "channel", "chan", "channel_id"))
		lower := strings.ToLower(chan_)
		if chan_ != "" && lower != "na" && lower != "unknown" {
			return fmt.Sprintf("%s %s ch%s", modelS, suffix, chan_)
		}
	}
	return fmt.Sprintf("%s %s", modelS, suffix)
}

// SystemId derives the bridge's own identity: the configured bridge id when
// set, otherwise the hostname. The result is stable across restarts on the
// same host, which keeps the bridge device and via_device references intact.
func SystemId(bridgeId string) string {
	if s := strings.TrimSpace(bridgeId); s != "" {
		return normalizeSystemId(s)
	}
	host, err := os.Hostname()
	if err != nil {
		return "rtl-bridge-error-id"
	}
	if host == "" {
		return "rtl-bridge-default"
	}
	return normalizeSystemId(host)
}

func normalizeSystemId(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, ":", ""))
}

// expandKeyTemplate substitutes {token} markers; unknown tokens become "na".
// Literal text passes through untouched.
func expandKeyTemplate(template string, tokens map[string]string) string {
	return templateTokenRegexp.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := tokens[name]; ok {
			return v
		}
		return "na"
	})
}

var templateTokenRegexp = regexp.MustCompile(`\{[a-zA-Z_]+\}`)

// safeComponent trims and bounds a key component; empty becomes "na".
func safeComponent(value string) string {
	s := strings.TrimSpace(value)
	if s == "" {
		return "na"
	}
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

// fieldValue returns the first present field as a string, numbers without
// a float suffix when integral.
func fieldValue(fields map[string]any, names ...string) string {
	for _, n := range names {
		v, ok := fields[n]
		if !ok || v == nil {
			continue
		}
		return stringifyValue(v)
	}
	return ""
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}
