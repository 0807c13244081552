package ingest

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
)

// Event is one decoded radio telegram (one rtl_433 JSON line).
type Event struct {
	Fields map[string]any
}

// entitySkipFields never become entities of their own: identity and framing
// fields, raw payloads, and the numeric protocol id (tracked separately).
// They still show up in the Details attributes.
var entitySkipFields = map[string]struct{}{
	"time":           {},
	"model":          {},
	"id":             {},
	"channel":        {},
	"chan":           {},
	"channel_id":     {},
	"mic":            {},
	"mod":            {},
	"freq":           {},
	"freq1":          {},
	"freq2":          {},
	"subtype":        {},
	"subtype_string": {},
	"type_string":    {},
	"protocol":       {},
	"rows":           {},
	"data":           {},
}

func ParseLine(line string) (*Event, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, errors.New("not a JSON object line")
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return nil, err
	}
	return &Event{Fields: fields}, nil
}

func (e *Event) Model() string {
	return strings.TrimSpace(fieldValue(e.Fields, "model"))
}

func (e *Event) RawId() string {
	return strings.TrimSpace(fieldValue(e.Fields, "id"))
}

func (e *Event) Type() string {
	return strings.TrimSpace(fieldValue(e.Fields, "type"))
}

// Time returns the decoder's timestamp string, empty when absent.
func (e *Event) Time() string {
	return strings.TrimSpace(fieldValue(e.Fields, "time"))
}

// Freq returns the tuned frequency as reported, empty when absent.
func (e *Event) Freq() string {
	return strings.TrimSpace(fieldValue(e.Fields, "freq"))
}

// Protocol returns the numeric rtl_433 protocol id when present (-M protocol
// builds include it). Used for the recommended "-R" filter hint.
func (e *Event) Protocol() (int, bool) {
	v, ok := e.Fields["protocol"]
	if !ok || v == nil {
		return 0, false
	}
	p, err := strconv.Atoi(strings.TrimSpace(stringifyValue(v)))
	if err != nil || p <= 0 {
		return 0, false
	}
	return p, true
}

// CleanDeviceKey derives the topic-safe device key per the configured
// strategy.
func (e *Event) CleanDeviceKey(strategy string, template string) string {
	return CleanKey(DeviceKey(e.Fields, strategy, template))
}

// Readings fans the event out into one reading per publishable field,
// dropping nil values, skipped fields and nested structures, and appending
// a computed dew point when the event carries temperature and humidity.
func (e *Event) Readings(deviceKey string, deviceName string, model string, radioName string, radioFreq string) []domain.SensorReading {
	var out []domain.SensorReading
	add := func(field string, value any) {
		out = append(out, domain.SensorReading{
			DeviceKey:   deviceKey,
			Field:       field,
			Value:       value,
			DeviceName:  deviceName,
			DeviceModel: model,
			RadioName:   radioName,
			RadioFreq:   radioFreq,
		})
	}

	for field, value := range e.Fields {
		if value == nil {
			continue
		}
		if _, skip := entitySkipFields[field]; skip {
			continue
		}
		switch value.(type) {
		case map[string]any, []any:
			// nested structures only belong in Details attributes
			continue
		}
		add(field, value)
	}

	if dp, ok := e.DewPointF(); ok {
		add("dew_point", dp)
	}

	return out
}

// DewPointF computes the dew point in °F (Magnus formula) from the event's
// temperature and relative humidity, converting temperature_F when that is
// all the decoder reports.
func (e *Event) DewPointF() (float64, bool) {
	h, ok := numericField(e.Fields, "humidity")
	if !ok || h <= 0 {
		return 0, false
	}
	tc, ok := numericField(e.Fields, "temperature_C")
	if !ok {
		tf, okF := numericField(e.Fields, "temperature_F")
		if !okF {
			return 0, false
		}
		tc = (tf - 32) / 1.8
	}
	return dewPointF(tc, h)
}

func dewPointF(tempC float64, humidity float64) (float64, bool) {
	const b = 17.62
	const c = 243.12
	gamma := (b*tempC)/(c+tempC) + math.Log(humidity/100.0)
	dpC := (c * gamma) / (b - gamma)
	dpF := math.Round((dpC*1.8+32)*10) / 10
	if math.IsNaN(dpF) || math.IsInf(dpF, 0) {
		return 0, false
	}
	return dpF, true
}

func numericField(fields map[string]any, name string) (float64, bool) {
	v, ok := fields[name]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
