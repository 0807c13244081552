package service

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/berfenger/rtlhaos2mqtt/internal/core/domain"
	"github.com/berfenger/rtlhaos2mqtt/internal/core/meta"

	"go.uber.org/zap"
)

// AggregationBuffer collects raw readings per device per field and reduces
// them to one value per field on flush. Producers contend with the flush
// only on the bucket swap: reduction always runs on a private copy.
type AggregationBuffer struct {
	mu     sync.Mutex
	buffer map[string]*deviceBucket
	logger *zap.Logger
}

type deviceBucket struct {
	meta   bucketMeta
	fields map[string][]any
}

type bucketMeta struct {
	name  string
	model string
	radio string
	freq  string
}

func NewAggregationBuffer(logger *zap.Logger) *AggregationBuffer {
	return &AggregationBuffer{
		buffer: make(map[string]*deviceBucket),
		logger: logger,
	}
}

// Dispatch appends a reading to the current interval's bucket. Nil values
// are dropped so they never influence averages or "last known" decisions.
func (b *AggregationBuffer) Dispatch(reading domain.SensorReading) {
	if reading.Value == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buffer[reading.DeviceKey]
	if !ok {
		bucket = &deviceBucket{
			meta: bucketMeta{
				name:  reading.DeviceName,
				model: reading.DeviceModel,
				radio: reading.RadioName,
				freq:  reading.RadioFreq,
			},
			fields: make(map[string][]any),
		}
		b.buffer[reading.DeviceKey] = bucket
	} else {
		// last radio to report owns the interval's attribution
		bucket.meta.radio = reading.RadioName
		bucket.meta.freq = reading.RadioFreq
	}

	bucket.fields[reading.Field] = append(bucket.fields[reading.Field], reading.Value)
}

// Flush swaps the active buckets for empty ones and reduces the swapped-out
// copy: exactly one reading per device+field, aggregated per the field's
// mode. An empty buffer is a no-op.
func (b *AggregationBuffer) Flush() []domain.SensorReading {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.buffer
	b.buffer = make(map[string]*deviceBucket)
	b.mu.Unlock()

	var out []domain.SensorReading
	statsByRadio := make(map[string]int)

	deviceKeys := make([]string, 0, len(batch))
	for k := range batch {
		deviceKeys = append(deviceKeys, k)
	}
	sort.Strings(deviceKeys)

	for _, deviceKey := range deviceKeys {
		bucket := batch[deviceKey]

		fields := make([]string, 0, len(bucket.fields))
		for f := range bucket.fields {
			fields = append(fields, f)
		}
		sort.Strings(fields)

		for _, field := range fields {
			values := bucket.fields[field]
			if len(values) == 0 {
				continue
			}

			out = append(out, domain.SensorReading{
				DeviceKey:   deviceKey,
				Field:       field,
				Value:       reduceValues(field, bucket.meta.model, values),
				DeviceName:  bucket.meta.name,
				DeviceModel: bucket.meta.model,
				RadioName:   bucket.meta.radio,
				RadioFreq:   bucket.meta.freq,
			})

			key := bucket.meta.radio
			if bucket.meta.freq != "" && bucket.meta.freq != "Unknown" {
				key = fmt.Sprintf("%s[%s]", bucket.meta.radio, bucket.meta.freq)
			}
			statsByRadio[key]++
		}
	}

	if len(out) > 0 && b.logger != nil {
		var parts []string
		for k, v := range statsByRadio {
			parts = append(parts, fmt.Sprintf("%s: %d", k, v))
		}
		sort.Strings(parts)
		b.logger.Debug("throttle flush",
			zap.Int("readings", len(out)),
			zap.String("radios", strings.Join(parts, ", ")))
	}

	return out
}

// reduceValues aggregates one field's interval values. Non-numeric input
// always reduces to the last element; any reduction trouble falls back to
// the last raw value instead of dropping the field.
func reduceValues(field string, model string, values []any) any {
	mode := meta.AggregationMode(field, model)

	if !isNumeric(values[0]) {
		return values[len(values)-1]
	}

	switch mode {
	case meta.AGGREGATE_LAST:
		return values[len(values)-1]
	case meta.AGGREGATE_MAX:
		max, ok := maxValue(values)
		if !ok {
			return values[len(values)-1]
		}
		return normalizeIntegral(max)
	default:
		mean, ok := meanValue(values)
		if !ok {
			return values[len(values)-1]
		}
		return normalizeIntegral(math.Round(mean*100) / 100)
	}
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32, uint, uint64:
		return true
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

func maxValue(values []any) (float64, bool) {
	var max float64
	for i, v := range values {
		f, ok := asFloat(v)
		if !ok {
			return 0, false
		}
		if i == 0 || f > max {
			max = f
		}
	}
	return max, true
}

func meanValue(values []any) (float64, bool) {
	var sum float64
	for _, v := range values {
		f, ok := asFloat(v)
		if !ok {
			return 0, false
		}
		sum += f
	}
	return sum / float64(len(values)), true
}

// normalizeIntegral avoids publishing floats for integer-like results.
func normalizeIntegral(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f)
	}
	return f
}
