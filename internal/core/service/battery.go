package service

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ParseBoolish converts the assorted truthy encodings rtl_433 decoders emit
// (1/0, "OK"/"LOW", "Yes"/"No", ...) to a bool. The second return is false
// when the value is not clearly interpretable; such readings are dropped.
func ParseBoolish(value any) (bool, bool) {
	switch v := value.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case float64:
		return v != 0, true
	case float32:
		return v != 0, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "on", "yes", "ok", "good":
			return true, true
		case "0", "false", "off", "no", "low", "bad":
			return false, true
		}
	}
	return false, false
}

// BatteryLatch holds a per-device low-battery latch. A single low sample
// latches immediately; a latched device only clears after it has reported ok
// continuously for the configured interval, so one bogus "ok" frame between
// two lows does not flap the alert. ClearAfter <= 0 clears on the first ok.
type BatteryLatch struct {
	mu         sync.Mutex
	clearAfter time.Duration
	states     map[string]*batteryLatchState
	logger     *zap.Logger
	now        func() time.Time
}

type batteryLatchState struct {
	latchedLow       bool
	lastLow          time.Time
	okCandidateSince time.Time
	okSince          time.Time
}

func NewBatteryLatch(clearAfter time.Duration, logger *zap.Logger) *BatteryLatch {
	return &BatteryLatch{
		clearAfter: clearAfter,
		states:     make(map[string]*batteryLatchState),
		logger:     logger,
		now:        time.Now,
	}
}

// Report feeds one parsed battery_ok sample and returns whether the device
// should currently be reported as battery low.
func (l *BatteryLatch) Report(deviceKey string, ok bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st, found := l.states[deviceKey]
	if !found {
		st = &batteryLatchState{}
		l.states[deviceKey] = st
	}

	if !ok {
		if !st.latchedLow && l.logger != nil {
			l.logger.Debug("battery low latched", zap.String("device", deviceKey))
		}
		st.latchedLow = true
		st.lastLow = now
		st.okCandidateSince = time.Time{}
		st.okSince = time.Time{}
		return true
	}

	if st.latchedLow {
		if st.okCandidateSince.IsZero() {
			st.okCandidateSince = now
		}
		if l.clearAfter <= 0 || now.Sub(st.okCandidateSince) >= l.clearAfter {
			st.latchedLow = false
			st.okCandidateSince = time.Time{}
			st.okSince = now
			if l.logger != nil {
				l.logger.Debug("battery low cleared", zap.String("device", deviceKey))
			}
			return false
		}
		return true
	}

	if st.okSince.IsZero() {
		st.okSince = now
	}
	return false
}

// Reset drops all per-device latch state.
func (l *BatteryLatch) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = make(map[string]*batteryLatchState)
}
