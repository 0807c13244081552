package ingest

import (
	"path"
	"strings"
)

// DeviceFilter applies operator allow/block lists to decoded events before
// they reach the pipeline. Patterns are globs matched against the raw id,
// the cleaned device key, the model and the reported type. The blacklist
// wins; a non-empty whitelist must match.
type DeviceFilter struct {
	whitelist []string
	blacklist []string
}

func NewDeviceFilter(whitelist []string, blacklist []string) *DeviceFilter {
	return &DeviceFilter{
		whitelist: compactPatterns(whitelist),
		blacklist: compactPatterns(blacklist),
	}
}

func (f *DeviceFilter) Blocked(cleanId string, model string, devType string, rawId string) bool {
	return matchAny(f.blacklist, cleanId, model, devType, rawId)
}

func (f *DeviceFilter) Allowed(cleanId string, model string, devType string, rawId string) bool {
	if f.Blocked(cleanId, model, devType, rawId) {
		return false
	}
	if len(f.whitelist) == 0 {
		return true
	}
	return matchAny(f.whitelist, cleanId, model, devType, rawId)
}

func matchAny(patterns []string, values ...string) bool {
	for _, p := range patterns {
		for _, v := range values {
			if v == "" {
				continue
			}
			if ok, err := path.Match(p, v); err == nil && ok {
				return true
			}
		}
	}
	return false
}

func compactPatterns(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
