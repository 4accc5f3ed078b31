package registry

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"
)

// MatchesType reports whether eventType matches any of the registered
// patterns. Patterns are exact types or dot-segmented wildcards: "*" matches
// everything, "order.*" matches any single trailing segment of "order".
func MatchesType(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if matchPattern(p, eventType) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, eventType string) bool {
	if pattern == eventType || pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	ps := strings.Split(pattern, ".")
	ts := strings.Split(eventType, ".")
	if len(ps) != len(ts) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ts[i] {
			return false
		}
	}
	return true
}

// MatchesFilter evaluates filter criteria against the event payload. Each
// criteria key is a gjson path into data; the value at that path must equal
// the expected value. Empty criteria always match.
func MatchesFilter(criteria, data []byte) bool {
	if len(criteria) == 0 {
		return true
	}
	var want map[string]any
	if err := json.Unmarshal(criteria, &want); err != nil {
		// unparseable criteria never match; the subscription was created
		// with validated JSON so this only happens on manual edits
		return false
	}
	for path, expected := range want {
		got := gjson.GetBytes(data, path)
		if !got.Exists() {
			return false
		}
		if !reflect.DeepEqual(got.Value(), expected) {
			return false
		}
	}
	return true
}
