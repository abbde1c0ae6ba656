package config

import (
	"reflect"
	"sort"

	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"gopkg.in/yaml.v3"
)

// FieldChange is one modified field; ServiceID is empty for global settings
type FieldChange struct {
	ServiceID string      `json:"service_id,omitempty"`
	Field     string      `json:"field"`
	Old       interface{} `json:"old"`
	New       interface{} `json:"new"`
}

// DiffResult lists added and removed service ids and modified fields
type DiffResult struct {
	Added    []string      `json:"added"`
	Removed  []string      `json:"removed"`
	Modified []FieldChange `json:"modified"`
}

// IsEmpty reports whether the two sides are equivalent
func (d DiffResult) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Diff compares persisted content only; runtime status is ignored.
// Added and removed follow the order of b and a respectively, fields are sorted.
func Diff(a, b registry.Snapshot) DiffResult {
	result := DiffResult{Added: []string{}, Removed: []string{}, Modified: []FieldChange{}}

	result.Modified = append(result.Modified, diffFields("", settingsFields(a.Settings), settingsFields(b.Settings))...)

	for _, left := range a.Services {
		right, ok := b.Get(left.ID)
		if !ok {
			result.Removed = append(result.Removed, left.ID)
			continue
		}
		result.Modified = append(result.Modified, diffFields(left.ID, serviceFields(left), serviceFields(right))...)
	}
	for _, right := range b.Services {
		if _, ok := a.Get(right.ID); !ok {
			result.Added = append(result.Added, right.ID)
		}
	}

	return result
}

func diffFields(serviceID string, left, right map[string]interface{}) []FieldChange {
	keys := make(map[string]struct{}, len(left)+len(right))
	for k := range left {
		keys[k] = struct{}{}
	}
	for k := range right {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []FieldChange
	for _, key := range sorted {
		if !reflect.DeepEqual(left[key], right[key]) {
			changes = append(changes, FieldChange{ServiceID: serviceID, Field: key, Old: left[key], New: right[key]})
		}
	}
	return changes
}

func settingsFields(s registry.Settings) map[string]interface{} {
	fields := map[string]interface{}{
		KeyHealthCheckInterval:      s.HealthCheckInterval,
		KeyMaxRetryAttempts:         s.MaxRetryAttempts,
		KeyServiceDiscoveryInterval: s.ServiceDiscoveryInterval,
	}
	flatten("", s.Extra, fields)
	return fields
}

// serviceFields uses the document encoding so only persisted fields are compared
func serviceFields(d registry.ServiceDescriptor) map[string]interface{} {
	fields := make(map[string]interface{})
	data, err := yaml.Marshal(d)
	if err != nil {
		return fields
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fields
	}
	flatten("", raw, fields)
	return fields
}

// flatten turns nested maps into dotted keys
func flatten(prefix string, m map[string]interface{}, out map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok && len(nested) > 0 {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}
