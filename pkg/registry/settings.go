package registry

const (
	DefaultHealthCheckInterval      = 30
	DefaultMaxRetryAttempts         = 3
	DefaultServiceDiscoveryInterval = 60
)

// Settings are the global registry settings. Intervals are in seconds.
// Extra holds top-level document keys the manager does not interpret
// (security, monitoring, anything unknown) so they survive a save.
type Settings struct {
	HealthCheckInterval      int                    `yaml:"health_check_interval" json:"health_check_interval"`
	MaxRetryAttempts         int                    `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	ServiceDiscoveryInterval int                    `yaml:"service_discovery_interval" json:"service_discovery_interval"`
	Extra                    map[string]interface{} `yaml:"-" json:"extra,omitempty"`
}

// DefaultSettings returns the settings used when a document omits them
func DefaultSettings() Settings {
	return Settings{
		HealthCheckInterval:      DefaultHealthCheckInterval,
		MaxRetryAttempts:         DefaultMaxRetryAttempts,
		ServiceDiscoveryInterval: DefaultServiceDiscoveryInterval,
	}
}

// Section returns the named Extra block if it is a map
func (s Settings) Section(name string) map[string]interface{} {
	if s.Extra == nil {
		return nil
	}
	section, _ := s.Extra[name].(map[string]interface{})
	return section
}

// Bool reads section.key as a boolean, false when absent
func (s Settings) Bool(section, key string) bool {
	value, _ := s.Section(section)[key].(bool)
	return value
}

// Clone returns a deep copy
func (s Settings) Clone() Settings {
	c := s
	c.Extra = cloneMap(s.Extra)
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch typed := v.(type) {
	case map[string]interface{}:
		return cloneMap(typed)
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
