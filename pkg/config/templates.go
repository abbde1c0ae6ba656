package config

import (
	"fmt"
	"sort"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

// Template names
const (
	TemplateDevelopment = "development"
	TemplateProduction  = "production"
	TemplateMinimal     = "minimal"
)

// Environment names
const (
	EnvironmentDevelopment = "development"
	EnvironmentStaging     = "staging"
	EnvironmentTesting     = "testing"
	EnvironmentProduction  = "production"
)

// Each template is a function so callers always get a fresh document
var templates = map[string]func() map[string]interface{}{
	TemplateDevelopment: developmentTemplate,
	TemplateProduction:  productionTemplate,
	TemplateMinimal:     minimalTemplate,
}

var overlays = map[string]func() map[string]interface{}{
	EnvironmentDevelopment: func() map[string]interface{} { return map[string]interface{}{} },
	EnvironmentStaging: func() map[string]interface{} {
		return map[string]interface{}{
			KeyHealthCheckInterval:      45,
			KeyServiceDiscoveryInterval: 90,
		}
	},
	EnvironmentTesting: func() map[string]interface{} {
		return map[string]interface{}{
			KeyHealthCheckInterval:      60,
			KeyServiceDiscoveryInterval: 120,
			KeyMaxRetryAttempts:         1,
		}
	},
	EnvironmentProduction: func() map[string]interface{} {
		return map[string]interface{}{
			KeyHealthCheckInterval:      15,
			KeyServiceDiscoveryInterval: 30,
			KeyMaxRetryAttempts:         5,
			"security": map[string]interface{}{
				"enable_authentication": true,
				"require_https":         true,
			},
		}
	},
}

// TemplateNames lists the built-in templates in sorted order
func TemplateNames() []string {
	return sortedKeys(templates)
}

// EnvironmentNames lists the known environment overlays in sorted order
func EnvironmentNames() []string {
	return sortedKeys(overlays)
}

func sortedKeys(m map[string]func() map[string]interface{}) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TemplateSnapshot merges template defaults, the environment overlay and overrides,
// in that order. Maps merge recursively; any other override value replaces the
// base value, so an overridden services list replaces the template's list.
func TemplateSnapshot(templateName, environment string, overrides map[string]interface{}) (registry.Snapshot, error) {
	if templateName == "" {
		templateName = TemplateDevelopment
	}
	if environment == "" {
		environment = EnvironmentDevelopment
	}

	template, ok := templates[templateName]
	if !ok {
		return registry.Snapshot{}, errors.NewNotFoundError(
			fmt.Sprintf("unknown configuration template '%s'", templateName), nil).
			WithContext("available", TemplateNames())
	}
	overlay, ok := overlays[environment]
	if !ok {
		return registry.Snapshot{}, errors.NewNotFoundError(
			fmt.Sprintf("unknown environment '%s'", environment), nil).
			WithContext("available", EnvironmentNames())
	}

	doc := template()
	doc = DeepMerge(doc, overlay())
	doc = DeepMerge(doc, overrides)

	return fromDocumentMap(doc)
}

// CreateFromTemplate builds a registry from a template, environment overlay and overrides
func CreateFromTemplate(templateName, environment string, overrides map[string]interface{}, logger logging.Logger) (*registry.Registry, error) {
	snapshot, err := TemplateSnapshot(templateName, environment, overrides)
	if err != nil {
		return nil, err
	}
	if report := Validate(snapshot); !report.IsValid {
		return nil, report.ToError(fmt.Sprintf("template '%s' with environment '%s' is invalid", templateName, environment))
	}
	return registry.NewFromSnapshot(snapshot, logger)
}

// DeepMerge returns a new map with override merged on top of base; neither input is modified
func DeepMerge(base, override map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		overrideMap, overrideIsMap := v.(map[string]interface{})
		baseMap, baseIsMap := out[k].(map[string]interface{})
		if overrideIsMap && baseIsMap {
			out[k] = DeepMerge(baseMap, overrideMap)
			continue
		}
		out[k] = v
	}
	return out
}

func serviceEntry(id, name, serviceType string, port int, policy registry.RestartPolicy, autoStart bool) map[string]interface{} {
	return map[string]interface{}{
		"id":             id,
		"name":           name,
		"type":           serviceType,
		"host":           "localhost",
		"port":           port,
		"protocol":       "http",
		"health_path":    "/health",
		"auto_start":     autoStart,
		"restart_policy": string(policy),
	}
}

func developmentTemplate() map[string]interface{} {
	return map[string]interface{}{
		KeyHealthCheckInterval:      30,
		KeyMaxRetryAttempts:         3,
		KeyServiceDiscoveryInterval: 60,
		KeyServices: []interface{}{
			serviceEntry("core", "Core MCP Service", "core", 8080, registry.RestartOnFailure, true),
			serviceEntry("proxy", "MCP Proxy", "proxy", 8081, registry.RestartOnFailure, true),
			serviceEntry("gateway", "MCP Gateway", "gateway", 8082, registry.RestartOnFailure, false),
		},
		"security": map[string]interface{}{
			"enable_authentication": false,
			"require_https":         false,
			"allowed_origins":       []interface{}{"http://localhost:3000"},
		},
		"monitoring": map[string]interface{}{
			"enabled":         true,
			"metrics_enabled": true,
			"log_level":       "debug",
		},
	}
}

func productionTemplate() map[string]interface{} {
	withLimits := func(entry map[string]interface{}, memoryMB, cpuPercent int) map[string]interface{} {
		entry["resource_limits"] = map[string]interface{}{
			"memory_mb":   memoryMB,
			"cpu_percent": cpuPercent,
		}
		return entry
	}
	return map[string]interface{}{
		KeyHealthCheckInterval:      30,
		KeyMaxRetryAttempts:         3,
		KeyServiceDiscoveryInterval: 60,
		KeyServices: []interface{}{
			withLimits(serviceEntry("core", "Core MCP Service", "core", 8080, registry.RestartAlways, true), 1024, 50),
			withLimits(serviceEntry("proxy", "MCP Proxy", "proxy", 8081, registry.RestartAlways, true), 512, 25),
			withLimits(serviceEntry("gateway", "MCP Gateway", "gateway", 8082, registry.RestartAlways, true), 512, 25),
		},
		"security": map[string]interface{}{
			"enable_authentication": true,
			"require_https":         false,
			"allowed_origins":       []interface{}{},
		},
		"monitoring": map[string]interface{}{
			"enabled":         true,
			"metrics_enabled": true,
			"log_level":       "info",
		},
	}
}

func minimalTemplate() map[string]interface{} {
	return map[string]interface{}{
		KeyHealthCheckInterval:      30,
		KeyMaxRetryAttempts:         3,
		KeyServiceDiscoveryInterval: 60,
		KeyServices: []interface{}{
			serviceEntry("core", "Core MCP Service", "core", 8080, registry.RestartOnFailure, true),
		},
	}
}
