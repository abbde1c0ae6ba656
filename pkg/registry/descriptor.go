package registry

import (
	"fmt"
	"strings"
	"time"
)

// ServiceType is an open tag; the known values are listed below
type ServiceType string

const (
	ServiceTypeCore       ServiceType = "core"
	ServiceTypeProxy      ServiceType = "proxy"
	ServiceTypeGateway    ServiceType = "gateway"
	ServiceTypeCustom     ServiceType = "custom"
	ServiceTypePlaywright ServiceType = "playwright"
	ServiceTypeGithub     ServiceType = "github"
	ServiceTypeWebsearch  ServiceType = "websearch"
)

var knownServiceTypes = map[ServiceType]struct{}{
	ServiceTypeCore:       {},
	ServiceTypeProxy:      {},
	ServiceTypeGateway:    {},
	ServiceTypeCustom:     {},
	ServiceTypePlaywright: {},
	ServiceTypeGithub:     {},
	ServiceTypeWebsearch:  {},
}

// IsKnown reports whether t is one of the built-in service types
func (t ServiceType) IsKnown() bool {
	_, ok := knownServiceTypes[t]
	return ok
}

// Status is the runtime status of a managed service
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusError    Status = "error"
	StatusUnknown  Status = "unknown"
)

// RestartPolicy controls what the restart controller does with an unhealthy service
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// IsValid reports whether p is a recognized policy
func (p RestartPolicy) IsValid() bool {
	switch p {
	case RestartAlways, RestartOnFailure, RestartNever:
		return true
	}
	return false
}

// HealthProbe selects an extra probe layer run after TCP and HTTP
type HealthProbe string

const (
	HealthProbeNone    HealthProbe = ""
	HealthProbeGRPC    HealthProbe = "grpc"
	HealthProbeProcess HealthProbe = "process"
)

// ResourceLimits are advisory; nothing enforces them
type ResourceLimits struct {
	MemoryMB   int `yaml:"memory_mb,omitempty" json:"memory_mb,omitempty"`
	CPUPercent int `yaml:"cpu_percent,omitempty" json:"cpu_percent,omitempty"`
}

// ServiceDescriptor describes one managed MCP service.
// Status, LastSeen and PID are runtime fields and never persisted.
type ServiceDescriptor struct {
	ID               string            `yaml:"id" json:"id"`
	Name             string            `yaml:"name" json:"name"`
	Description      string            `yaml:"description,omitempty" json:"description,omitempty"`
	Type             ServiceType       `yaml:"type" json:"type"`
	Host             string            `yaml:"host" json:"host"`
	Port             int               `yaml:"port" json:"port"`
	Protocol         string            `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	HealthPath       string            `yaml:"health_path,omitempty" json:"health_path,omitempty"`
	HealthProbe      HealthProbe       `yaml:"health_probe,omitempty" json:"health_probe,omitempty"`
	AutoStart        bool              `yaml:"auto_start" json:"auto_start"`
	RestartPolicy    RestartPolicy     `yaml:"restart_policy" json:"restart_policy"`
	ResourceLimits   *ResourceLimits   `yaml:"resource_limits,omitempty" json:"resource_limits,omitempty"`
	Command          string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args             []string          `yaml:"args,omitempty" json:"args,omitempty"`
	WorkingDirectory string            `yaml:"working_directory,omitempty" json:"working_directory,omitempty"`
	Environment      []string          `yaml:"environment,omitempty" json:"environment,omitempty"`
	Tags             []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
	Metadata         map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	Status   Status    `yaml:"-" json:"status"`
	LastSeen time.Time `yaml:"-" json:"last_seen,omitempty"`
	PID      int       `yaml:"-" json:"pid,omitempty"`
}

// EffectiveRestartPolicy treats an unrecognized policy as on-failure
func (d ServiceDescriptor) EffectiveRestartPolicy() RestartPolicy {
	if d.RestartPolicy.IsValid() {
		return d.RestartPolicy
	}
	return RestartOnFailure
}

// Address returns host:port
func (d ServiceDescriptor) Address() string {
	host := d.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d", host, d.Port)
}

// HealthURL returns the HTTP probe URL, or "" when no HTTP layer is configured
func (d ServiceDescriptor) HealthURL() string {
	if d.HealthPath == "" {
		return ""
	}
	protocol := d.Protocol
	if protocol == "" {
		protocol = "http"
	}
	path := d.HealthPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", protocol, d.Address(), path)
}

// Clone returns a deep copy
func (d ServiceDescriptor) Clone() ServiceDescriptor {
	c := d
	if d.ResourceLimits != nil {
		limits := *d.ResourceLimits
		c.ResourceLimits = &limits
	}
	c.Args = append([]string(nil), d.Args...)
	c.Environment = append([]string(nil), d.Environment...)
	c.Tags = append([]string(nil), d.Tags...)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
