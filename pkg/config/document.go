package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Top-level document keys interpreted by the manager
const (
	KeyHealthCheckInterval      = "health_check_interval"
	KeyMaxRetryAttempts         = "max_retry_attempts"
	KeyServiceDiscoveryInterval = "service_discovery_interval"
	KeyServices                 = "services"
)

// Format is the on-disk encoding of a configuration document
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatForPath picks the encoding from the file extension; anything but .json/.jsonc is YAML
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSON
	default:
		return FormatYAML
	}
}

// document is the typed view of the interpreted keys
type document struct {
	HealthCheckInterval      *int                         `yaml:"health_check_interval"`
	MaxRetryAttempts         *int                         `yaml:"max_retry_attempts"`
	ServiceDiscoveryInterval *int                         `yaml:"service_discovery_interval"`
	Services                 []registry.ServiceDescriptor `yaml:"services"`
}

var interpretedKeys = map[string]struct{}{
	KeyHealthCheckInterval:      {},
	KeyMaxRetryAttempts:         {},
	KeyServiceDiscoveryInterval: {},
	KeyServices:                 {},
}

// Parse decodes a configuration document. Duplicate ids or ports are not
// rejected here; Validate reports them.
func Parse(data []byte, format Format) (registry.Snapshot, error) {
	if format == FormatJSON {
		data = jsonc.ToJSON(data)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return registry.Snapshot{}, errors.NewParseError("failed to parse configuration document", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return registry.Snapshot{}, errors.NewParseError("failed to decode configuration document", err)
	}

	settings := registry.DefaultSettings()
	if doc.HealthCheckInterval != nil {
		settings.HealthCheckInterval = *doc.HealthCheckInterval
	}
	if doc.MaxRetryAttempts != nil {
		settings.MaxRetryAttempts = *doc.MaxRetryAttempts
	}
	if doc.ServiceDiscoveryInterval != nil {
		settings.ServiceDiscoveryInterval = *doc.ServiceDiscoveryInterval
	}
	for key, value := range raw {
		if _, ok := interpretedKeys[key]; ok {
			continue
		}
		if settings.Extra == nil {
			settings.Extra = make(map[string]interface{})
		}
		settings.Extra[key] = value
	}

	for i := range doc.Services {
		setServiceDefaults(&doc.Services[i])
	}

	return registry.Snapshot{Settings: settings, Services: doc.Services}, nil
}

func setServiceDefaults(d *registry.ServiceDescriptor) {
	if d.Host == "" {
		d.Host = "localhost"
	}
	if d.RestartPolicy == "" {
		d.RestartPolicy = registry.RestartOnFailure
	}
	d.Status = registry.StatusStopped
}

// Encode serializes a snapshot. Runtime fields are never written.
func Encode(snapshot registry.Snapshot, format Format) ([]byte, error) {
	docMap, err := toDocumentMap(snapshot)
	if err != nil {
		return nil, err
	}

	if format == FormatJSON {
		data, err := json.MarshalIndent(docMap, "", "  ")
		if err != nil {
			return nil, errors.NewInternalError("failed to encode configuration as JSON", err)
		}
		return append(data, '\n'), nil
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(docMap); err != nil {
		return nil, errors.NewInternalError("failed to encode configuration as YAML", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, errors.NewInternalError("failed to encode configuration as YAML", err)
	}
	return buf.Bytes(), nil
}

// toDocumentMap renders a snapshot as a generic document map, the level at
// which templates, overlays and overrides are merged
func toDocumentMap(snapshot registry.Snapshot) (map[string]interface{}, error) {
	docMap := make(map[string]interface{}, len(snapshot.Settings.Extra)+4)
	for key, value := range snapshot.Settings.Extra {
		docMap[key] = value
	}

	servicesYAML, err := yaml.Marshal(snapshot.Services)
	if err != nil {
		return nil, errors.NewInternalError("failed to encode services", err)
	}
	var services []interface{}
	if err := yaml.Unmarshal(servicesYAML, &services); err != nil {
		return nil, errors.NewInternalError("failed to encode services", err)
	}
	if services == nil {
		services = []interface{}{}
	}

	docMap[KeyHealthCheckInterval] = snapshot.Settings.HealthCheckInterval
	docMap[KeyMaxRetryAttempts] = snapshot.Settings.MaxRetryAttempts
	docMap[KeyServiceDiscoveryInterval] = snapshot.Settings.ServiceDiscoveryInterval
	docMap[KeyServices] = services
	return docMap, nil
}

func fromDocumentMap(docMap map[string]interface{}) (registry.Snapshot, error) {
	data, err := yaml.Marshal(docMap)
	if err != nil {
		return registry.Snapshot{}, errors.NewInternalError("failed to encode document", err)
	}
	return Parse(data, FormatYAML)
}

// ParseFile reads and parses path without building a registry
func ParseFile(path string) (registry.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return registry.Snapshot{}, errors.NewNotFoundError("configuration file not found", err).WithContext("path", path)
		}
		return registry.Snapshot{}, errors.NewIOError("failed to read configuration file", err).WithContext("path", path)
	}
	snapshot, err := Parse(data, FormatForPath(path))
	if err != nil {
		if domainErr, ok := errors.AsDomainError(err); ok {
			domainErr.WithContext("path", path)
		}
		return registry.Snapshot{}, err
	}
	return snapshot, nil
}

// Load parses path into a registry. A document with duplicate ids or ports
// yields a ValidationError carrying the full report.
func Load(path string, logger logging.Logger) (*registry.Registry, error) {
	snapshot, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	reg, err := registry.NewFromSnapshot(snapshot, logger)
	if err != nil {
		report := Validate(snapshot)
		return nil, errors.NewValidationReportError(
			fmt.Sprintf("configuration '%s' has conflicting services", path), report.Errors, report.Warnings)
	}
	return reg, nil
}

// Save writes the snapshot to path atomically, in the format implied by the extension
func Save(path string, snapshot registry.Snapshot) error {
	data, err := Encode(snapshot, FormatForPath(path))
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0644)
}

// WriteFileAtomic writes data to a temporary sibling and renames it over path
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewIOError("failed to create directory", err).WithContext("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*"+TempSuffix)
	if err != nil {
		return errors.NewIOError("failed to create temporary file", err).WithContext("path", path)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewIOError("failed to write temporary file", err).WithContext("path", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.NewIOError("failed to sync temporary file", err).WithContext("path", tmpName)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.NewIOError("failed to close temporary file", err).WithContext("path", tmpName)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return errors.NewIOError("failed to set file mode", err).WithContext("path", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.NewIOError("failed to replace file", err).WithContext("path", path)
	}
	return nil
}

// TempSuffix marks in-progress writes; clean removes leftovers
const TempSuffix = ".tmp"

// FilePersister writes registry mutations through to a configuration file
type FilePersister struct {
	path   string
	logger logging.Logger
}

func NewFilePersister(path string, logger logging.Logger) *FilePersister {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FilePersister{path: path, logger: logger}
}

func (p *FilePersister) Path() string {
	return p.path
}

func (p *FilePersister) Persist(snapshot registry.Snapshot) error {
	if err := Save(p.path, snapshot); err != nil {
		p.logger.Errorf("Failed to persist configuration, path: %s, error: %v", p.path, err)
		return err
	}
	p.logger.Debugf("Configuration persisted, path: %s, services: %d", p.path, len(snapshot.Services))
	return nil
}
