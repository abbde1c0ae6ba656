package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
)

// Snapshot is an immutable copy of the registry contents
type Snapshot struct {
	Settings Settings            `json:"settings"`
	Services []ServiceDescriptor `json:"services"`
}

// Get returns the service with id from the snapshot
func (s Snapshot) Get(id string) (ServiceDescriptor, bool) {
	for _, d := range s.Services {
		if d.ID == id {
			return d, true
		}
	}
	return ServiceDescriptor{}, false
}

// Persister receives the registry contents after every descriptor mutation.
// Runtime status changes are not persisted.
type Persister interface {
	Persist(snapshot Snapshot) error
}

// Filter selects services; empty fields match everything, set fields are combined with AND
type Filter struct {
	Type   ServiceType
	Status Status
}

func (f Filter) matches(d *ServiceDescriptor) bool {
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}

// Registry is the ordered, concurrency-safe set of managed services
type Registry struct {
	mu        sync.RWMutex
	services  []*ServiceDescriptor
	settings  Settings
	persister Persister
	logger    logging.Logger
}

// New creates an empty registry
func New(settings Settings, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		settings: settings.Clone(),
		logger:   logger,
	}
}

// NewFromSnapshot creates a registry holding the snapshot's services in order.
// It fails on duplicate ids or ports.
func NewFromSnapshot(snapshot Snapshot, logger logging.Logger) (*Registry, error) {
	r := New(snapshot.Settings, logger)
	for _, d := range snapshot.Services {
		if err := r.checkConflicts(d, ""); err != nil {
			return nil, err
		}
		r.services = append(r.services, r.prepare(d))
	}
	return r, nil
}

// SetPersister installs the write-through target for descriptor mutations
func (r *Registry) SetPersister(persister Persister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persister = persister
}

// Register adds a service. Duplicate ids or ports are rejected and leave the registry unchanged.
func (r *Registry) Register(d ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkConflicts(d, ""); err != nil {
		return err
	}

	next := append(r.cloneServices(), r.prepare(d))
	if err := r.commit(next, r.settings); err != nil {
		return err
	}

	r.logger.Infof("Service registered, id: %s, type: %s, address: %s", d.ID, d.Type, d.Address())
	return nil
}

// Unregister removes a service
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return errors.NewNotFoundError(fmt.Sprintf("service '%s' is not registered", id), nil).WithContext("id", id)
	}

	next := r.cloneServices()
	next = append(next[:idx], next[idx+1:]...)
	if err := r.commit(next, r.settings); err != nil {
		return err
	}

	r.logger.Infof("Service unregistered, id: %s", id)
	return nil
}

// Update replaces the descriptor with the same id, keeping its position and runtime fields
func (r *Registry) Update(d ServiceDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(d.ID)
	if idx < 0 {
		return errors.NewNotFoundError(fmt.Sprintf("service '%s' is not registered", d.ID), nil).WithContext("id", d.ID)
	}
	if err := r.checkConflicts(d, d.ID); err != nil {
		return err
	}

	current := r.services[idx]
	updated := d.Clone()
	updated.Status = current.Status
	updated.LastSeen = current.LastSeen
	updated.PID = current.PID

	next := r.cloneServices()
	next[idx] = &updated
	if err := r.commit(next, r.settings); err != nil {
		return err
	}

	r.logger.Infof("Service updated, id: %s", d.ID)
	return nil
}

// Get returns a copy of the service with id
func (r *Registry) Get(id string) (ServiceDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	idx := r.indexOf(id)
	if idx < 0 {
		return ServiceDescriptor{}, false
	}
	return r.services[idx].Clone(), true
}

// List returns copies of the matching services in insertion order
func (r *Registry) List(filter Filter) []ServiceDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]ServiceDescriptor, 0, len(r.services))
	for _, d := range r.services {
		if filter.matches(d) {
			result = append(result, d.Clone())
		}
	}
	return result
}

// IDs returns service ids in insertion order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.services))
	for _, d := range r.services {
		ids = append(ids, d.ID)
	}
	return ids
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// UpdateStatus sets the runtime status; a zero lastSeen keeps the previous value.
// Unknown ids are ignored with a warning.
func (r *Registry) UpdateStatus(id string, status Status, lastSeen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.indexOf(id)
	if idx < 0 {
		r.logger.Warnf("Status update for unknown service ignored, id: %s, status: %s", id, status)
		return
	}

	d := r.services[idx]
	if d.Status != status {
		r.logger.Debugf("Service status changed, id: %s, from: %s, to: %s", id, d.Status, status)
	}
	d.Status = status
	if !lastSeen.IsZero() {
		d.LastSeen = lastSeen
	}
}

// SetPID records the process id of a started service; zero clears it
func (r *Registry) SetPID(id string, pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if idx := r.indexOf(id); idx >= 0 {
		r.services[idx].PID = pid
	}
}

// Settings returns a copy of the global settings
func (r *Registry) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings.Clone()
}

// SetSettings replaces the global settings
func (r *Registry) SetSettings(settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commit(r.services, settings.Clone())
}

// Snapshot returns a deep copy of the registry contents
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	services := make([]ServiceDescriptor, 0, len(r.services))
	for _, d := range r.services {
		services = append(services, d.Clone())
	}
	return Snapshot{Settings: r.settings.Clone(), Services: services}
}

// Replace swaps the registry contents for snapshot. Runtime fields of services
// that keep their id carry over; new services start as stopped.
func (r *Registry) Replace(snapshot Snapshot) error {
	staging, err := NewFromSnapshot(snapshot, r.logger)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range staging.services {
		if idx := r.indexOf(d.ID); idx >= 0 {
			d.Status = r.services[idx].Status
			d.LastSeen = r.services[idx].LastSeen
			d.PID = r.services[idx].PID
		}
	}
	if err := r.commit(staging.services, staging.settings); err != nil {
		return err
	}

	r.logger.Infof("Registry replaced, services: %d", len(staging.services))
	return nil
}

func (r *Registry) prepare(d ServiceDescriptor) *ServiceDescriptor {
	c := d.Clone()
	if c.Status == "" {
		c.Status = StatusStopped
	}
	return &c
}

func (r *Registry) checkConflicts(d ServiceDescriptor, self string) error {
	if d.ID == "" {
		return errors.NewValidationError("service id must not be empty", nil)
	}
	for _, existing := range r.services {
		if existing.ID == self {
			continue
		}
		if existing.ID == d.ID {
			return errors.NewConflictError(fmt.Sprintf("service id '%s' is already registered", d.ID), nil).
				WithContext("id", d.ID)
		}
		if d.Port != 0 && existing.Port == d.Port {
			return errors.NewConflictError(
				fmt.Sprintf("port %d of service '%s' is already used by service '%s'", d.Port, d.ID, existing.ID), nil).
				WithContext("id", d.ID).
				WithContext("port", d.Port).
				WithContext("holder", existing.ID)
		}
	}
	return nil
}

func (r *Registry) indexOf(id string) int {
	for i, d := range r.services {
		if d.ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) cloneServices() []*ServiceDescriptor {
	return append([]*ServiceDescriptor(nil), r.services...)
}

// commit persists the prospective state before making it current
func (r *Registry) commit(services []*ServiceDescriptor, settings Settings) error {
	if r.persister != nil {
		snapshot := Snapshot{Settings: settings.Clone(), Services: make([]ServiceDescriptor, 0, len(services))}
		for _, d := range services {
			snapshot.Services = append(snapshot.Services, d.Clone())
		}
		if err := r.persister.Persist(snapshot); err != nil {
			return errors.NewIOError("failed to persist registry", err)
		}
	}
	r.services = services
	r.settings = settings
	return nil
}
