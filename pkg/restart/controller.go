package restart

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/monitoring"
	"github.com/core-tools/hsu-mcp-master/pkg/process"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

// DefaultBackoff is the delay before restart attempt 1, 2, 3...; the last entry repeats
var DefaultBackoff = []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second}

// DefaultFailureThreshold is the number of consecutive failures before an
// on-failure service is restarted
const DefaultFailureThreshold = 2

type Config struct {
	MaxRetryAttempts int
	FailureThreshold int
	Backoff          []time.Duration
	StopTimeout      time.Duration
}

// Action is what the controller did with a verdict
type Action string

const (
	ActionNone             Action = "none"
	ActionRecovered        Action = "recovered"
	ActionRecorded         Action = "recorded"
	ActionRestartScheduled Action = "restart-scheduled"
	ActionRestartInFlight  Action = "restart-in-flight"
	ActionExhausted        Action = "exhausted"
	ActionIgnored          Action = "ignored"
)

// Decision reports the outcome of Handle. Err carries a RestartExhaustedError
// when the retry budget is spent; it is informational, not a failure of Handle.
type Decision struct {
	ServiceID string
	Action    Action
	Attempt   int
	Delay     time.Duration
	Err       error
}

// State is the restart bookkeeping of one service
type State struct {
	ConsecutiveFailures int               `json:"consecutive_failures"`
	RestartAttempts     int               `json:"restart_attempts"`
	LastRestartAt       time.Time         `json:"last_restart_at,omitempty"`
	Backoff             time.Duration     `json:"backoff"`
	Exhausted           bool              `json:"exhausted"`
	InFlight            bool              `json:"in_flight"`
	LastReason          monitoring.Reason `json:"last_reason,omitempty"`
}

// Event describes one executed restart attempt
type Event struct {
	ServiceID string
	Attempt   int
	Err       error
	At        time.Time
}

type serviceState struct {
	State
	latest monitoring.Verdict
	// generation changes on Reset so restarts scheduled before it are dropped
	generation int
}

// Controller turns health verdicts into status updates and restarts.
// It is the only writer of service status during monitoring.
type Controller struct {
	reg     *registry.Registry
	control process.Control
	config  Config
	logger  logging.Logger

	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	onRestart func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	states map[string]*serviceState
}

func NewController(reg *registry.Registry, control process.Control, config Config, logger logging.Logger) *Controller {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultFailureThreshold
	}
	if len(config.Backoff) == 0 {
		config.Backoff = DefaultBackoff
	}
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		reg:     reg,
		control: control,
		config:  config,
		logger:  logger,
		sleep:   sleepContext,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		states:  make(map[string]*serviceState),
	}
}

// OnRestart installs a callback invoked after every restart attempt
func (c *Controller) OnRestart(callback func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRestart = callback
}

// SetMaxRetryAttempts applies a changed registry setting
func (c *Controller) SetMaxRetryAttempts(max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.MaxRetryAttempts = max
}

// Handle applies one verdict. It never blocks on a restart; restarts run
// asynchronously after their backoff, at most one per service at a time.
func (c *Controller) Handle(ctx context.Context, verdict monitoring.Verdict) Decision {
	id := verdict.ServiceID
	d, ok := c.reg.Get(id)
	if !ok {
		c.logger.Debugf("Verdict for unknown service ignored, id: %s", id)
		return Decision{ServiceID: id, Action: ActionIgnored}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(id)
	st.latest = verdict

	if verdict.Healthy {
		return c.handleHealthyLocked(st, verdict)
	}
	return c.handleUnhealthyLocked(st, d, verdict)
}

// Observe applies a verdict from a one-off health pass. Status, counters and
// the latest verdict are updated exactly as by Handle, but no restart is
// scheduled. A pending restart sees the verdict and is skipped if it is healthy.
func (c *Controller) Observe(verdict monitoring.Verdict) Decision {
	id := verdict.ServiceID
	if _, ok := c.reg.Get(id); !ok {
		c.logger.Debugf("Verdict for unknown service ignored, id: %s", id)
		return Decision{ServiceID: id, Action: ActionIgnored}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(id)
	st.latest = verdict

	if verdict.Healthy {
		return c.handleHealthyLocked(st, verdict)
	}
	st.ConsecutiveFailures++
	st.LastReason = verdict.Reason
	c.reg.UpdateStatus(id, registry.StatusError, time.Time{})
	return Decision{ServiceID: id, Action: ActionRecorded}
}

func (c *Controller) handleHealthyLocked(st *serviceState, verdict monitoring.Verdict) Decision {
	id := verdict.ServiceID
	if st.Exhausted {
		c.logger.Debugf("Service healthy but restart budget exhausted, status stays error, id: %s", id)
		return Decision{ServiceID: id, Action: ActionExhausted}
	}

	action := ActionNone
	if st.ConsecutiveFailures > 0 || st.RestartAttempts > 0 {
		action = ActionRecovered
		c.logger.Infof("Service recovered, id: %s, failures: %d, restart attempts: %d",
			id, st.ConsecutiveFailures, st.RestartAttempts)
	}
	st.ConsecutiveFailures = 0
	st.RestartAttempts = 0
	st.Backoff = 0
	st.LastReason = monitoring.ReasonNone

	c.reg.UpdateStatus(id, registry.StatusRunning, verdict.CheckedAt)
	return Decision{ServiceID: id, Action: action}
}

func (c *Controller) handleUnhealthyLocked(st *serviceState, d registry.ServiceDescriptor, verdict monitoring.Verdict) Decision {
	id := d.ID
	st.ConsecutiveFailures++
	st.LastReason = verdict.Reason
	c.reg.UpdateStatus(id, registry.StatusError, time.Time{})

	policy := d.EffectiveRestartPolicy()
	if policy == registry.RestartNever {
		return Decision{ServiceID: id, Action: ActionRecorded}
	}
	if st.Exhausted {
		return Decision{ServiceID: id, Action: ActionExhausted,
			Err: errors.NewRestartExhaustedError(id, st.RestartAttempts)}
	}
	if st.InFlight {
		return Decision{ServiceID: id, Action: ActionRestartInFlight, Attempt: st.RestartAttempts}
	}

	threshold := c.config.FailureThreshold
	if policy == registry.RestartAlways {
		threshold = 1
	}
	if st.ConsecutiveFailures < threshold {
		return Decision{ServiceID: id, Action: ActionRecorded}
	}

	if st.RestartAttempts >= c.config.MaxRetryAttempts {
		st.Exhausted = true
		err := errors.NewRestartExhaustedError(id, st.RestartAttempts)
		c.logger.Errorf("Restart attempts exhausted, id: %s, attempts: %d, max: %d, reason: %s",
			id, st.RestartAttempts, c.config.MaxRetryAttempts, verdict.Reason)
		return Decision{ServiceID: id, Action: ActionExhausted, Err: err}
	}

	st.RestartAttempts++
	st.Backoff = c.backoffFor(st.RestartAttempts)
	st.InFlight = true

	attempt := st.RestartAttempts
	delay := st.Backoff
	c.logger.Warnf("Scheduling restart, id: %s, attempt: %d/%d, delay: %v, reason: %s",
		id, attempt, c.config.MaxRetryAttempts, delay, verdict.Reason)

	c.wg.Add(1)
	go c.restart(id, attempt, delay, st.generation)

	return Decision{ServiceID: id, Action: ActionRestartScheduled, Attempt: attempt, Delay: delay}
}

func (c *Controller) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(c.config.Backoff) {
		idx = len(c.config.Backoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return c.config.Backoff[idx]
}

func (c *Controller) restart(id string, attempt int, delay time.Duration, generation int) {
	defer c.wg.Done()
	defer c.clearInFlight(id)

	if err := c.sleep(c.ctx, delay); err != nil {
		c.logger.Infof("Restart cancelled, id: %s, attempt: %d", id, attempt)
		return
	}

	c.mu.Lock()
	st := c.stateLocked(id)
	latest := st.latest
	current := st.generation
	c.mu.Unlock()
	if current != generation {
		c.logger.Infof("Restart skipped, restart state was reset during backoff, id: %s, attempt: %d", id, attempt)
		return
	}
	if latest.Healthy {
		c.logger.Infof("Restart skipped, service recovered during backoff, id: %s, attempt: %d", id, attempt)
		return
	}

	d, ok := c.reg.Get(id)
	if !ok {
		c.logger.Infof("Restart skipped, service unregistered, id: %s", id)
		return
	}

	err := c.restartProcess(d)

	c.mu.Lock()
	st = c.stateLocked(id)
	st.LastRestartAt = c.now()
	callback := c.onRestart
	c.mu.Unlock()

	if err != nil {
		c.logger.Errorf("Restart failed, id: %s, attempt: %d, error: %v", id, attempt, err)
		c.reg.UpdateStatus(id, registry.StatusError, time.Time{})
	} else {
		c.logger.Infof("Restart completed, id: %s, attempt: %d", id, attempt)
	}

	if callback != nil {
		callback(Event{ServiceID: id, Attempt: attempt, Err: err, At: c.now()})
	}
}

func (c *Controller) restartProcess(d registry.ServiceDescriptor) error {
	if !process.IsManaged(d) {
		return errors.NewProcessError("service has no command and cannot be restarted", nil).WithContext("id", d.ID)
	}

	c.reg.UpdateStatus(d.ID, registry.StatusStarting, time.Time{})

	ctx := c.ctx
	if c.config.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.StopTimeout)
		defer cancel()
	}

	if err := c.control.Stop(ctx, d); err != nil {
		c.logger.Warnf("Stop before restart failed, id: %s, error: %v", d.ID, err)
	}
	pid, err := c.control.Start(ctx, d)
	if err != nil {
		return err
	}
	c.reg.SetPID(d.ID, pid)
	return nil
}

func (c *Controller) clearInFlight(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateLocked(id).InFlight = false
}

func (c *Controller) stateLocked(id string) *serviceState {
	st, ok := c.states[id]
	if !ok {
		st = &serviceState{}
		c.states[id] = st
	}
	return st
}

// State returns a copy of the bookkeeping for id
func (c *Controller) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[id]; ok {
		return st.State
	}
	return State{}
}

// States returns a copy of all bookkeeping
func (c *Controller) States() map[string]State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]State, len(c.states))
	for id, st := range c.states {
		out[id] = st.State
	}
	return out
}

// Reset clears counters and the exhausted latch, as after an explicit operator start
func (c *Controller) Reset(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[id]; ok {
		if st.RestartAttempts > 0 || st.Exhausted {
			c.logger.Infof("Resetting restart state, id: %s, previous attempts: %d", id, st.RestartAttempts)
		}
		inFlight := st.InFlight
		st.State = State{InFlight: inFlight}
		st.latest = monitoring.Verdict{}
		st.generation++
	}
}

// ResetAll clears every service's bookkeeping
func (c *Controller) ResetAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Reset(id)
	}
}

// Wait blocks until no restart is in flight
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels pending restarts and waits for running ones
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
