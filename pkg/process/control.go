package process

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"
)

// Control starts and stops the process behind a service
type Control interface {
	Start(ctx context.Context, d registry.ServiceDescriptor) (int, error)
	Stop(ctx context.Context, d registry.ServiceDescriptor) error
}

// IsManaged reports whether the manager owns the process of d. Services without
// a command are run by someone else and are only probed.
func IsManaged(d registry.ServiceDescriptor) bool {
	return d.Command != ""
}

const DefaultStopTimeout = 10 * time.Second

type ExecutorConfig struct {
	// LogDir receives one <id>.log per service with its combined output
	LogDir      string
	StopTimeout time.Duration
}

type runningProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	log  *os.File
}

// Executor is the default Control; it spawns commands in their own process group
type Executor struct {
	config ExecutorConfig
	logger logging.Logger

	mu        sync.Mutex
	processes map[string]*runningProcess
}

func NewExecutor(config ExecutorConfig, logger logging.Logger) *Executor {
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Executor{
		config:    config,
		logger:    logger,
		processes: make(map[string]*runningProcess),
	}
}

// Start spawns d.Command. The child outlives ctx; ctx only bounds the spawn itself.
func (e *Executor) Start(ctx context.Context, d registry.ServiceDescriptor) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.NewCancelledError("start cancelled", err).WithContext("id", d.ID)
	}
	if err := ValidateCommand(d); err != nil {
		e.logger.Errorf("Command validation failed, id: %s, error: %v", d.ID, err)
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.processes[d.ID]; ok {
		select {
		case <-existing.done:
		default:
			return existing.cmd.Process.Pid, nil
		}
	}

	workDir := d.WorkingDirectory
	if workDir == "" {
		if absPath, err := filepath.Abs(d.Command); err == nil && filepath.IsAbs(d.Command) {
			workDir = filepath.Dir(absPath)
		}
	}

	cmd := exec.Command(d.Command, d.Args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), d.Environment...)
	setupProcessAttributes(cmd)

	var logFile *os.File
	if e.config.LogDir != "" {
		if err := os.MkdirAll(e.config.LogDir, 0755); err != nil {
			return 0, errors.NewIOError("failed to create service log directory", err).WithContext("id", d.ID)
		}
		logPath := filepath.Join(e.config.LogDir, d.ID+".log")
		if err := RotateLog(logPath, time.Now()); err != nil {
			e.logger.Warnf("Failed to rotate service log, id: %s, error: %v", d.ID, err)
		}
		var err error
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return 0, errors.NewIOError("failed to open service log", err).WithContext("id", d.ID)
		}
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	e.logger.Debugf("Starting process, id: %s, command: '%s', args: %v, working directory: '%s'",
		d.ID, d.Command, d.Args, workDir)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return 0, errors.NewProcessError("failed to start the process", err).
			WithContext("id", d.ID).
			WithContext("command", d.Command)
	}

	proc := &runningProcess{cmd: cmd, done: make(chan struct{}), log: logFile}
	e.processes[d.ID] = proc
	go func() {
		err := cmd.Wait()
		if proc.log != nil {
			proc.log.Close()
		}
		close(proc.done)
		e.logger.Infof("Process exited, id: %s, PID: %d, error: %v", d.ID, cmd.Process.Pid, err)
	}()

	e.logger.Infof("Process started, id: %s, PID: %d", d.ID, cmd.Process.Pid)
	return cmd.Process.Pid, nil
}

// Stop sends a termination signal and kills the process if it has not exited
// within the stop timeout. Processes not spawned by this executor are found by d.PID.
func (e *Executor) Stop(ctx context.Context, d registry.ServiceDescriptor) error {
	e.mu.Lock()
	proc, tracked := e.processes[d.ID]
	delete(e.processes, d.ID)
	e.mu.Unlock()

	if !tracked {
		return e.stopUntracked(ctx, d)
	}

	select {
	case <-proc.done:
		return nil
	default:
	}

	pid := proc.cmd.Process.Pid
	e.logger.Infof("Stopping process, id: %s, PID: %d", d.ID, pid)
	if err := SendTerminationSignal(pid); err != nil {
		e.logger.Warnf("Termination signal failed, id: %s, PID: %d, error: %v", d.ID, pid, err)
	}

	timer := time.NewTimer(e.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-proc.done:
		return nil
	case <-timer.C:
		e.logger.Warnf("Process did not exit in time, killing, id: %s, PID: %d", d.ID, pid)
	case <-ctx.Done():
		e.logger.Warnf("Stop cancelled, killing, id: %s, PID: %d", d.ID, pid)
	}

	if err := proc.cmd.Process.Kill(); err != nil {
		select {
		case <-proc.done:
			return nil
		default:
		}
		return errors.NewProcessError("failed to kill process", err).WithContext("id", d.ID).WithContext("pid", pid)
	}
	<-proc.done
	return nil
}

func (e *Executor) stopUntracked(ctx context.Context, d registry.ServiceDescriptor) error {
	if d.PID <= 0 {
		return nil
	}
	running, err := IsRunning(d.PID)
	if err != nil || !running {
		return nil
	}

	e.logger.Infof("Stopping untracked process, id: %s, PID: %d", d.ID, d.PID)
	if err := SendTerminationSignal(d.PID); err != nil {
		return errors.NewProcessError("failed to signal process", err).WithContext("id", d.ID).WithContext("pid", d.PID)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(e.config.StopTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if running, _ := IsRunning(d.PID); !running {
				return nil
			}
		case <-deadline.C:
			return errors.NewTimeoutError("process did not exit", nil).WithContext("id", d.ID).WithContext("pid", d.PID)
		case <-ctx.Done():
			return errors.NewCancelledError("stop cancelled", ctx.Err()).WithContext("id", d.ID)
		}
	}
}

// StopAll terminates every process spawned by this executor
func (e *Executor) StopAll(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.processes))
	for id := range e.processes {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	collection := errors.NewErrorCollection()
	for _, id := range ids {
		collection.Add(e.Stop(ctx, registry.ServiceDescriptor{ID: id}))
	}
	return collection.ToError()
}

// ValidateCommand checks the process fields of a managed service
func ValidateCommand(d registry.ServiceDescriptor) error {
	if d.Command == "" {
		return errors.NewValidationError("service has no command", nil).WithContext("id", d.ID)
	}
	if _, err := exec.LookPath(d.Command); err != nil {
		return errors.NewValidationError("command not found: "+d.Command, err).WithContext("id", d.ID)
	}
	if d.WorkingDirectory != "" {
		info, err := os.Stat(d.WorkingDirectory)
		if err != nil {
			return errors.NewValidationError("working directory not accessible: "+d.WorkingDirectory, err).WithContext("id", d.ID)
		}
		if !info.IsDir() {
			return errors.NewValidationError("working directory is not a directory: "+d.WorkingDirectory, nil).WithContext("id", d.ID)
		}
	}
	for _, env := range d.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError("invalid environment variable format: "+env, nil).WithContext("id", d.ID)
		}
	}
	return nil
}

// RotatedLogTimestampFormat is embedded in the names of rotated logs
const RotatedLogTimestampFormat = "20060102-150405.000"

// RotateLog renames a non-empty log at path to <stem>-<timestamp>.log so the
// next run starts a fresh file
func RotateLog(path string, now time.Time) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	ext := filepath.Ext(path)
	rotated := strings.TrimSuffix(path, ext) + "-" + now.UTC().Format(RotatedLogTimestampFormat) + ext
	return os.Rename(path, rotated)
}
