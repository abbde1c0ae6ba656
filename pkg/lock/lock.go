package lock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"

	"github.com/google/uuid"
)

// DefaultStaleAfter is the age after which a lock is considered abandoned
const DefaultStaleAfter = 30 * time.Minute

// Record is the content of the lock file
type Record struct {
	Operation string    `json:"operation"`
	OwnerPID  int       `json:"owner_pid"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

// Holder describes the record for error messages
func (r Record) Holder() string {
	return fmt.Sprintf("operation '%s' (pid %d) since %s", r.Operation, r.OwnerPID, r.CreatedAt.Format(time.RFC3339))
}

// OperationLock serializes operations across processes with a
// create-exclusive file
type OperationLock struct {
	path       string
	staleAfter time.Duration
	logger     logging.Logger
	now        func() time.Time
	pid        int
	// beforeReclaim runs between judging a lock stale and moving it aside
	beforeReclaim func()
}

func New(path string, staleAfter time.Duration, logger logging.Logger) *OperationLock {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &OperationLock{
		path:       path,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
		pid:        os.Getpid(),
	}
}

func (l *OperationLock) Path() string {
	return l.path
}

// Handle releases a held lock
type Handle struct {
	lock   *OperationLock
	record Record
}

func (h *Handle) Record() Record {
	return h.record
}

// Acquire takes the lock for operation. A live lock yields a LockedError naming
// its holder; a stale lock is reclaimed with a warning.
func (l *OperationLock) Acquire(operation string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return nil, errors.NewIOError("failed to create lock directory", err).WithContext("path", l.path)
	}

	record := Record{
		Operation: operation,
		OwnerPID:  l.pid,
		Token:     uuid.NewString(),
		CreatedAt: l.now().UTC(),
	}

	for attempt := 0; attempt < 2; attempt++ {
		err := l.create(record)
		if err == nil {
			l.logger.Debugf("Operation lock acquired, operation: %s, path: %s", operation, l.path)
			return &Handle{lock: l, record: record}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.NewIOError("failed to create lock file", err).WithContext("path", l.path)
		}

		existing, readErr := l.read()
		if readErr != nil {
			// Unreadable or half-written record: judge by file age
			info, statErr := os.Stat(l.path)
			if statErr != nil {
				if os.IsNotExist(statErr) {
					continue
				}
				return nil, errors.NewIOError("failed to inspect lock file", statErr).WithContext("path", l.path)
			}
			existing = Record{Operation: "unknown", CreatedAt: info.ModTime()}
		}

		age := l.now().Sub(existing.CreatedAt)
		if age < l.staleAfter {
			return nil, lockedError(existing)
		}

		l.logger.Warnf("Reclaiming stale operation lock, holder: %s, age: %v, path: %s", existing.Holder(), age, l.path)
		if err := l.reclaim(existing); err != nil {
			return nil, err
		}
	}

	return nil, errors.NewLockedError("operation lock contended", "unknown")
}

// reclaimGuardStaleAfter is the age after which a reclaim guard left by a
// crashed process is ignored
const reclaimGuardStaleAfter = time.Minute

// reclaim removes a stale lock. Reclaimers are serialized by a guard file and
// re-read the lock under it; the lock is moved aside and deleted only if it
// still holds the record judged stale. A lock that changed in the meantime is
// put back and reported as held.
func (l *OperationLock) reclaim(stale Record) error {
	if l.beforeReclaim != nil {
		l.beforeReclaim()
	}

	guard := l.path + ".reclaim"
	if err := takeGuard(guard); err != nil {
		return err
	}
	defer os.Remove(guard)

	current, err := l.read()
	switch {
	case os.IsNotExist(err):
		return nil
	case err == nil && !sameRecord(current, stale):
		return lockedError(current)
	case err == nil && stale.Token == "":
		return lockedError(current)
	}

	sidecar := fmt.Sprintf("%s.stale-%s", l.path, uuid.NewString())
	if err := os.Rename(l.path, sidecar); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to move stale lock aside", err).WithContext("path", l.path)
	}
	defer os.Remove(sidecar)

	moved, err := readRecord(sidecar)
	if err != nil && stale.Token == "" {
		return nil
	}
	if err == nil && sameRecord(moved, stale) {
		return nil
	}

	if linkErr := os.Link(sidecar, l.path); linkErr != nil {
		l.logger.Errorf("Failed to put back a lock taken during reclaim, holder: %s, error: %v", moved.Holder(), linkErr)
	} else {
		l.logger.Warnf("Lock was replaced during reclaim and is kept, holder: %s", moved.Holder())
	}
	return lockedError(moved)
}

func takeGuard(guard string) error {
	for attempt := 0; attempt < 2; attempt++ {
		file, err := os.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return file.Close()
		}
		if !os.IsExist(err) {
			return errors.NewIOError("failed to create reclaim guard", err).WithContext("path", guard)
		}
		info, statErr := os.Stat(guard)
		if statErr == nil && time.Since(info.ModTime()) < reclaimGuardStaleAfter {
			return errors.NewLockedError("a stale operation lock is being reclaimed", "reclaimer")
		}
		os.Remove(guard)
	}
	return errors.NewLockedError("a stale operation lock is being reclaimed", "reclaimer")
}

func sameRecord(a, b Record) bool {
	return a.Token == b.Token && a.CreatedAt.Equal(b.CreatedAt)
}

func lockedError(holder Record) error {
	return errors.NewLockedError(
		fmt.Sprintf("another operation is in progress: %s", holder.Holder()), holder.Holder()).
		WithContext("operation", holder.Operation).
		WithContext("owner_pid", holder.OwnerPID)
}

func (l *OperationLock) create(record Record) error {
	file, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err == nil {
		_, err = file.Write(data)
	}
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(l.path)
		return err
	}
	return nil
}

func (l *OperationLock) read() (Record, error) {
	return readRecord(l.path)
}

func readRecord(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Current returns the present lock record, if any
func (l *OperationLock) Current() (Record, bool) {
	record, err := l.read()
	if err != nil {
		return Record{}, false
	}
	return record, true
}

// ForceClear removes the lock file regardless of owner
func (l *OperationLock) ForceClear() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to remove lock", err).WithContext("path", l.path)
	}
	return nil
}

// Release removes the lock if it still carries this handle's token
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	current, err := h.lock.read()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to read lock on release", err).WithContext("path", h.lock.path)
	}
	if current.Token != h.record.Token {
		h.lock.logger.Warnf("Operation lock taken over, not releasing, operation: %s, holder: %s",
			h.record.Operation, current.Holder())
		return nil
	}
	if err := os.Remove(h.lock.path); err != nil && !os.IsNotExist(err) {
		return errors.NewIOError("failed to release lock", err).WithContext("path", h.lock.path)
	}
	h.lock.logger.Debugf("Operation lock released, operation: %s", h.record.Operation)
	return nil
}
