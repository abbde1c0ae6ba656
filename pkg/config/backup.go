package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/errors"
	"github.com/core-tools/hsu-mcp-master/pkg/logging"
	"github.com/core-tools/hsu-mcp-master/pkg/registry"

	"github.com/zeebo/blake3"
)

const (
	// BackupTimestampFormat is embedded in every backup file name
	BackupTimestampFormat = "20060102-150405.000"
	ManifestSuffix        = ".manifest.json"
	defaultBackupStem     = "mcp-config"
	maxNameAttempts       = 1000
)

// BackupHandle is the manifest written next to every backup
type BackupHandle struct {
	BackupDate   time.Time `json:"backupDate"`
	SourcePath   string    `json:"sourcePath"`
	BackupPath   string    `json:"backupPath"`
	FileSize     int64     `json:"fileSize"`
	Checksum     string    `json:"checksum"`
	ManifestPath string    `json:"-"`
}

// TimestampedName is the backup file name without directory
func (h BackupHandle) TimestampedName() string {
	return filepath.Base(h.BackupPath)
}

// Checksum returns the hex BLAKE3 digest of data
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Backup writes a timestamped YAML snapshot into destinationDir. sourcePath is
// recorded in the manifest and names the backup; it may be empty.
func Backup(snapshot registry.Snapshot, sourcePath, destinationDir string, now time.Time) (BackupHandle, error) {
	data, err := Encode(snapshot, FormatYAML)
	if err != nil {
		return BackupHandle{}, err
	}
	return writeBackup(data, sourcePath, ".yaml", destinationDir, now)
}

// BackupFile copies an existing configuration file byte for byte
func BackupFile(sourcePath, destinationDir string, now time.Time) (BackupHandle, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return BackupHandle{}, errors.NewNotFoundError("configuration file not found", err).WithContext("path", sourcePath)
		}
		return BackupHandle{}, errors.NewIOError("failed to read configuration file", err).WithContext("path", sourcePath)
	}
	ext := filepath.Ext(sourcePath)
	if ext == "" {
		ext = ".yaml"
	}
	return writeBackup(data, sourcePath, ext, destinationDir, now)
}

func writeBackup(data []byte, sourcePath, ext, destinationDir string, now time.Time) (BackupHandle, error) {
	if err := os.MkdirAll(destinationDir, 0755); err != nil {
		return BackupHandle{}, errors.NewIOError("failed to create backup directory", err).WithContext("dir", destinationDir)
	}

	stem := defaultBackupStem
	if sourcePath != "" {
		stem = strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	}
	base := fmt.Sprintf("%s-%s", stem, now.UTC().Format(BackupTimestampFormat))

	file, backupPath, err := createExclusive(destinationDir, base, ext)
	if err != nil {
		return BackupHandle{}, err
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(backupPath)
		return BackupHandle{}, errors.NewIOError("failed to write backup", err).WithContext("path", backupPath)
	}
	if err := file.Close(); err != nil {
		os.Remove(backupPath)
		return BackupHandle{}, errors.NewIOError("failed to close backup", err).WithContext("path", backupPath)
	}

	handle := BackupHandle{
		BackupDate:   now.UTC(),
		SourcePath:   sourcePath,
		BackupPath:   backupPath,
		FileSize:     int64(len(data)),
		Checksum:     Checksum(data),
		ManifestPath: backupPath + ManifestSuffix,
	}

	manifest, err := json.MarshalIndent(handle, "", "  ")
	if err != nil {
		return BackupHandle{}, errors.NewInternalError("failed to encode backup manifest", err)
	}
	mf, err := os.OpenFile(handle.ManifestPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return BackupHandle{}, errors.NewIOError("failed to create backup manifest", err).WithContext("path", handle.ManifestPath)
	}
	defer mf.Close()
	if _, err := mf.Write(append(manifest, '\n')); err != nil {
		return BackupHandle{}, errors.NewIOError("failed to write backup manifest", err).WithContext("path", handle.ManifestPath)
	}

	return handle, nil
}

// createExclusive never reuses an existing name; collisions get a numeric suffix
func createExclusive(dir, base, ext string) (*os.File, string, error) {
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base + ext
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d%s", base, attempt, ext)
		}
		path := filepath.Join(dir, name)
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", errors.NewIOError("failed to create backup file", err).WithContext("path", path)
		}
	}
	return nil, "", errors.NewConflictError("no free backup name", nil).WithContext("base", base)
}

// OpenBackup reads a manifest file
func OpenBackup(manifestPath string) (BackupHandle, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return BackupHandle{}, errors.NewNotFoundError("backup manifest not found", err).WithContext("path", manifestPath)
		}
		return BackupHandle{}, errors.NewIOError("failed to read backup manifest", err).WithContext("path", manifestPath)
	}
	var handle BackupHandle
	if err := json.Unmarshal(data, &handle); err != nil {
		return BackupHandle{}, errors.NewParseError("failed to parse backup manifest", err).WithContext("path", manifestPath)
	}
	handle.ManifestPath = manifestPath
	return handle, nil
}

// ListBackups returns the manifests in dir, newest first. Unreadable manifests are skipped.
func ListBackups(dir string) ([]BackupHandle, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+ManifestSuffix))
	if err != nil {
		return nil, errors.NewIOError("failed to list backups", err).WithContext("dir", dir)
	}
	handles := make([]BackupHandle, 0, len(matches))
	for _, path := range matches {
		handle, err := OpenBackup(path)
		if err != nil {
			continue
		}
		handles = append(handles, handle)
	}
	sort.SliceStable(handles, func(i, j int) bool {
		if handles[i].BackupDate.Equal(handles[j].BackupDate) {
			return handles[i].BackupPath > handles[j].BackupPath
		}
		return handles[i].BackupDate.After(handles[j].BackupDate)
	})
	return handles, nil
}

// Restore verifies and validates a backup, then atomically replaces targetPath.
// Any failure leaves targetPath untouched.
func Restore(handle BackupHandle, targetPath string, logger logging.Logger) (*registry.Registry, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	data, err := os.ReadFile(handle.BackupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("backup file not found", err).WithContext("path", handle.BackupPath)
		}
		return nil, errors.NewIOError("failed to read backup", err).WithContext("path", handle.BackupPath)
	}

	if handle.Checksum != "" {
		if actual := Checksum(data); actual != handle.Checksum {
			return nil, errors.NewValidationReportError("backup checksum mismatch",
				[]string{fmt.Sprintf("expected checksum %s, got %s", handle.Checksum, actual)}, nil).
				WithContext("path", handle.BackupPath)
		}
	}

	snapshot, err := Parse(data, FormatForPath(handle.BackupPath))
	if err != nil {
		return nil, errors.NewValidationReportError("backup is not a valid configuration document",
			[]string{err.Error()}, nil).WithContext("path", handle.BackupPath)
	}

	report := Validate(snapshot)
	if !report.IsValid {
		return nil, report.ToError("backup failed validation")
	}
	for _, warning := range report.Warnings {
		logger.Warnf("Restored configuration warning, backup: %s, warning: %s", handle.BackupPath, warning)
	}

	reg, err := registry.NewFromSnapshot(snapshot, logger)
	if err != nil {
		return nil, err
	}

	if FormatForPath(targetPath) != FormatForPath(handle.BackupPath) {
		if data, err = Encode(snapshot, FormatForPath(targetPath)); err != nil {
			return nil, err
		}
	}
	if err := WriteFileAtomic(targetPath, data, 0644); err != nil {
		return nil, err
	}

	logger.Infof("Configuration restored, backup: %s, target: %s, services: %d",
		handle.BackupPath, targetPath, len(snapshot.Services))
	return reg, nil
}
