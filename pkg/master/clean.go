package master

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/core-tools/hsu-mcp-master/pkg/config"
	"github.com/core-tools/hsu-mcp-master/pkg/domain"
	"github.com/core-tools/hsu-mcp-master/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

// DefaultStatsRetention bounds how long health and restart records are kept
const DefaultStatsRetention = 30 * 24 * time.Hour

// CompressedLogSuffix is appended to rotated logs kept by clean
const CompressedLogSuffix = ".zst"

// rotatedLogPattern matches <stem>-YYYYMMDD-HHMMSS.mmm.log, compressed or not
var rotatedLogPattern = regexp.MustCompile(`-\d{8}-\d{6}\.\d{3}\.log(\.zst)?$`)

// CleanReport is the Data of a clean result
type CleanReport struct {
	TempFiles      []string `json:"temp_files"`
	RemovedBackups []string `json:"removed_backups"`
	CompressedLogs []string `json:"compressed_logs"`
	RemovedLogs    []string `json:"removed_logs"`
	PrunedRecords  int64    `json:"pruned_records"`
}

// Clean removes temporary files, keeps the newest keep backups (KeepBackups
// when keep is not positive), compresses the newest KeepLogs rotated logs and
// removes older ones, and prunes old statistics. Current logs are not touched.
func (m *Master) Clean(ctx context.Context, keep int) domain.OperationResult {
	if keep <= 0 {
		keep = m.config.KeepBackups
	}
	return m.locked(ctx, domain.OperationClean, m.config.Environment, func(ctx context.Context, result *domain.OperationResult) {
		report := &CleanReport{
			TempFiles:      []string{},
			RemovedBackups: []string{},
			CompressedLogs: []string{},
			RemovedLogs:    []string{},
		}
		result.Data = report

		temp, err := m.tempFiles()
		result.AddError(err)
		for _, path := range temp {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result.AddWarning(fmt.Sprintf("failed to remove temporary file '%s': %v", path, err))
				continue
			}
			report.TempFiles = append(report.TempFiles, path)
		}

		removed, err := m.pruneBackups(keep, result)
		report.RemovedBackups = removed
		result.AddError(err)

		if err := ctx.Err(); err != nil {
			result.AddError(errors.NewCancelledError("clean cancelled", err))
			return
		}

		for _, dir := range m.logDirs() {
			compressed, deleted, err := m.pruneLogs(dir, m.config.KeepLogs, result)
			report.CompressedLogs = append(report.CompressedLogs, compressed...)
			report.RemovedLogs = append(report.RemovedLogs, deleted...)
			result.AddError(err)
		}

		if m.stats != nil {
			pruned, err := m.stats.Prune(m.now().Add(-DefaultStatsRetention))
			if err != nil {
				result.AddWarning(fmt.Sprintf("failed to prune statistics: %v", err))
			}
			report.PrunedRecords = pruned
		}

		m.logger.Infof("Clean completed, temp files: %d, backups removed: %d, logs compressed: %d, logs removed: %d",
			len(report.TempFiles), len(report.RemovedBackups), len(report.CompressedLogs), len(report.RemovedLogs))
	})
}

func (m *Master) logDirs() []string {
	if m.config.ServiceLogDir == m.config.LogDir {
		return []string{m.config.LogDir}
	}
	return []string{m.config.LogDir, m.config.ServiceLogDir}
}

// tempFiles lists leftovers of interrupted atomic writes
func (m *Master) tempFiles() ([]string, error) {
	dirs := []string{filepath.Dir(m.config.ConfigPath), m.config.BackupDir}
	var out []string
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+config.TempSuffix))
		if err != nil {
			return nil, errors.NewIOError("failed to list temporary files", err).WithContext("dir", dir)
		}
		out = append(out, matches...)
	}
	return out, nil
}

// removeTempFiles is the transient-state cleanup used by reset
func (m *Master) removeTempFiles() (int, error) {
	temp, err := m.tempFiles()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range temp {
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	return removed, nil
}

// pruneBackups deletes every backup, and its manifest, beyond the newest keep
func (m *Master) pruneBackups(keep int, result *domain.OperationResult) ([]string, error) {
	removed := []string{}
	handles, err := config.ListBackups(m.config.BackupDir)
	if err != nil {
		return removed, err
	}
	if len(handles) <= keep {
		return removed, nil
	}

	for _, handle := range handles[keep:] {
		failed := false
		for _, path := range []string{handle.BackupPath, handle.ManifestPath} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result.AddWarning(fmt.Sprintf("failed to remove backup '%s': %v", path, err))
				failed = true
			}
		}
		if !failed {
			removed = append(removed, handle.BackupPath)
		}
	}
	return removed, nil
}

type logFile struct {
	path    string
	modTime time.Time
}

// pruneLogs keeps the newest keep rotated logs in dir, compressed, and deletes the rest
func (m *Master) pruneLogs(dir string, keep int, result *domain.OperationResult) ([]string, []string, error) {
	compressed := []string{}
	deleted := []string{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return compressed, deleted, nil
		}
		return compressed, deleted, errors.NewIOError("failed to read log directory", err).WithContext("dir", dir)
	}

	var rotated []logFile
	for _, entry := range entries {
		if entry.IsDir() || !rotatedLogPattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rotated = append(rotated, logFile{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}
	sort.Slice(rotated, func(i, j int) bool {
		if rotated[i].modTime.Equal(rotated[j].modTime) {
			return rotated[i].path > rotated[j].path
		}
		return rotated[i].modTime.After(rotated[j].modTime)
	})

	for i, f := range rotated {
		if i >= keep {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				result.AddWarning(fmt.Sprintf("failed to remove log '%s': %v", f.path, err))
				continue
			}
			deleted = append(deleted, f.path)
			continue
		}
		if strings.HasSuffix(f.path, CompressedLogSuffix) {
			continue
		}
		target, err := compressLog(f.path)
		if err != nil {
			result.AddWarning(fmt.Sprintf("failed to compress log '%s': %v", f.path, err))
			continue
		}
		compressed = append(compressed, target)
	}
	return compressed, deleted, nil
}

// compressLog writes path.zst atomically, keeps the original modification
// time and removes the original
func compressLog(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", err
	}
	defer encoder.Close()

	target := path + CompressedLogSuffix
	if err := config.WriteFileAtomic(target, encoder.EncodeAll(data, nil), 0644); err != nil {
		return "", err
	}
	if err := os.Chtimes(target, info.ModTime(), info.ModTime()); err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil {
		return "", err
	}
	return target, nil
}
