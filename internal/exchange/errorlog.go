package exchange

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrorLog is the companion file written next to an archive whose import
// recorded row errors.
type ErrorLog struct {
	CreatedAt   time.Time  `json:"created_at"`
	SourceFile  string     `json:"source_file"`
	ErrorsCount int        `json:"errors_count"`
	Errors      []RowError `json:"errors"`
}

// ErrorLogPath returns where the error log for archivePath goes at now.
func ErrorLogPath(archivePath string, now time.Time) string {
	base := filepath.Base(archivePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := stem + "_errors_" + now.Format("20060102_150405") + ".json"
	return filepath.Join(filepath.Dir(archivePath), name)
}

// WriteErrorLog writes errs next to archivePath and returns the log's path.
// Nothing is written for an empty list. A failed write is logged and
// reported as an empty path; it never fails the import.
func WriteErrorLog(archivePath string, errs []RowError, now time.Time) string {
	if len(errs) == 0 {
		return ""
	}

	path := ErrorLogPath(archivePath, now)
	data, err := json.MarshalIndent(ErrorLog{
		CreatedAt:   now.UTC(),
		SourceFile:  filepath.Base(archivePath),
		ErrorsCount: len(errs),
		Errors:      errs,
	}, "", "  ")
	if err != nil {
		slog.Warn("encode import error log", "path", path, "error", err)
		return ""
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Warn("write import error log", "path", path, "error", err)
		return ""
	}
	return path
}
