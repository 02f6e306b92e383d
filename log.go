package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/sarthi-app/sarthi/internal/config"
)

// logFile is the open log file, if any.
var logFile io.Writer = io.Discard

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

func setupLog() (func() error, error) {
	// Log to file, if set
	log.SetOutput(io.Discard)
	path, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		// log disabled
		return func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		// log disabled
		return func() error { return nil }, nil
	}
	logFile = f
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	if os.Getenv("SARTHI_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}
	return f.Close, nil
}

// logToStderr mirrors the log on stderr, for long running commands.
func logToStderr() {
	log.SetOutput(io.MultiWriter(logFile, os.Stderr))
}
