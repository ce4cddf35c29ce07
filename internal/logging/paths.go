package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.sona/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".sona", "logs")
	}
	return filepath.Join(home, ".sona", "logs")
}

// DefaultLogPath returns the default server log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "server.log")
}

// RelayLogPath returns the path of the relay-agent log that the log viewer
// reads for the relay source. No package in this module writes to it.
func RelayLogPath() string {
	return filepath.Join(DefaultLogDir(), "relay-agent.log")
}

// LogSource represents the source of logs to view.
type LogSource string

const (
	// LogSourceGo is the sonactl server logs (default).
	LogSourceGo LogSource = "go"
	// LogSourceRelay is captured output from spawned relay-step agents.
	LogSourceRelay LogSource = "relay"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.sona/logs/server.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	// Try global path
	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Logging may not have been set up yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	// Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceGo:
		goPath := DefaultLogPath()
		checked = append(checked, goPath)
		if _, err := os.Stat(goPath); err == nil {
			paths = append(paths, goPath)
		}

	case LogSourceRelay:
		relayPath := RelayLogPath()
		checked = append(checked, relayPath)
		if _, err := os.Stat(relayPath); err == nil {
			paths = append(paths, relayPath)
		}

	case LogSourceAll:
		goPath := DefaultLogPath()
		relayPath := RelayLogPath()
		checked = append(checked, goPath, relayPath)

		if _, err := os.Stat(goPath); err == nil {
			paths = append(paths, goPath)
		}
		if _, err := os.Stat(relayPath); err == nil {
			paths = append(paths, relayPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: go, relay, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "relay":
		return LogSourceRelay
	case "all":
		return LogSourceAll
	default:
		return LogSourceGo
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

// getLogHint returns a helpful message on how to generate logs for the given source.
func getLogHint(source LogSource) string {
	switch source {
	case LogSourceGo:
		return "Server logs are written by a process that calls logging.Setup or logging.SetupDefault."
	case LogSourceRelay:
		return "Relay agent logs are read from relay-agent.log in the log directory; no sonactl command writes it."
	case LogSourceAll:
		return "Server logs are written by a process that calls logging.Setup or logging.SetupDefault.\nRelay agent logs are read from relay-agent.log in the log directory; no sonactl command writes it."
	default:
		return ""
	}
}
