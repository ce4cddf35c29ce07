package logging

import (
	"log/slog"
)

// SetupRelayIPCMode initializes logging for relay-orchestrator IPC mode.
// When the relay orchestrator spawns an agent subprocess over stdio, stdout
// is reserved exclusively for the agent's IPC protocol stream: any stray
// write to stdout/stderr before or during a relay step would corrupt it and
// surface as ERR_303_IPC_PROTOCOL. This mode:
//   - Logs ONLY to file (never stdout/stderr)
//   - Uses JSON format for structured logs
//   - Always enables debug level for complete diagnostics
func SetupRelayIPCMode() (func(), error) {
	cfg := Config{
		Level:         "debug", // Always debug in IPC mode for full diagnostics
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // CRITICAL: never write to stderr while piping an agent
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)

	slog.Info("relay IPC mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level),
		slog.Bool("stderr_disabled", true))

	return cleanup, nil
}

// SetupRelayIPCModeWithLevel initializes IPC-safe logging with a specific level.
func SetupRelayIPCModeWithLevel(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false, // CRITICAL: never write to stderr while piping an agent
	}

	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	return cleanup, nil
}
