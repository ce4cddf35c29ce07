// Package logging provides opt-in file-based logging with rotation for SONA.
// Setup writes JSON logs to a rotating file at Config.FilePath (by default
// ~/.sona/logs/server.log) and, when WriteToStderr is set, to stderr as well;
// DebugConfig selects the debug level. Nothing is logged until a caller runs
// Setup or SetupDefault; the sonactl commands do not call either.
package logging
