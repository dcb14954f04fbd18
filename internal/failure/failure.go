// Package failure maps raw process errors onto a closed taxonomy of failure
// reasons with operator-facing suggestions.
package failure

import (
	"os"
	"strings"
	"time"
)

// Reason identifies why a dev server failed.
type Reason string

const (
	ReasonPortInUse          Reason = "port_in_use"
	ReasonCommandNotFound    Reason = "command_not_found"
	ReasonDirectoryMissing   Reason = "directory_missing"
	ReasonPermissionDenied   Reason = "permission_denied"
	ReasonImmediateCrash     Reason = "immediate_crash"
	ReasonHealthCheckTimeout Reason = "health_check_timeout"
	ReasonHealthCheckFailed  Reason = "health_check_failed"
	ReasonUnknown            Reason = "unknown"
)

// immediateCrashWindow: exits this soon after start are classified as an
// immediate crash rather than a runtime failure.
const immediateCrashWindow = 3 * time.Second

// Classification is the diagnosis attached to a failed process record. The
// suggestion is purely informational and never drives control flow.
type Classification struct {
	Reason     Reason `json:"reason"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

var suggestions = map[Reason]string{
	ReasonPortInUse:          "Another process is using the port. Stop it or pick a different port.",
	ReasonCommandNotFound:    "Check that dependencies are installed and the command exists in PATH.",
	ReasonDirectoryMissing:   "The project directory no longer exists. Regenerate or restore the project.",
	ReasonPermissionDenied:   "Check file permissions and that the start script is executable.",
	ReasonImmediateCrash:     "The server crashed right after start. Check that dependencies are installed.",
	ReasonHealthCheckTimeout: "The server never bound its port. Check the start script's port configuration.",
	ReasonHealthCheckFailed:  "The server did not become healthy. Inspect the captured stderr output.",
	ReasonUnknown:            "Inspect the process logs for details.",
}

// Suggestion returns the fixed operator hint for a reason.
func Suggestion(r Reason) string {
	if s, ok := suggestions[r]; ok {
		return s
	}
	return suggestions[ReasonUnknown]
}

// Classify inspects the raw error text, the working directory, and timing to
// select exactly one reason. Checks run in priority order: port conflicts and
// structural spawn problems outrank timing-based heuristics.
func Classify(rawErr error, workDir string, startedAt time.Time) Classification {
	msg := ""
	if rawErr != nil {
		msg = rawErr.Error()
	}
	lower := strings.ToLower(msg)

	reason := ReasonUnknown
	switch {
	case strings.Contains(lower, "eaddrinuse") || strings.Contains(lower, "address already in use"):
		reason = ReasonPortInUse
	case strings.Contains(lower, "command not found") || strings.Contains(lower, "executable file not found") || strings.Contains(lower, "enoent"):
		reason = ReasonCommandNotFound
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "eacces"):
		reason = ReasonPermissionDenied
	case workDirMissing(workDir):
		reason = ReasonDirectoryMissing
	case !startedAt.IsZero() && time.Since(startedAt) < immediateCrashWindow:
		reason = ReasonImmediateCrash
	}

	return Classification{Reason: reason, Message: msg, Suggestion: Suggestion(reason)}
}

func workDirMissing(dir string) bool {
	if dir == "" {
		return false
	}
	_, err := os.Stat(dir)
	return os.IsNotExist(err)
}
