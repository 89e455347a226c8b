package daemon

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// maxLogSize is the size above which SetupLogging halves the log file.
const maxLogSize = 50 * 1024 * 1024

func init() {
	// Discard until explicitly enabled via --log-level or settings
	log.SetOutput(io.Discard)
}

// ParseLogLevel maps a settings level onto logrus. ok is false for "off".
func ParseLogLevel(level string) (lvl log.Level, ok bool) {
	switch NormalizeLogLevel(level) {
	case "off":
		return log.PanicLevel, false
	case "trace":
		return log.TraceLevel, true
	case "debug":
		return log.DebugLevel, true
	case "info":
		return log.InfoLevel, true
	case "warn", "warning":
		return log.WarnLevel, true
	case "error":
		return log.ErrorLevel, true
	default:
		return log.DebugLevel, true
	}
}

// SetupLogging points logrus at file (stderr when file is "-") with the
// given level. For "off" output is discarded. The returned closer releases
// the log file.
func SetupLogging(level, file string) (io.Closer, error) {
	lvl, ok := ParseLogLevel(level)
	if !ok {
		log.SetOutput(io.Discard)
		return io.NopCloser(nil), nil
	}
	log.SetLevel(lvl)

	if file == "-" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}
	if err := truncateLogFile(file, maxLogSize); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	log.SetOutput(f)
	return f, nil
}

// truncateLogFile keeps roughly the last half of logPath once it exceeds
// maxSize, cutting at a line boundary.
func truncateLogFile(logPath string, maxSize int64) error {
	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}
	start := len(data) - len(data)/2
	if i := strings.IndexByte(string(data[start:]), '\n'); i >= 0 {
		start += i + 1
	}
	kept := data[start:]
	header := fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n", time.Now().Format(time.RFC3339), len(kept))
	return os.WriteFile(logPath, append([]byte(header), kept...), 0600)
}
