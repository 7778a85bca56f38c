package log

import (
	"github.com/sirupsen/logrus"
)

// LogrusAdapter writes protocol events to a logrus logger. Errors are
// logged at Warn level, everything else at Debug.
type LogrusAdapter struct {
	logger logrus.FieldLogger
}

// NewLogrusAdapter creates a LogrusAdapter. A nil logger uses the logrus
// standard logger.
func NewLogrusAdapter(logger logrus.FieldLogger) *LogrusAdapter {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusAdapter{logger: logger}
}

// Log writes the event.
func (a *LogrusAdapter) Log(event Event) {
	fields := logrus.Fields{}
	for _, f := range eventFields(event) {
		fields[f.key] = durationValue(f.value)
	}
	entry := a.logger.WithFields(fields)
	if event.Category == CategoryError {
		entry.Warn("protocol")
		return
	}
	entry.Debug("protocol")
}

// Compile-time interface satisfaction check.
var _ Logger = (*LogrusAdapter)(nil)
