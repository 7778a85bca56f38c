package log

import (
	"context"
	"log/slog"
	"time"
)

// SlogAdapter writes protocol events to an slog.Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	fs := eventFields(event)
	attrs := make([]slog.Attr, 0, len(fs))
	for _, f := range fs {
		if d, ok := f.value.(time.Duration); ok {
			attrs = append(attrs, slog.Duration(f.key, d))
			continue
		}
		attrs = append(attrs, slog.Any(f.key, f.value))
	}
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
