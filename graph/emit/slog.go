package emit

import (
	"context"
	"log/slog"
)

// SlogEmitter forwards events to a structured logger.
//
// node_error is logged at Warn and run outcomes at Info. Everything else is
// Debug, so a production logger at Info sees only outcomes.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates a SlogEmitter. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	switch event.Msg {
	case "node_error":
		level = slog.LevelWarn
	case "run_blocked", "run_complete", "run_cancelled":
		level = slog.LevelInfo
	}

	attrs := make([]slog.Attr, 0, 3+len(event.Meta))
	attrs = append(attrs, slog.String("run_id", event.RunID))
	if event.NodeID != "" {
		attrs = append(attrs, slog.String("node", event.NodeID), slog.Int("step", event.Step))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	s.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}
