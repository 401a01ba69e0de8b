package dispatcher

import (
	"context"
	"log/slog"
)

// Sink accepts one leveled message per dispatched event.
type Sink interface {
	Emit(ctx context.Context, level slog.Level, msg string) error
}

type SlogSink struct {
	log *slog.Logger
}

func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

func (s *SlogSink) Emit(ctx context.Context, level slog.Level, msg string) error {
	s.log.Log(ctx, level, msg)
	return nil
}
