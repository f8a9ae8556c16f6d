package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

// LogSink writes lifecycle events at info and per-URL events at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("articles_found", evt.Found),
			zap.Int("articles_processed", evt.Processed),
		}
		if evt.Stage.Lifecycle() {
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("job lifecycle", fields...)
			continue
		}
		fields = append(fields,
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
			zap.String("outcome", string(evt.Outcome)),
			zap.String("error_type", string(evt.ErrorKind)),
			zap.Int("attempts", evt.Attempts),
			zap.Duration("dur", evt.Dur),
		)
		s.logger.Debug("url processed", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
