package audit

import "go.uber.org/zap"

// Sink is the destination for audit events and summaries. NoopSink and
// ZapSink are independent implementations; a caller that wants both can
// compose its own fan-out sink.
type Sink interface {
	Emit(Event)
	EmitSummary(Summary)
}

// NoopSink discards everything. Useful when audit is disabled but the
// pipeline's sampling/backpressure behavior should still be exercised.
type NoopSink struct{}

func (NoopSink) Emit(Event)          {}
func (NoopSink) EmitSummary(Summary) {}

// ZapSink writes events and summaries as structured log lines.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink wraps a *zap.Logger as a Sink.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log}
}

func (s *ZapSink) Emit(e Event) {
	fields := []zap.Field{
		zap.String("kind", e.Kind.String()),
		zap.String("limiter", e.Limiter),
		zap.String("key", e.MaskedKey),
		zap.Bool("allowed", e.Allowed),
		zap.Time("at", e.At),
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	switch e.Kind {
	case SystemFailure:
		s.log.Error("rate limit audit", fields...)
	case ConfigChange:
		s.log.Info("rate limit audit", fields...)
	default:
		s.log.Info("rate limit audit", fields...)
	}
}

func (s *ZapSink) EmitSummary(sum Summary) {
	s.log.Info("rate limit audit summary",
		zap.String("limiter", sum.Limiter),
		zap.Int64("total", sum.Total),
		zap.Int64("logged", sum.Logged),
		zap.Int64("suppressed", sum.Suppressed),
		zap.Float64("last_minute_rate", sum.LastMinuteRate),
		zap.Time("at", sum.At),
	)
}
