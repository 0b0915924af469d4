package audit

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to a structured logger. It is the sink used
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, events []Event) error {
	for _, ev := range events {
		attrs := []any{
			"event_id", ev.ID,
			"kind", string(ev.Kind),
			"run_id", ev.RunID,
		}
		switch {
		case ev.Flag != nil:
			attrs = append(attrs,
				"canonical_id", ev.Flag.CanonicalID,
				"identifier", ev.Flag.Identifier,
				"titles", ev.Flag.Titles,
				"provenance", ev.Flag.Provenance,
			)
			p.logger.WarnContext(ctx, "audit event", attrs...)
		case ev.Run != nil:
			attrs = append(attrs,
				"resolved", ev.Run.Resolved,
				"no_match", ev.Run.NoMatch,
				"errors", ev.Run.Errors,
				"groups", ev.Run.Groups,
				"merged_groups", ev.Run.MergedGroups,
				"title_disagreements", ev.Run.TitleDisagreements,
				"by_method", ev.Run.ByMethod,
				"duration_ms", ev.Run.DurationMS,
			)
			p.logger.InfoContext(ctx, "audit event", attrs...)
		default:
			p.logger.InfoContext(ctx, "audit event", attrs...)
		}
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
