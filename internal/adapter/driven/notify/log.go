// Package notify implements the Notifier port.
package notify

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/reelqueue/internal/domain/model"
	"github.com/ericfisherdev/reelqueue/internal/domain/port/driven"
)

var _ driven.Notifier = (*LogNotifier)(nil)

// LogNotifier writes notifications to a structured logger. Failures and
// expired credentials are logged at warn level.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, note model.Notification) error {
	level := slog.LevelInfo
	if note.Kind != model.NotificationPostSent {
		level = slog.LevelWarn
	}

	attrs := []any{"kind", string(note.Kind), "account_id", note.AccountID, "at", note.At}
	if note.PostID != "" {
		attrs = append(attrs, "post_id", note.PostID)
	}
	n.logger.Log(ctx, level, note.Message, attrs...)
	return nil
}
