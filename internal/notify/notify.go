// Package notify delivers promotion notifications to the surrounding
// messaging system. Delivery is fire and forget: the engine logs failures
// and moves on.
package notify

import (
	"context"
	"log/slog"

	"upline/internal/referral"
)

// LogNotifier is the fallback when no queue is configured. It only writes a
// structured log line, which is enough for local runs and tests.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger}
}

func (n *LogNotifier) PromotionChanged(ctx context.Context, userID string, oldRole, newRole referral.Role) error {
	n.log.Info("promotion",
		"user_id", userID,
		"old_role", oldRole.String(),
		"new_role", newRole.String(),
	)
	return nil
}
