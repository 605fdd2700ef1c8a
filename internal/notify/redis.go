package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"upline/internal/referral"
)

// PromotionQueueKey is the Redis list the messaging service drains.
const PromotionQueueKey = "upline:promotions"

type promotionMessage struct {
	UserID    string    `json:"user_id"`
	OldRole   string    `json:"old_role"`
	NewRole   string    `json:"new_role"`
	NewLevel  int       `json:"new_level"`
	EmittedAt time.Time `json:"emitted_at"`
}

// RedisNotifier pushes promotion records onto a Redis list for the external
// messaging collaborator to consume.
type RedisNotifier struct {
	client *redis.Client
	log    *slog.Logger
}

func NewRedisNotifier(redisURL string, logger *slog.Logger) (*RedisNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisNotifier{client: client, log: logger}, nil
}

// NewRedisNotifierWithClient wires an existing client; used by tests.
func NewRedisNotifierWithClient(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, log: logger}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) PromotionChanged(ctx context.Context, userID string, oldRole, newRole referral.Role) error {
	msg := promotionMessage{
		UserID:    userID,
		OldRole:   oldRole.String(),
		NewRole:   newRole.String(),
		NewLevel:  int(newRole),
		EmittedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal promotion: %w", err)
	}
	if err := n.client.RPush(ctx, PromotionQueueKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue promotion: %w", err)
	}
	n.log.Info("promotion queued", "user_id", userID, "new_role", newRole.String())
	return nil
}
