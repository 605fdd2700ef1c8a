package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upline/internal/referral"
)

func newTestNotifier(t *testing.T) (*RedisNotifier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisNotifierWithClient(client, nil), mr
}

func TestPromotionChangedEnqueues(t *testing.T) {
	n, mr := newTestNotifier(t)

	err := n.PromotionChanged(context.Background(), "user-1", referral.RoleMember, referral.RoleAdvocate)
	require.NoError(t, err)

	raw, err := mr.Lpop(PromotionQueueKey)
	require.NoError(t, err)

	var msg promotionMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	assert.Equal(t, "user-1", msg.UserID)
	assert.Equal(t, "member", msg.OldRole)
	assert.Equal(t, "advocate", msg.NewRole)
	assert.Equal(t, int(referral.RoleAdvocate), msg.NewLevel)
	assert.False(t, msg.EmittedAt.IsZero())
}

func TestPromotionChangedPreservesOrder(t *testing.T) {
	n, mr := newTestNotifier(t)
	ctx := context.Background()

	require.NoError(t, n.PromotionChanged(ctx, "a", referral.RoleMember, referral.RoleAdvocate))
	require.NoError(t, n.PromotionChanged(ctx, "b", referral.RoleAdvocate, referral.RoleBuilder))

	first, err := mr.Lpop(PromotionQueueKey)
	require.NoError(t, err)
	second, err := mr.Lpop(PromotionQueueKey)
	require.NoError(t, err)

	var m1, m2 promotionMessage
	require.NoError(t, json.Unmarshal([]byte(first), &m1))
	require.NoError(t, json.Unmarshal([]byte(second), &m2))
	assert.Equal(t, "a", m1.UserID)
	assert.Equal(t, "b", m2.UserID)
}

func TestPromotionChangedReportsBrokerFailure(t *testing.T) {
	n, mr := newTestNotifier(t)
	mr.Close()

	err := n.PromotionChanged(context.Background(), "user-1", referral.RoleMember, referral.RoleAdvocate)
	assert.Error(t, err)
}
