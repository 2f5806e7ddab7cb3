package ledger

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BalanceCache keeps derived balances in Redis for the short window between
// posts. It is an optimisation only; the ledger remains the source of truth.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache constructs the cache.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(accountID uuid.UUID) string {
	return "ledger:balance:" + accountID.String()
}

// Get returns the cached balance, reporting a miss on any error.
func (c *BalanceCache) Get(ctx context.Context, accountID uuid.UUID) (int64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}
	val, err := c.client.Get(ctx, balanceKey(accountID)).Result()
	if err != nil {
		return 0, false
	}
	balance, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return balance, true
}

// Set stores the balance for the configured TTL.
func (c *BalanceCache) Set(ctx context.Context, accountID uuid.UUID, balance int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, balanceKey(accountID), strconv.FormatInt(balance, 10), c.ttl).Err()
}

// Invalidate drops the cached balance after a post touches the account.
func (c *BalanceCache) Invalidate(ctx context.Context, accountIDs ...uuid.UUID) {
	if c == nil || c.client == nil {
		return
	}
	keys := make([]string, 0, len(accountIDs))
	for _, id := range accountIDs {
		keys = append(keys, balanceKey(id))
	}
	_ = c.client.Del(ctx, keys...).Err()
}
