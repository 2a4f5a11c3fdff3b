package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ClaimLease is a per-claim mutual exclusion lock with expiry.
type ClaimLease struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClaimLease creates a lease manager. A non-positive ttl defaults to ten minutes.
func NewClaimLease(client *Client, ttl time.Duration) *ClaimLease {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ClaimLease{rdb: client.rdb, ttl: ttl}
}

func leaseKey(claimID string) string {
	return fmt.Sprintf("questwatch:claim_lease:%s", claimID)
}

// Acquire takes the lease for a claim. ok is false when someone else holds it.
func (l *ClaimLease) Acquire(ctx context.Context, claimID string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, leaseKey(claimID), token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives up the lease if token still owns it.
func (l *ClaimLease) Release(ctx context.Context, claimID, token string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{leaseKey(claimID)}, token).Err(); err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return nil
}
