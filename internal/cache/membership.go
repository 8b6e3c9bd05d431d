// Package cache provides a Redis-backed cache for project membership
// lookups on the hot access-check path.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// MembershipCache memoizes "is user X a member of project Y" answers.
// Entries are written on cache miss and dropped when a project's
// collaborator set changes.
type MembershipCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewMembershipCache connects to Redis and verifies the connection.
func NewMembershipCache(redisURL string, ttl time.Duration) (*MembershipCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewMembershipCacheWithClient(client, ttl), nil
}

// NewMembershipCacheWithClient wraps an existing Redis client.
func NewMembershipCacheWithClient(client *redis.Client, ttl time.Duration) *MembershipCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &MembershipCache{
		client: client,
		prefix: "member:",
		ttl:    ttl,
	}
}

func (c *MembershipCache) key(projectID, userID string) string {
	return c.prefix + projectID + ":" + userID
}

// GetMembership returns (isMember, found). A miss returns found=false;
// Redis errors are reported as misses with the error attached so the
// caller can fall through to the database.
func (c *MembershipCache) GetMembership(ctx context.Context, projectID, userID string) (bool, bool, error) {
	value, err := c.client.Get(ctx, c.key(projectID, userID)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("get membership: %w", err)
	}
	return value == "1", true, nil
}

// SetMembership records the answer for one (project, user) pair.
func (c *MembershipCache) SetMembership(ctx context.Context, projectID, userID string, isMember bool) error {
	value := "0"
	if isMember {
		value = "1"
	}
	if err := c.client.Set(ctx, c.key(projectID, userID), value, c.ttl).Err(); err != nil {
		return fmt.Errorf("set membership: %w", err)
	}
	return nil
}

// InvalidateProject drops every cached answer for a project. Called
// whenever collaborators are added or removed, or the project deleted.
func (c *MembershipCache) InvalidateProject(ctx context.Context, projectID string) error {
	var cursor uint64
	pattern := c.prefix + projectID + ":*"
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan membership keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete membership keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close releases the underlying Redis connection.
func (c *MembershipCache) Close() error {
	return c.client.Close()
}
