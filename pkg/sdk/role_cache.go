package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RoleKeyPrefix namespaces role entries inside the shared SessionCache.
const RoleKeyPrefix = "role_"

// RoleCacheEntry is one cached role resolution.
type RoleCacheEntry struct {
	PrincipalKey string    `json:"principal_key"`
	Role         Role      `json:"role"`
	ResolvedAt   time.Time `json:"resolved_at"`
	// TTL overrides the cache-wide TTL for this entry; zero means use the default.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Expired reports whether the entry is older than its TTL at now.
// A non-positive ttl means entries never expire.
func (e RoleCacheEntry) Expired(now time.Time, ttl time.Duration) bool {
	if e.TTL > 0 {
		ttl = e.TTL
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.ResolvedAt) >= ttl
}

// RoleCacheKey returns the SessionCache key for a principal key.
func RoleCacheKey(principalKey string) string {
	return RoleKeyPrefix + principalKey
}

func encodeRoleEntry(e RoleCacheEntry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to marshal role cache entry: %w", err)
	}
	return string(data), nil
}

func decodeRoleEntry(raw string) (RoleCacheEntry, error) {
	var e RoleCacheEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return RoleCacheEntry{}, fmt.Errorf("failed to unmarshal role cache entry: %w", err)
	}
	return e, nil
}

// PurgeRoleEntries deletes every role-namespaced key from the cache and returns
// how many were removed. Keys outside the namespace are left alone.
func PurgeRoleEntries(ctx context.Context, cache SessionCache) (int, error) {
	keys, err := cache.ListKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list session cache keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		if !strings.HasPrefix(key, RoleKeyPrefix) {
			continue
		}
		if err := cache.Delete(ctx, key); err != nil {
			return removed, fmt.Errorf("failed to delete %s: %w", key, err)
		}
		removed++
	}
	return removed, nil
}
