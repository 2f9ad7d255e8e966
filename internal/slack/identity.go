package slack

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"slackbridge/internal/domain"
)

// IdentityCache memoizes user id → display name and timezone for the process
// lifetime. Entries are never invalidated; names rarely change mid-session.
// Concurrent lookups for the same uncached id may issue duplicate network
// calls, which is harmless: the lookup is idempotent and last write wins.
type IdentityCache struct {
	api    userAPI
	logger *slog.Logger

	mu    sync.Mutex
	users map[string]domain.IdentityRecord
}

func NewIdentityCache(api userAPI, logger *slog.Logger) *IdentityCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityCache{
		api:    api,
		logger: logger,
		users:  make(map[string]domain.IdentityRecord),
	}
}

// Resolve returns the identity for userID, looking it up remotely on a cache
// miss. Lookup failures fall back to the raw id and are not cached, so the
// enclosing operation never fails on a missing identity.
func (c *IdentityCache) Resolve(ctx context.Context, userID string) domain.IdentityRecord {
	if userID == "" {
		return domain.IdentityRecord{}
	}
	c.mu.Lock()
	rec, ok := c.users[userID]
	c.mu.Unlock()
	if ok {
		return rec
	}

	if c.api == nil {
		return domain.IdentityRecord{DisplayName: userID}
	}
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		c.logger.Warn("user lookup failed", "user", userID, "err", err)
		return domain.IdentityRecord{DisplayName: userID}
	}

	name := user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = userID
	}
	rec = domain.IdentityRecord{DisplayName: name, Timezone: user.TZ}

	c.mu.Lock()
	c.users[userID] = rec
	c.mu.Unlock()
	return rec
}

// Prime inserts a record without a remote lookup.
func (c *IdentityCache) Prime(userID string, rec domain.IdentityRecord) {
	c.mu.Lock()
	c.users[userID] = rec
	c.mu.Unlock()
}

// NameRef pairs a display name with the user id it resolves to.
type NameRef struct {
	Name string
	ID   string
}

// ReverseIndex returns name→id pairs sorted longest name first, so mention
// resolution matches "Matt Weiss" before "Matt". Rebuilt on each call; the
// cache stays small enough that the recompute is cheap.
func (c *IdentityCache) ReverseIndex() []NameRef {
	c.mu.Lock()
	out := make([]NameRef, 0, len(c.users))
	for id, rec := range c.users {
		if rec.DisplayName == "" || rec.DisplayName == id {
			continue
		}
		out = append(out, NameRef{Name: rec.DisplayName, ID: id})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Name) != len(out[j].Name) {
			return len(out[i].Name) > len(out[j].Name)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
