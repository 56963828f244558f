package transport

import (
	"context"
	"log/slog"

	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/cachestore"
	"github.com/MichaelMishaev/CommunityGuardBot-sub000/automod/ident"
)

const groupInfoCacheName = "group-info"

// CachedDirectory is a GroupDirectory which caches GroupInfo results. Cache errors are logged and fall through to the wrapped directory.
type CachedDirectory struct {
	Inner  GroupDirectory
	Cache  cachestore.CacheStore
	Logger *slog.Logger
}

var _ GroupDirectory = (*CachedDirectory)(nil)

func NewCachedDirectory(inner GroupDirectory, cache cachestore.CacheStore, logger *slog.Logger) *CachedDirectory {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDirectory{Inner: inner, Cache: cache, Logger: logger}
}

func (d *CachedDirectory) GroupInfo(ctx context.Context, group ident.Identity) (*GroupInfo, error) {
	var info GroupInfo
	found, err := cachestore.GetJSON(ctx, d.Cache, groupInfoCacheName, group.String(), &info)
	if err != nil {
		d.Logger.Warn("group info cache read failed", "group", group, "err", err)
	} else if found {
		return &info, nil
	}

	fresh, err := d.Inner.GroupInfo(ctx, group)
	if err != nil {
		return nil, err
	}
	if err := cachestore.SetJSON(ctx, d.Cache, groupInfoCacheName, group.String(), fresh); err != nil {
		d.Logger.Warn("group info cache write failed", "group", group, "err", err)
	}
	return fresh, nil
}

// Membership changes make cached info stale; callers purge after kicks.
func (d *CachedDirectory) Purge(ctx context.Context, group ident.Identity) {
	if err := d.Cache.Purge(ctx, groupInfoCacheName, group.String()); err != nil {
		d.Logger.Warn("group info cache purge failed", "group", group, "err", err)
	}
}

func (d *CachedDirectory) ListGroups(ctx context.Context) ([]ident.Identity, error) {
	return d.Inner.ListGroups(ctx)
}
