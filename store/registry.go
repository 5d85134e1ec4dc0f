package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MZRMRB/trakr/pipeline"
)

// Registry resolves tags to their registered organization, caching results
// so the tenant check on the hot path rarely touches Postgres.
type Registry struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[string]registryEntry
}

type registryEntry struct {
	orgID     string
	expiresAt time.Time
}

func NewRegistry(pool *pgxpool.Pool, ttl time.Duration) *Registry {
	return &Registry{
		pool:  pool,
		ttl:   ttl,
		cache: make(map[string]registryEntry),
	}
}

// ResolveTag returns the organization the tag is registered to, or
// pipeline.ErrUnknownTag. Negative results are not cached: an unknown tag is
// cheap to re-check and may be mid-provisioning.
func (r *Registry) ResolveTag(ctx context.Context, tagID string) (string, error) {
	r.mu.RLock()
	entry, ok := r.cache[tagID]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.orgID, nil
	}

	var orgID string
	err := r.pool.QueryRow(ctx,
		`SELECT org_id FROM tags WHERE tag_id = $1`, tagID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", pipeline.ErrUnknownTag
	}
	if err != nil {
		return "", fmt.Errorf("resolve tag: %w", err)
	}

	r.mu.Lock()
	r.cache[tagID] = registryEntry{orgID: orgID, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return orgID, nil
}
