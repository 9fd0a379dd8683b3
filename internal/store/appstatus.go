package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// AppStatusCache is a TTL cache of per-customer application status, keyed by
// (cid, app_name). It shares jobs.db with JobStore. Staleness is decided
// lazily at read time against the caller's TTL; the per-entry ttl_seconds
// column is recorded for bookkeeping but never consulted.
type AppStatusCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewAppStatusCache wraps the jobs database handle. The schema is owned by
// NewJobStore.
func NewAppStatusCache(db *sql.DB) *AppStatusCache {
	return &AppStatusCache{db: db, now: time.Now}
}

// Get returns the cached status for (cid, app), or ErrNotFound when the entry
// is absent or older than ttl.
func (c *AppStatusCache) Get(ctx context.Context, cid, app string, ttl time.Duration) (map[string]any, error) {
	var raw string
	var cachedAt time.Time
	err := c.db.QueryRowContext(ctx, `
		SELECT status_data, cached_at FROM appstatus_cache
		WHERE cid = ? AND app_name = ?
	`, cid, app).Scan(&raw, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query appstatus cache: %w", err)
	}

	if c.now().UTC().Sub(cachedAt) > ttl {
		return nil, ErrNotFound
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("unmarshal cached status: %w", err)
	}
	return data, nil
}

// Put upserts the entry for (cid, app), unconditionally overwriting any prior
// value and its cached_at stamp. Last writer wins.
func (c *AppStatusCache) Put(ctx context.Context, cid, app string, data map[string]any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO appstatus_cache (cid, app_name, status_data, cached_at, ttl_seconds)
		VALUES (?, ?, ?, ?, ?)
	`, cid, app, string(raw), c.now().UTC(), int(ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("upsert appstatus cache: %w", err)
	}
	return nil
}

// BatchLookup is the result of a multi-cid cache read.
type BatchLookup struct {
	Hits      map[string]map[string]any `json:"hits"`
	Misses    []string                  `json:"misses"`
	HitCount  int                       `json:"hit_count"`
	MissCount int                       `json:"miss_count"`
}

// GetBatch looks up every cid in turn, partitioning them into hits and
// misses. Per-cid read errors count as misses.
func (c *AppStatusCache) GetBatch(ctx context.Context, cids []string, app string, ttl time.Duration) BatchLookup {
	out := BatchLookup{Hits: make(map[string]map[string]any)}
	for _, cid := range cids {
		data, err := c.Get(ctx, cid, app, ttl)
		if err != nil {
			out.Misses = append(out.Misses, cid)
			continue
		}
		out.Hits[cid] = data
	}
	out.HitCount = len(out.Hits)
	out.MissCount = len(out.Misses)
	return out
}

// Invalidate deletes cache entries and returns how many rows went away.
// Precedence: both cid and app given deletes the exact pair; cid alone
// deletes every app for that customer; app alone deletes every customer for
// that app; neither clears the whole cache.
func (c *AppStatusCache) Invalidate(ctx context.Context, cid, app string) (int64, error) {
	var res sql.Result
	var err error
	switch {
	case cid != "" && app != "":
		res, err = c.db.ExecContext(ctx, `DELETE FROM appstatus_cache WHERE cid = ? AND app_name = ?`, cid, app)
	case cid != "":
		res, err = c.db.ExecContext(ctx, `DELETE FROM appstatus_cache WHERE cid = ?`, cid)
	case app != "":
		res, err = c.db.ExecContext(ctx, `DELETE FROM appstatus_cache WHERE app_name = ?`, app)
	default:
		res, err = c.db.ExecContext(ctx, `DELETE FROM appstatus_cache`)
	}
	if err != nil {
		return 0, fmt.Errorf("invalidate appstatus cache: %w", err)
	}
	return res.RowsAffected()
}

// Sweep deletes every entry older than ttl, regardless of the TTL each entry
// was written with.
func (c *AppStatusCache) Sweep(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := c.now().UTC().Add(-ttl)
	res, err := c.db.ExecContext(ctx, `DELETE FROM appstatus_cache WHERE cached_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep appstatus cache: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats summarizes cache occupancy.
type CacheStats struct {
	TotalEntries int64   `json:"total_entries"`
	UniqueCIDs   int64   `json:"unique_cids"`
	SizeBytes    int64   `json:"size_bytes"`
	SizeKB       float64 `json:"size_kb"`
}

// Stats aggregates entry and size counts. Read-only.
func (c *AppStatusCache) Stats(ctx context.Context) (CacheStats, error) {
	var st CacheStats
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT cid), COALESCE(SUM(LENGTH(status_data)), 0)
		FROM appstatus_cache
	`).Scan(&st.TotalEntries, &st.UniqueCIDs, &st.SizeBytes)
	if err != nil {
		return CacheStats{}, fmt.Errorf("query cache stats: %w", err)
	}
	st.SizeKB = math.Round(float64(st.SizeBytes)/1024*100) / 100
	return st, nil
}
