package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tms-dashboard/internal/store"
	"tms-dashboard/internal/telemetry"
)

// CIDStatus is the per-customer result shape returned to dashboard clients.
type CIDStatus struct {
	App       string `json:"app"`
	Status    string `json:"status"`
	FromCache bool   `json:"from_cache"`
}

// FetchResult aggregates a status fetch over a job's customer set.
type FetchResult struct {
	Statuses    map[string]CIDStatus `json:"appstatus"`
	CacheHits   int                  `json:"cache_hits"`
	CacheMisses int                  `json:"cache_misses"`
}

// FetchParams scopes one status fetch.
type FetchParams struct {
	ClusterURL string
	Token      string
	App        string
	TTL        time.Duration
	SkipCache  bool
}

// StatusFetcher serves per-customer application status, preferring the cache
// and filling misses from the upstream API. Misses are fetched with one
// combined request first; if that fails or returns an unexpected shape, it
// falls back to one request per customer id.
type StatusFetcher struct {
	cache        *store.AppStatusCache
	batchClient  *http.Client
	singleClient *http.Client
}

// NewStatusFetcher builds a fetcher. batchTimeout bounds the combined
// request, singleTimeout each per-cid fallback request.
func NewStatusFetcher(cache *store.AppStatusCache, batchTimeout, singleTimeout time.Duration) *StatusFetcher {
	return &StatusFetcher{
		cache:        cache,
		batchClient:  &http.Client{Timeout: batchTimeout},
		singleClient: &http.Client{Timeout: singleTimeout},
	}
}

// Fetch resolves status for every cid, from cache where fresh and upstream
// otherwise. Upstream results are cached best-effort; a cache write failure
// never fails the fetch.
func (f *StatusFetcher) Fetch(ctx context.Context, cids []string, p FetchParams) FetchResult {
	result := FetchResult{Statuses: make(map[string]CIDStatus, len(cids))}
	toFetch := cids

	if !p.SkipCache {
		lookup := f.cache.GetBatch(ctx, cids, p.App, p.TTL)
		result.CacheHits = lookup.HitCount
		result.CacheMisses = lookup.MissCount
		telemetry.CacheHits.Add(float64(lookup.HitCount))
		telemetry.CacheMisses.Add(float64(lookup.MissCount))

		for cid, data := range lookup.Hits {
			result.Statuses[cid] = CIDStatus{App: p.App, Status: statusField(data), FromCache: true}
		}
		toFetch = lookup.Misses
	}

	if len(toFetch) == 0 {
		return result
	}

	if f.fetchBatch(ctx, toFetch, p, &result) {
		return result
	}
	f.fetchSingles(ctx, toFetch, p, &result)
	return result
}

// fetchBatch tries one combined request for all missing cids. Returns false
// when the call fails or the body is not the expected cid-keyed map.
func (f *StatusFetcher) fetchBatch(ctx context.Context, cids []string, p FetchParams, result *FetchResult) bool {
	req, err := f.statusRequest(ctx, p, strings.Join(cids, ","))
	if err != nil {
		return false
	}

	resp, err := f.batchClient.Do(req)
	if err != nil {
		log.Printf("appstatus batch fetch failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var batch map[string]map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		log.Printf("appstatus batch parse error: %v", err)
		return false
	}

	wanted := make(map[string]struct{}, len(cids))
	for _, cid := range cids {
		wanted[cid] = struct{}{}
	}
	for cid, data := range batch {
		if _, ok := wanted[cid]; !ok {
			continue
		}
		if err := f.cache.Put(ctx, cid, p.App, data, p.TTL); err != nil {
			log.Printf("cache appstatus for %s: %v", cid, err)
		}
		result.Statuses[cid] = CIDStatus{App: p.App, Status: statusField(data), FromCache: false}
	}
	return true
}

// fetchSingles issues one request per cid, recording a per-cid error status
// instead of failing the whole fetch.
func (f *StatusFetcher) fetchSingles(ctx context.Context, cids []string, p FetchParams, result *FetchResult) {
	for _, cid := range cids {
		status := f.fetchOne(ctx, cid, p)
		result.Statuses[cid] = CIDStatus{App: p.App, Status: status, FromCache: false}
	}
}

func (f *StatusFetcher) fetchOne(ctx context.Context, cid string, p FetchParams) string {
	req, err := f.statusRequest(ctx, p, cid)
	if err != nil {
		return "error"
	}

	resp, err := f.singleClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "timeout"
		}
		return "error"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Sprintf("http_%d", resp.StatusCode)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "fetch_error"
	}
	if err := f.cache.Put(ctx, cid, p.App, data, p.TTL); err != nil {
		log.Printf("cache appstatus for %s: %v", cid, err)
	}
	return statusField(data)
}

func (f *StatusFetcher) statusRequest(ctx context.Context, p FetchParams, cidParam string) (*http.Request, error) {
	base := strings.TrimRight(p.ClusterURL, "/")
	endpoint := fmt.Sprintf("%s/tms/v1/get/appstatus?app=%s&cid=%s",
		base, url.QueryEscape(p.App), url.QueryEscape(cidParam))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func statusField(data map[string]any) string {
	if s, ok := data["status"].(string); ok {
		return s
	}
	return "unknown"
}
