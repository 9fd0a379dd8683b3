package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"tms-dashboard/internal/store"
)

func testStatusCache(t *testing.T) *store.AppStatusCache {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := store.NewJobStore(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return store.NewAppStatusCache(db)
}

// statusUpstream serves the appstatus endpoint. It answers combined requests
// (comma-joined cid param) with a cid-keyed map and single-cid requests with
// a flat status object, unless batchFails is set.
type statusUpstream struct {
	batchFails  bool
	batchCalls  atomic.Int64
	singleCalls atomic.Int64
	statusFor   func(cid string) string
	lastAuth    string
	lastApp     string
}

func (u *statusUpstream) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u.lastAuth = r.Header.Get("Authorization")
		u.lastApp = r.URL.Query().Get("app")
		cidParam := r.URL.Query().Get("cid")

		if strings.Contains(cidParam, ",") {
			u.batchCalls.Add(1)
			if u.batchFails {
				http.Error(w, "combined lookups unavailable", http.StatusInternalServerError)
				return
			}
			out := map[string]map[string]any{}
			for _, cid := range strings.Split(cidParam, ",") {
				out[cid] = map[string]any{"status": u.status(cid)}
			}
			json.NewEncoder(w).Encode(out)
			return
		}

		u.singleCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{"status": u.status(cidParam)})
	}
}

func (u *statusUpstream) status(cid string) string {
	if u.statusFor != nil {
		return u.statusFor(cid)
	}
	return "enabled"
}

func TestFetchColdThenWarm(t *testing.T) {
	cache := testStatusCache(t)
	up := &statusUpstream{}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	f := NewStatusFetcher(cache, 5*time.Second, 2*time.Second)
	cids := []string{"c1", "c2", "c3"}
	params := FetchParams{ClusterURL: srv.URL, Token: "tok", App: "PE", TTL: time.Minute}

	cold := f.Fetch(context.Background(), cids, params)
	if cold.CacheHits != 0 || cold.CacheMisses != 3 {
		t.Fatalf("cold fetch: hits=%d misses=%d", cold.CacheHits, cold.CacheMisses)
	}
	for _, cid := range cids {
		st, ok := cold.Statuses[cid]
		if !ok || st.Status != "enabled" || st.FromCache {
			t.Fatalf("cold status for %s: %+v", cid, st)
		}
	}
	if up.batchCalls.Load() != 1 || up.singleCalls.Load() != 0 {
		t.Fatalf("expected one combined call, got batch=%d single=%d",
			up.batchCalls.Load(), up.singleCalls.Load())
	}
	if up.lastAuth != "Bearer tok" || up.lastApp != "PE" {
		t.Fatalf("request not formed as expected: auth=%q app=%q", up.lastAuth, up.lastApp)
	}

	warm := f.Fetch(context.Background(), cids, params)
	if warm.CacheHits != 3 || warm.CacheMisses != 0 {
		t.Fatalf("warm fetch: hits=%d misses=%d", warm.CacheHits, warm.CacheMisses)
	}
	for _, cid := range cids {
		if !warm.Statuses[cid].FromCache {
			t.Fatalf("warm status for %s not from cache", cid)
		}
	}
	if up.batchCalls.Load() != 1 {
		t.Fatal("warm fetch should not hit upstream")
	}
}

func TestFetchFallsBackToSingles(t *testing.T) {
	cache := testStatusCache(t)
	up := &statusUpstream{batchFails: true}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	f := NewStatusFetcher(cache, 5*time.Second, 2*time.Second)
	res := f.Fetch(context.Background(), []string{"c1", "c2"}, FetchParams{
		ClusterURL: srv.URL, Token: "tok", App: "ALL", TTL: time.Minute,
	})

	if up.batchCalls.Load() != 1 || up.singleCalls.Load() != 2 {
		t.Fatalf("expected fallback to per-cid calls, got batch=%d single=%d",
			up.batchCalls.Load(), up.singleCalls.Load())
	}
	for _, cid := range []string{"c1", "c2"} {
		if res.Statuses[cid].Status != "enabled" {
			t.Fatalf("fallback status for %s: %+v", cid, res.Statuses[cid])
		}
	}

	// Fallback results were cached too.
	warm := f.Fetch(context.Background(), []string{"c1", "c2"}, FetchParams{
		ClusterURL: srv.URL, Token: "tok", App: "ALL", TTL: time.Minute,
	})
	if warm.CacheHits != 2 {
		t.Fatalf("expected fallback results cached, hits=%d", warm.CacheHits)
	}
}

func TestFetchSkipCache(t *testing.T) {
	cache := testStatusCache(t)
	up := &statusUpstream{}
	srv := httptest.NewServer(up.handler())
	defer srv.Close()

	f := NewStatusFetcher(cache, 5*time.Second, 2*time.Second)
	params := FetchParams{ClusterURL: srv.URL, Token: "tok", App: "PE", TTL: time.Minute}
	cids := []string{"c1", "c2"}

	f.Fetch(context.Background(), cids, params)

	params.SkipCache = true
	res := f.Fetch(context.Background(), cids, params)
	if res.CacheHits != 0 {
		t.Fatalf("skip_cache fetch reported hits: %d", res.CacheHits)
	}
	if up.batchCalls.Load() != 2 {
		t.Fatalf("expected upstream refetch, batch calls=%d", up.batchCalls.Load())
	}
	for _, cid := range cids {
		if res.Statuses[cid].FromCache {
			t.Fatalf("skip_cache returned cached status for %s", cid)
		}
	}
}

func TestFetchSingleErrors(t *testing.T) {
	cache := testStatusCache(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cidParam := r.URL.Query().Get("cid")
		if strings.Contains(cidParam, ",") {
			http.Error(w, "no combined lookups", http.StatusInternalServerError)
			return
		}
		switch cidParam {
		case "c1":
			json.NewEncoder(w).Encode(map[string]any{"status": "enabled"})
		case "c2":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			w.Write([]byte("not json"))
		}
	}))
	defer srv.Close()

	f := NewStatusFetcher(cache, 5*time.Second, 2*time.Second)
	res := f.Fetch(context.Background(), []string{"c1", "c2", "c3"}, FetchParams{
		ClusterURL: srv.URL, Token: "tok", App: "PE", TTL: time.Minute,
	})

	if got := res.Statuses["c1"].Status; got != "enabled" {
		t.Fatalf("c1: %q", got)
	}
	if got := res.Statuses["c2"].Status; got != "http_403" {
		t.Fatalf("c2: %q", got)
	}
	if got := res.Statuses["c3"].Status; got != "fetch_error" {
		t.Fatalf("c3: %q", got)
	}
}
