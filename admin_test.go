package forwardcache

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/always-cache/forward-cache/cache"

	"github.com/rs/zerolog/log"
)

func TestAdminStats(t *testing.T) {
	c := cache.New(2)
	p := New(Config{Cache: c, Logger: &log.Logger})
	c.Write("a", []byte("a"))
	c.Write("b", []byte("b"))
	c.Write("c", []byte("c"))
	p.Stats().Hits.Add(3)

	rr := httptest.NewRecorder()
	p.AdminHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/stats", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("Status code is %d", rr.Code)
	}
	var stats statsResponse
	if err := json.NewDecoder(rr.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Hits != 3 || stats.Evictions != 1 || stats.CacheLen != 2 || stats.CacheCapacity != 2 {
		t.Fatalf("Stats are %+v", stats)
	}
}

func TestAdminCacheListing(t *testing.T) {
	p := New(Config{Cache: cache.New(3), Logger: &log.Logger})
	p.Cache().Write("http://example.com/a", []byte("12345"))
	p.Cache().Write("http://example.com/b", []byte("123"))

	rr := httptest.NewRecorder()
	p.AdminHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/cache", nil))

	if ct := rr.Result().Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type is %s", ct)
	}
	var entries []cacheEntryInfo
	if err := json.NewDecoder(rr.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Key != "http://example.com/a" || entries[0].Size != 5 || entries[1].Size != 3 {
		t.Fatalf("Entries are %+v", entries)
	}
	if entries[0].Recency >= entries[1].Recency {
		t.Fatalf("Recency not increasing: %+v", entries)
	}
	// listing does not count as a hit
	if p.Stats().Hits.Load() != 0 {
		t.Fatal("Listing counted as hit")
	}
}

func TestAdminUnknownRoute(t *testing.T) {
	p := New(Config{Logger: &log.Logger})

	rr := httptest.NewRecorder()
	p.AdminHandler().ServeHTTP(rr, httptest.NewRequest("POST", "/stats", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("Status code is %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	p.AdminHandler().ServeHTTP(rr, httptest.NewRequest("GET", "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("Status code is %d", rr.Code)
	}
}
