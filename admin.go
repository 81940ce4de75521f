package forwardcache

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/hlog"
)

type cacheEntryInfo struct {
	Key     string `json:"key"`
	Size    int    `json:"size"`
	Recency uint64 `json:"recency"`
}

type statsResponse struct {
	StatsSnapshot
	CacheLen      int `json:"cacheLen"`
	CacheCapacity int `json:"cacheCapacity"`
}

// AdminHandler returns a read-only HTTP handler exposing stats and cache contents.
//
//	GET /healthz  always 200
//	GET /stats    counters and cache fill
//	GET /cache    stored keys in slot order, with sizes and recency
//
// Listing the cache does not count as a hit.
func (p *Proxy) AdminHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(p.log))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Admin request")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, statsResponse{
			StatsSnapshot: p.stats.Snapshot(),
			CacheLen:      p.cache.Len(),
			CacheCapacity: p.cache.Capacity(),
		})
	})
	r.Get("/cache", func(w http.ResponseWriter, r *http.Request) {
		entries := p.cache.Entries()
		infos := make([]cacheEntryInfo, 0, len(entries))
		for _, e := range entries {
			infos = append(infos, cacheEntryInfo{Key: e.Key, Size: len(e.Payload), Recency: e.Recency})
		}
		writeJSON(w, r, infos)
	})
	return r
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not write response")
	}
}
