package forwardcache

import "go.uber.org/atomic"

// Stats counts what the proxy did. The zero value is ready to use.
type Stats struct {
	Connections    atomic.Int64
	Hits           atomic.Int64
	Misses         atomic.Int64
	Stored         atomic.Int64
	Uncacheable    atomic.Int64
	Rejected       atomic.Int64
	Malformed      atomic.Int64
	UpstreamErrors atomic.Int64
	ClientErrors   atomic.Int64
	Evictions      atomic.Int64
	BytesRelayed   atomic.Int64
}

// StatsSnapshot is a point in time copy of Stats.
type StatsSnapshot struct {
	Connections    int64 `json:"connections"`
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Stored         int64 `json:"stored"`
	Uncacheable    int64 `json:"uncacheable"`
	Rejected       int64 `json:"rejected"`
	Malformed      int64 `json:"malformed"`
	UpstreamErrors int64 `json:"upstreamErrors"`
	ClientErrors   int64 `json:"clientErrors"`
	Evictions      int64 `json:"evictions"`
	BytesRelayed   int64 `json:"bytesRelayed"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Connections:    s.Connections.Load(),
		Hits:           s.Hits.Load(),
		Misses:         s.Misses.Load(),
		Stored:         s.Stored.Load(),
		Uncacheable:    s.Uncacheable.Load(),
		Rejected:       s.Rejected.Load(),
		Malformed:      s.Malformed.Load(),
		UpstreamErrors: s.UpstreamErrors.Load(),
		ClientErrors:   s.ClientErrors.Load(),
		Evictions:      s.Evictions.Load(),
		BytesRelayed:   s.BytesRelayed.Load(),
	}
}
