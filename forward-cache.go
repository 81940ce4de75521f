package forwardcache

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/always-cache/forward-cache/cache"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMaxObjectSize is the largest response that is stored in the cache.
	DefaultMaxObjectSize = 102400
	// DefaultUserAgent is sent upstream instead of the client's User-Agent.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:10.0.3) Gecko/20120305 Firefox/10.0.3"
)

// Dialer opens upstream connections. *net.Dialer implements it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	// Cache shared by all connections.
	// A cache with cache.DefaultCapacity slots is created if nil.
	Cache *cache.ResponseCache
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// User-Agent header value sent upstream. DefaultUserAgent if empty.
	UserAgent string
	// Responses larger than this are relayed but not cached. DefaultMaxObjectSize if zero.
	MaxObjectSize int
	// Dialer for origin connections. A zero net.Dialer if nil.
	Dialer Dialer
	// Limit for connecting to the origin, and then for the rest of the upstream exchange.
	// Zero means a connection waits on a silent origin forever.
	UpstreamTimeout time.Duration
	// Maximum number of connections handled at once. Zero means no limit.
	MaxConnections int64
	// Counters to update. New counters are created if nil.
	Stats *Stats
}

// Proxy is a forwarding HTTP proxy with a shared response cache.
// Each accepted connection is handled by its own goroutine.
type Proxy struct {
	cache           *cache.ResponseCache
	log             zerolog.Logger
	userAgent       string
	maxObjectSize   int
	dialer          Dialer
	upstreamTimeout time.Duration
	sem             *semaphore.Weighted
	stats           *Stats
}

// New creates a proxy from the given config, applying defaults for unset fields.
// The cache must not be in use yet, since New registers an eviction hook on it.
func New(config Config) *Proxy {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	p := &Proxy{
		cache:           config.Cache,
		log:             logger,
		userAgent:       config.UserAgent,
		maxObjectSize:   config.MaxObjectSize,
		dialer:          config.Dialer,
		upstreamTimeout: config.UpstreamTimeout,
		stats:           config.Stats,
	}
	if p.cache == nil {
		p.cache = cache.New(cache.DefaultCapacity)
	}
	if p.userAgent == "" {
		p.userAgent = DefaultUserAgent
	}
	if p.maxObjectSize <= 0 {
		p.maxObjectSize = DefaultMaxObjectSize
	}
	if p.dialer == nil {
		p.dialer = &net.Dialer{}
	}
	if p.stats == nil {
		p.stats = &Stats{}
	}
	if config.MaxConnections > 0 {
		p.sem = semaphore.NewWeighted(config.MaxConnections)
	}

	p.cache.OnEvict(func(key string) {
		p.stats.Evictions.Inc()
		p.log.Trace().Str("key", key).Msg("Evicted from cache")
	})

	return p
}

// Cache returns the response cache of the proxy.
func (p *Proxy) Cache() *cache.ResponseCache {
	return p.cache
}

// Stats returns the counters of the proxy.
func (p *Proxy) Stats() *Stats {
	return p.stats
}

// Serve accepts connections on l and handles each one in a new goroutine.
// It closes l and returns nil once ctx is done.
// Temporary accept failures are retried with backoff, other accept errors are returned.
// Connections still in flight keep running; their upstream connections are closed.
func (p *Proxy) Serve(ctx context.Context, l net.Listener) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()

	p.log.Info().Str("addr", l.Addr().String()).Msg("Accepting connections")
	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if isTemporaryAcceptError(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > maxAcceptDelay {
					tempDelay = maxAcceptDelay
				}
				p.log.Warn().Err(err).Dur("retry", tempDelay).Msg("Accept failed")
				select {
				case <-time.After(tempDelay):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return err
		}
		tempDelay = 0

		if p.sem != nil {
			if err := p.sem.Acquire(ctx, 1); err != nil {
				conn.Close()
				return nil
			}
		}
		go func() {
			if p.sem != nil {
				defer p.sem.Release(1)
			}
			p.HandleConn(ctx, conn)
		}()
	}
}

// maxAcceptDelay caps the backoff between failed accepts.
const maxAcceptDelay = time.Second

// isTemporaryAcceptError reports whether Accept may succeed when retried,
// e.g. after running out of file descriptors.
func isTemporaryAcceptError(err error) bool {
	if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) || errors.Is(err, syscall.ECONNABORTED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var tempErr interface{ Temporary() bool }
	return errors.As(err, &tempErr) && tempErr.Temporary()
}
