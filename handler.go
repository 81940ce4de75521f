package forwardcache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	resolver "github.com/always-cache/forward-cache/pkg/uri-resolver"

	"github.com/rs/zerolog"
)

type connState int

const (
	stateAccepted connState = iota
	stateParsed
	stateCacheHit
	stateServed
	stateCacheMiss
	stateResolved
	stateUpstreamConnected
	stateRequestSent
	stateRelaying
	stateCached
	stateUncached
	stateClosed
)

var connStateNames = [...]string{
	stateAccepted:          "accepted",
	stateParsed:            "parsed",
	stateCacheHit:          "cache-hit",
	stateServed:            "served",
	stateCacheMiss:         "cache-miss",
	stateResolved:          "resolved",
	stateUpstreamConnected: "upstream-connected",
	stateRequestSent:       "request-sent",
	stateRelaying:          "relaying",
	stateCached:            "cached",
	stateUncached:          "uncached",
	stateClosed:            "closed",
}

func (s connState) String() string {
	if int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// clientConn is the per-connection state. It is owned by a single goroutine.
type clientConn struct {
	conn   net.Conn
	r      *bufio.Reader
	log    zerolog.Logger
	state  connState
	method string
	uri    string
	// header lines after the request line, terminators included
	headers []string
	bytes   int64
	stored  bool
}

func (c *clientConn) transition(s connState) {
	c.state = s
	c.log.Trace().Stringer("state", s).Msg("Connection state")
}

// writeError sends a synthetic error response. The connection is closed afterwards either way.
func (c *clientConn) writeError(statusCode int) {
	if err := writeErrorResponse(c.conn, statusCode); err != nil {
		c.log.Trace().Err(err).Int("status", statusCode).Msg("Could not send error response")
	}
}

// HandleConn runs one client connection to completion and closes it.
// Failures only affect this connection.
func (p *Proxy) HandleConn(ctx context.Context, conn net.Conn) {
	c := &clientConn{
		conn:  conn,
		r:     newLineReader(conn),
		log:   p.log.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		state: stateAccepted,
	}
	defer func() {
		conn.Close()
		c.transition(stateClosed)
	}()
	defer p.recover(c)

	p.stats.Connections.Inc()
	err := p.handle(ctx, c)
	p.logResult(c, err)
}

// recover keeps a panic in one connection from taking down the proxy.
func (p *Proxy) recover(c *clientConn) {
	if err := recover(); err != nil {
		c.log.WithLevel(zerolog.PanicLevel).Interface("error", err).Msg("Panic in connection handler")
	}
}

func (p *Proxy) handle(ctx context.Context, c *clientConn) error {
	line, err := readFullLine(c.r, maxHeaderBytes)
	if errors.Is(err, ErrHeaderTooLarge) {
		p.stats.Rejected.Inc()
		return err
	}
	if err != nil && len(line) == 0 {
		return fmt.Errorf("read request line: %w", err)
	}
	method, uri, _, err := parseRequestLine(string(line))
	if err != nil {
		p.stats.Rejected.Inc()
		return err
	}
	c.method, c.uri = method, uri
	c.log = c.log.With().Str("method", method).Str("uri", uri).Logger()
	c.transition(stateParsed)

	// other methods are dropped without a response
	if !strings.EqualFold(method, http.MethodGet) {
		p.stats.Rejected.Inc()
		return ErrUnsupportedMethod
	}

	if c.headers, err = readHeaderLines(c.r); err != nil {
		if errors.Is(err, ErrHeaderTooLarge) {
			p.stats.Rejected.Inc()
		}
		return fmt.Errorf("read request headers: %w", err)
	}

	if payload, ok := p.cache.Read(uri); ok {
		c.transition(stateCacheHit)
		p.stats.Hits.Inc()
		n, err := c.conn.Write(payload)
		c.bytes = int64(n)
		p.stats.BytesRelayed.Add(int64(n))
		if err != nil {
			p.stats.ClientErrors.Inc()
			return fmt.Errorf("write cached response: %w", err)
		}
		c.transition(stateServed)
		return nil
	}

	c.transition(stateCacheMiss)
	p.stats.Misses.Inc()

	target, err := resolver.Resolve(uri)
	if err != nil {
		p.stats.Malformed.Inc()
		c.writeError(http.StatusBadRequest)
		return err
	}
	c.transition(stateResolved)

	return p.forward(ctx, c, target)
}

// logResult logs one summary line per connection.
func (p *Proxy) logResult(c *clientConn, err error) {
	var upstreamErr *UpstreamError
	switch {
	case err == nil:
		status := "miss"
		if c.state == stateServed {
			status = "hit"
		}
		c.log.Debug().
			Str("status", status).
			Bool("stored", c.stored).
			Int64("bytes", c.bytes).
			Msg("Sent response to client")
	case errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrMalformedRequest), errors.Is(err, ErrHeaderTooLarge):
		c.log.Debug().Err(err).Msg("Dropping request")
	case errors.Is(err, resolver.ErrMalformedURI):
		c.log.Info().Err(err).Msg("Could not resolve request target")
	case errors.As(err, &upstreamErr):
		c.log.Warn().Err(err).Int64("bytes", c.bytes).Msg("Could not fetch response from origin")
	case errors.Is(err, io.EOF):
		c.log.Trace().Msg("Client closed connection before sending a request")
	default:
		c.log.Error().Err(err).Int64("bytes", c.bytes).Msg("Connection failed")
	}
}
