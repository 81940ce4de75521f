package forwardcache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tee "github.com/always-cache/forward-cache/pkg/line-tee"
	resolver "github.com/always-cache/forward-cache/pkg/uri-resolver"
)

// headers the proxy sets itself; client values for these are not forwarded
var replacedHeaders = []string{"Host", "User-Agent", "Connection", "Proxy-Connection"}

// forward fetches the target from the origin and relays the response to the client line by line.
// A complete response of at most maxObjectSize bytes is stored under the request uri.
func (p *Proxy) forward(ctx context.Context, c *clientConn, target resolver.Target) error {
	addr := target.Addr()
	dialCtx := ctx
	if p.upstreamTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.upstreamTimeout)
		defer cancel()
	}
	upstream, err := p.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		p.stats.UpstreamErrors.Inc()
		c.writeError(http.StatusBadGateway)
		return &UpstreamError{Op: "connect", Addr: addr, Err: err}
	}
	defer upstream.Close()
	// unblock reads and writes on shutdown
	stop := context.AfterFunc(ctx, func() { upstream.Close() })
	defer stop()
	if p.upstreamTimeout > 0 {
		upstream.SetDeadline(time.Now().Add(p.upstreamTimeout))
	}
	c.transition(stateUpstreamConnected)

	if err := p.writeRequest(upstream, target, c.headers); err != nil {
		p.stats.UpstreamErrors.Inc()
		c.writeError(http.StatusBadGateway)
		return &UpstreamError{Op: "write", Addr: addr, Err: err}
	}
	c.transition(stateRequestSent)

	c.transition(stateRelaying)
	saver := tee.NewLineSaver(c.conn, p.maxObjectSize)
	r := newLineReader(upstream)
	for {
		line, readErr := readLine(r)
		if len(line) > 0 {
			_, err := saver.Write(line)
			if err != nil {
				c.bytes = saver.Written()
				p.stats.BytesRelayed.Add(c.bytes)
				p.stats.ClientErrors.Inc()
				return fmt.Errorf("write to client: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.bytes = saver.Written()
			p.stats.BytesRelayed.Add(c.bytes)
			p.stats.UpstreamErrors.Inc()
			return &UpstreamError{Op: "read", Addr: addr, Err: readErr}
		}
	}
	c.bytes = saver.Written()
	p.stats.BytesRelayed.Add(c.bytes)

	// empty responses are not worth serving from the cache
	if payload, ok := saver.Saved(); ok && len(payload) > 0 {
		p.cache.Write(c.uri, payload)
		p.stats.Stored.Inc()
		c.stored = true
		c.transition(stateCached)
	} else {
		p.stats.Uncacheable.Inc()
		c.log.Trace().Int64("bytes", c.bytes).Int("limit", p.maxObjectSize).Msg("Response not cacheable")
		c.transition(stateUncached)
	}
	return nil
}

// writeRequest sends the rewritten request line, the fixed headers,
// the remaining client headers and the blank line ending the header section.
func (p *Proxy) writeRequest(w io.Writer, target resolver.Target, headers []string) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(target.RequestLine())
	bw.WriteString("User-Agent: " + p.userAgent + "\r\n")
	bw.WriteString("Connection: close\r\n")
	bw.WriteString("Proxy-Connection: close\r\n")
	for _, line := range headers {
		if isReplacedHeader(line) {
			continue
		}
		bw.WriteString(line)
	}
	bw.WriteString("\r\n")
	return bw.Flush()
}

// isReplacedHeader reports whether the header line sets one of the headers the proxy sets itself.
func isReplacedHeader(line string) bool {
	name, _, found := strings.Cut(line, ":")
	if !found {
		return false
	}
	name = strings.TrimSpace(name)
	for _, h := range replacedHeaders {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
