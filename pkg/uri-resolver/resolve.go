package resolver

import (
	"errors"
	"net"
	"strings"
)

// ErrMalformedURI is returned when no host can be found in the request target.
var ErrMalformedURI = errors.New("malformed request uri")

const (
	schemeSeparator = "//"
	defaultPort     = "80"
)

// Target is an absolute-form request URI split into the parts needed to reach the origin.
type Target struct {
	Host string
	Port string
	// Path is everything after the authority, verbatim.
	// It is empty for targets such as `http://example.com`.
	Path string
}

// Resolve splits an absolute-form URI (`scheme://host[:port]/path`) into host, port and path.
// The port defaults to 80. No decoding of any kind is done.
func Resolve(uri string) (Target, error) {
	t := Target{Port: defaultPort}

	authority := uri
	// only treat `//` as the scheme separator if it comes before any path
	if i := strings.Index(uri, schemeSeparator); i >= 0 && !strings.Contains(uri[:i], "/") {
		authority = uri[i+len(schemeSeparator):]
	}

	end := strings.IndexAny(authority, "/:")
	if end < 0 {
		end = len(authority)
	}
	t.Host = authority[:end]
	rest := authority[end:]

	if strings.HasPrefix(rest, ":") {
		rest = rest[1:]
		portEnd := strings.Index(rest, "/")
		if portEnd < 0 {
			portEnd = len(rest)
		}
		if port := rest[:portEnd]; port != "" {
			t.Port = port
		}
		rest = rest[portEnd:]
	}
	t.Path = rest

	if t.Host == "" {
		return t, ErrMalformedURI
	}
	return t, nil
}

// Addr returns the host:port pair to dial.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, t.Port)
}

// RequestLine returns the rewritten upstream request line followed by the Host header.
// An empty path is sent as `/`.
func (t Target) RequestLine() string {
	path := t.Path
	if path == "" {
		path = "/"
	}
	return "GET " + path + " HTTP/1.0\r\nHost: " + t.Host + "\r\n"
}
