package forwardcache

import (
	"bufio"
	"bytes"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseRequestLine(t *testing.T) {
	method, target, version, err := parseRequestLine("GET http://example.com/ HTTP/1.0\r\n")
	if err != nil || method != "GET" || target != "http://example.com/" || version != "HTTP/1.0" {
		t.Fatalf("Parsed %q %q %q %v", method, target, version, err)
	}
	if _, _, _, err := parseRequestLine("GET\r\n"); !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("Error is %v", err)
	}
}

func TestReadHeaderLines(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Accept: */*\r\nX-A: b\r\n\r\nbody"))
	headers, err := readHeaderLines(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(headers) != 2 || headers[0] != "Accept: */*\r\n" || headers[1] != "X-A: b\r\n" {
		t.Fatalf("Headers are %q", headers)
	}

	// missing blank line before EOF
	r = bufio.NewReader(strings.NewReader("Accept: */*"))
	headers, err = readHeaderLines(r)
	if err != nil || len(headers) != 1 || headers[0] != "Accept: */*\r\n" {
		t.Fatalf("Headers are %q, error %v", headers, err)
	}
}

func TestReadHeaderLinesJoinsLongLines(t *testing.T) {
	// the carriage return is the last byte of the first buffered chunk
	long := "X-Long: " + strings.Repeat("a", maxLineLength-9) + "\r\n"
	r := newLineReader(strings.NewReader(long + "Accept: */*\r\n\r\n"))
	headers, err := readHeaderLines(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(headers) != 2 || headers[0] != long || headers[1] != "Accept: */*\r\n" {
		t.Fatalf("Got %d headers, first is %d bytes", len(headers), len(headers[0]))
	}
}

func TestReadHeaderLinesTooLarge(t *testing.T) {
	header := "X-Long: " + strings.Repeat("a", maxHeaderBytes) + "\r\n"
	r := newLineReader(strings.NewReader(header + "\r\n"))
	if _, err := readHeaderLines(r); !errors.Is(err, ErrHeaderTooLarge) {
		t.Fatalf("Error is %v", err)
	}
}

func TestIsReplacedHeader(t *testing.T) {
	for _, line := range []string{"Host: a\r\n", "host:a\r\n", "USER-AGENT: x\r\n", "Connection: close\r\n", "proxy-connection: keep-alive\r\n"} {
		if !isReplacedHeader(line) {
			t.Fatalf("%q not replaced", line)
		}
	}
	for _, line := range []string{"Hostname: a\r\n", "Connection-Id: 1\r\n", "Accept: */*\r\n", "no colon\r\n"} {
		if isReplacedHeader(line) {
			t.Fatalf("%q replaced", line)
		}
	}
}

func TestWriteErrorResponse(t *testing.T) {
	buf := &bytes.Buffer{}
	writeErrorResponse(buf, 502)
	want := "HTTP/1.0 502 Bad Gateway\r\nContent-Type: text/plain\r\nContent-Length: 16\r\nConnection: close\r\n\r\n502 Bad Gateway\n"
	if buf.String() != want {
		t.Fatalf("Response is %q", buf.String())
	}
}

func TestConnStateString(t *testing.T) {
	if s := stateUpstreamConnected.String(); s != "upstream-connected" {
		t.Fatalf("State is %s", s)
	}
}

func TestWriteErrorLogsFailedWrite(t *testing.T) {
	client, server := net.Pipe()
	client.Close()
	logs := &bytes.Buffer{}
	c := &clientConn{conn: server, log: zerolog.New(logs).Level(zerolog.TraceLevel)}

	c.writeError(http.StatusBadGateway)
	if !strings.Contains(logs.String(), "Could not send error response") {
		t.Fatalf("Logs are %q", logs.String())
	}
}
