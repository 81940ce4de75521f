package forwardcache

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// maxLineLength bounds a single read. Longer response lines are relayed in chunks of this size.
	maxLineLength = 8192
	// maxHeaderBytes bounds the request line and the request header section.
	maxHeaderBytes = http.DefaultMaxHeaderBytes
)

func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, maxLineLength)
}

// readLine returns the next line including its terminator, or a chunk of at most
// maxLineLength bytes if the line is longer than that.
// The returned slice is only valid until the next read.
func readLine(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err == bufio.ErrBufferFull {
		return line, nil
	}
	return line, err
}

// isBlankLine reports whether the line ends a header section.
func isBlankLine(line string) bool {
	return line == "\r\n" || line == "\n"
}

// readFullLine reads a complete line, joining the chunks of a line longer than maxLineLength.
// It fails with ErrHeaderTooLarge once the line would grow past limit bytes.
func readFullLine(r *bufio.Reader, limit int) ([]byte, error) {
	var full []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(full)+len(chunk) > limit {
			return nil, ErrHeaderTooLarge
		}
		full = append(full, chunk...)
		if err != bufio.ErrBufferFull {
			return full, err
		}
	}
}

// readHeaderLines reads header lines up to and excluding the blank line.
// A missing blank line before EOF is tolerated.
// The whole header section is bounded by maxHeaderBytes.
func readHeaderLines(r *bufio.Reader) ([]string, error) {
	headers := make([]string, 0)
	remaining := maxHeaderBytes
	for {
		line, err := readFullLine(r, remaining)
		if errors.Is(err, ErrHeaderTooLarge) {
			return headers, err
		}
		remaining -= len(line)
		if len(line) > 0 && !isBlankLine(string(line)) {
			header := string(line)
			if !strings.HasSuffix(header, "\n") && err == io.EOF {
				header += "\r\n"
			}
			headers = append(headers, header)
		}
		if err == io.EOF || isBlankLine(string(line)) {
			return headers, nil
		}
		if err != nil {
			return headers, err
		}
	}
}

// parseRequestLine splits `METHOD target VERSION` into its parts.
// The version may be missing.
func parseRequestLine(line string) (method, target, version string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", "", ErrMalformedRequest
	}
	method, target = fields[0], fields[1]
	if len(fields) > 2 {
		version = fields[2]
	}
	return method, target, version, nil
}

// writeErrorResponse writes a minimal HTTP/1.0 error response.
func writeErrorResponse(w io.Writer, statusCode int) error {
	body := fmt.Sprintf("%d %s\n", statusCode, http.StatusText(statusCode))
	_, err := fmt.Fprintf(w,
		"HTTP/1.0 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		statusCode, http.StatusText(statusCode), len(body), body)
	return err
}
