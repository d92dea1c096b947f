package offline

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// SourceHeader is set on every response the controller builds itself, so
// callers can tell a cached or synthesized answer from a live one.
const SourceHeader = "X-Offline-Source"

// Entry is a stored response inside a generation.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"storedAt"`
}

// Response builds a fresh response from the entry. Each call gets its own
// body reader.
func (e *Entry) Response(req *http.Request, source string) *http.Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set(SourceHeader, source)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// capture reads the response body into an entry and replaces the body so
// the response can still be handed to the caller.
func capture(resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &Entry{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// synthesize builds the last-resort response for a sub-resource nobody can
// answer.
func synthesize(req *http.Request) *http.Response {
	body := []byte("Network error happened")
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set(SourceHeader, SourceSynthesized)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", http.StatusRequestTimeout, http.StatusText(http.StatusRequestTimeout)),
		StatusCode:    http.StatusRequestTimeout,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Key is the cache key of a GET for u: method plus the URL without fragment.
func Key(u *url.URL) string {
	stripped := *u
	stripped.Fragment = ""
	stripped.RawFragment = ""
	return http.MethodGet + " " + stripped.String()
}
