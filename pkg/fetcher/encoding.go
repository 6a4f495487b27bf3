package fetcher

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// decodingTransport undoes Content-Encoding. The browser header set asks for
// gzip, deflate and br explicitly, which switches off net/http's own gzip
// handling, so every encoding has to be decoded here.
type decodingTransport struct {
	base http.RoundTripper
}

type decodedBody struct {
	io.Reader
	closer io.Closer
}

func (b decodedBody) Close() error { return b.closer.Close() }

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		r = brotli.NewReader(resp.Body)
	case "gzip":
		r, err = gzip.NewReader(resp.Body)
	case "deflate":
		r, err = zlib.NewReader(resp.Body)
	default:
		return resp, nil
	}
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to decode %s body: %w", resp.Header.Get("Content-Encoding"), err)
	}

	resp.Body = decodedBody{Reader: r, closer: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}
