package fetcher

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"

	"github.com/voyagen/streamvault/internal/apperr"
)

// Options configures outbound requests made by the adapters.
type Options struct {
	Client    *http.Client
	UserAgent string
	// Limiter paces calls when set; shared across a client's requests.
	Limiter *rate.Limiter
}

func (o Options) client() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// Open GETs rawURL and returns the decoded (gzip/brotli) body. The caller must close it.
// Network failures and non-2xx statuses are returned as upstream errors.
func Open(ctx context.Context, opts Options, rawURL string) (io.ReadCloser, error) {
	op := "GET " + RedactURL(rawURL)
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, apperr.Upstream(op, 0, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperr.BadRequest("invalid upstream url %q", RedactURL(rawURL))
	}
	if opts.UserAgent != "" {
		req.Header.Set("User-Agent", opts.UserAgent)
	}
	req.Header.Set("Accept-Encoding", "br, gzip")

	resp, err := opts.client().Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, apperr.Upstream(op, 0, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, apperr.Upstream(op, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, apperr.Parse(op, err)
	}
	return body, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// decodeBody unwraps Content-Encoding, or sniffs the gzip magic for files served as .gz.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return &multiCloser{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	}
	br := bufio.NewReader(resp.Body)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &multiCloser{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	}
	return &multiCloser{Reader: br, closers: []io.Closer{resp.Body}}, nil
}

// RedactURL hides credentials in query strings and userinfo so URLs are safe to log.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	q := u.Query()
	changed := false
	for _, k := range []string{"password", "pass", "token"} {
		if q.Has(k) {
			q.Set(k, "***")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
