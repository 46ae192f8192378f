// Package proxy relays live media, HLS manifests and images to clients that
// cannot reach (or may not hold credentials for) the upstream directly.
package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/metrics"
)

// Kinds label metrics and logs.
const (
	KindManifest = "manifest"
	KindStream   = "stream"
	KindImage    = "image"
)

// ImageMaxAge is the client cache lifetime set on relayed images.
const ImageMaxAge = 24 * time.Hour

// NewClient returns the relay HTTP client. It has no overall timeout, since a
// live stream never ends, but gives up on upstreams that do not answer.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 20 * time.Second,
		},
	}
}

// Proxy serves /stream and /image.
type Proxy struct {
	Client *http.Client
	// PublicBase is the externally visible origin used in rewritten manifests,
	// e.g. "https://tv.example.com". Empty derives it from each request.
	PublicBase string
	UserAgent  string
	// ManifestLimit caps the playlist size buffered for rewriting. Larger
	// playlists are relayed unmodified. Zero means 8 MiB.
	ManifestLimit int64
	// OnError writes failures that happen before any response byte was sent.
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// New returns a Proxy with the default relay client.
func New(publicBase, userAgent string) *Proxy {
	return &Proxy{Client: NewClient(), PublicBase: strings.TrimRight(publicBase, "/"), UserAgent: userAgent}
}

// Stream relays ?url=. HLS manifests are rewritten so that every segment,
// variant and key is fetched through this proxy too. If the manifest cannot
// be fetched, the request falls through to the raw relay.
func (p *Proxy) Stream(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	if !isHTTP(target) {
		p.fail(w, r, apperr.BadRequest("url must be http or https"))
		return
	}
	if isManifest(target) && p.serveManifest(w, r, target) {
		return
	}
	p.relay(w, r, target, KindStream)
}

// Image relays ?url= with a permissive CORS policy and a day of client caching.
// Anything that is not http(s) is already local to the client and is redirected to.
func (p *Proxy) Image(w http.ResponseWriter, r *http.Request) {
	target, err := targetURL(r)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	if !isHTTP(target) {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	p.relay(w, r, target, KindImage)
}

func targetURL(r *http.Request) (string, error) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		return "", apperr.BadRequest("url is required")
	}
	return target, nil
}

func isHTTP(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isManifest(target string) bool {
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

// streamBase is the absolute URL of the /stream endpoint as clients see it.
func (p *Proxy) streamBase(r *http.Request) string {
	if p.PublicBase != "" {
		return p.PublicBase + "/stream"
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + r.Host + "/stream"
}

func (p *Proxy) newRequest(r *http.Request, target string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		return nil, apperr.BadRequest("invalid url: %v", err)
	}
	if p.UserAgent != "" {
		req.Header.Set("User-Agent", p.UserAgent)
	}
	return req, nil
}

// relay copies the upstream response to w. The upstream request shares the
// client request's context, so a client disconnect tears the upstream down.
func (p *Proxy) relay(w http.ResponseWriter, r *http.Request, target, kind string) {
	req, err := p.newRequest(r, target)
	if err != nil {
		p.fail(w, r, err)
		return
	}
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}
	if ir := r.Header.Get("If-Range"); ir != "" {
		req.Header.Set("If-Range", ir)
	}
	// An explicit Accept-Encoding keeps the transport from decoding the body,
	// so bytes and Content-Length pass through untouched.
	if ae := r.Header.Get("Accept-Encoding"); ae != "" {
		req.Header.Set("Accept-Encoding", ae)
	} else {
		req.Header.Set("Accept-Encoding", "identity")
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			metrics.ProxyRequests.WithLabelValues(kind, "canceled").Inc()
			return
		}
		metrics.ProxyRequests.WithLabelValues(kind, "error").Inc()
		p.fail(w, r, apperr.Upstream(kind+" relay", 0, unwrapURLError(err)))
		return
	}
	defer resp.Body.Close()

	h := w.Header()
	copyHeaders(h, resp.Header)
	// Upstream CORS headers are never copied; the proxy answers for itself.
	if h.Get("Access-Control-Allow-Origin") == "" {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	if kind == KindImage {
		h.Set("Cache-Control", "public, max-age="+strconv.Itoa(int(ImageMaxAge.Seconds())))
	}
	w.WriteHeader(resp.StatusCode)

	n, err := copyFlush(w, resp.Body)
	metrics.ProxyBytes.WithLabelValues(kind).Add(float64(n))
	switch {
	case err == nil:
		metrics.ProxyRequests.WithLabelValues(kind, "ok").Inc()
	case r.Context().Err() != nil:
		metrics.ProxyRequests.WithLabelValues(kind, "canceled").Inc()
	default:
		// Headers are out; all that is left is to end the response.
		metrics.ProxyRequests.WithLabelValues(kind, "error").Inc()
		slog.Warn("relay aborted", "kind", kind, "bytes", n, "err", err)
	}
}

func (p *Proxy) fail(w http.ResponseWriter, r *http.Request, err error) {
	if p.OnError != nil {
		p.OnError(w, r, err)
		return
	}
	http.Error(w, err.Error(), apperr.HTTPStatus(err))
}

// hopHeaders apply to a single connection and are not forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// copyHeaders copies end-to-end upstream headers, leaving out hop-by-hop and
// CORS headers.
func copyHeaders(dst, src http.Header) {
	drop := make(map[string]bool, len(hopHeaders))
	for _, k := range hopHeaders {
		drop[k] = true
	}
	for _, f := range src.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			if k = strings.TrimSpace(k); k != "" {
				drop[http.CanonicalHeaderKey(k)] = true
			}
		}
	}
	for k, vv := range src {
		ck := http.CanonicalHeaderKey(k)
		if drop[ck] || strings.HasPrefix(ck, "Access-Control-") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// copyFlush copies src to w, flushing after every write so live media is not
// held back by the server's buffer.
func copyFlush(w http.ResponseWriter, src io.Reader) (int64, error) {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return written, err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func unwrapURLError(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}
	return err
}
