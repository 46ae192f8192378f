package proxy

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/voyagen/streamvault/internal/metrics"
)

// maxManifest is the default Proxy.ManifestLimit.
const maxManifest = 8 << 20

// uriAttrTags carry a URI="..." attribute that must go through the proxy.
var uriAttrTags = []string{
	"#EXT-X-KEY",
	"#EXT-X-SESSION-KEY",
	"#EXT-X-MAP",
	"#EXT-X-MEDIA",
	"#EXT-X-I-FRAME-STREAM-INF",
}

var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// RewriteManifest rewrites every URI in an HLS playlist to proxied(abs),
// where abs is the URI resolved against base. Absolute URIs are passed
// through as written. Comments and blank lines are kept.
func RewriteManifest(r io.Reader, base *url.URL, proxied func(string) string) ([]byte, error) {
	var out bytes.Buffer
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out.WriteString(line)
		case strings.HasPrefix(trimmed, "#"):
			if hasURIAttr(trimmed) {
				line = uriAttr.ReplaceAllStringFunc(trimmed, func(m string) string {
					ref := uriAttr.FindStringSubmatch(m)[1]
					abs, ok := resolve(base, ref)
					if !ok {
						return m
					}
					return `URI="` + proxied(abs) + `"`
				})
			}
			out.WriteString(line)
		default:
			if abs, ok := resolve(base, trimmed); ok {
				out.WriteString(proxied(abs))
			} else {
				out.WriteString(line)
			}
		}
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func hasURIAttr(tag string) bool {
	for _, t := range uriAttrTags {
		if strings.HasPrefix(tag, t+":") {
			return true
		}
	}
	return false
}

// resolve returns ref as an absolute http(s) URL. Anything else, such as a
// data: key or an skd:// DRM URI, is left for the player.
func resolve(base *url.URL, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		if u.Scheme != "http" && u.Scheme != "https" {
			return "", false
		}
		return ref, true
	}
	if base == nil {
		return "", false
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}

// serveManifest fetches and rewrites an HLS playlist. It returns false,
// having written nothing, when the playlist could not be fetched.
func (p *Proxy) serveManifest(w http.ResponseWriter, r *http.Request, target string) bool {
	req, err := p.newRequest(r, target)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		slog.Debug("manifest fetch failed, relaying", "err", unwrapURLError(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Debug("manifest fetch failed, relaying", "status", resp.StatusCode)
		return false
	}

	base := resp.Request.URL
	streamBase := p.streamBase(r)
	limit := p.ManifestLimit
	if limit <= 0 {
		limit = maxManifest
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		slog.Debug("manifest read failed, relaying", "err", err)
		return false
	}
	if int64(len(raw)) > limit {
		slog.Warn("manifest too large to rewrite, relaying", "limit", limit)
		return false
	}
	body, err := RewriteManifest(bytes.NewReader(raw), base, func(abs string) string {
		return streamBase + "?url=" + url.QueryEscape(abs)
	})
	if err != nil {
		slog.Debug("manifest read failed, relaying", "err", err)
		return false
	}

	h := w.Header()
	h.Set("Content-Type", "application/vnd.apple.mpegurl")
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(body)
	metrics.ProxyBytes.WithLabelValues(KindManifest).Add(float64(n))
	metrics.ProxyRequests.WithLabelValues(KindManifest, "ok").Inc()
	return true
}
