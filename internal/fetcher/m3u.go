package fetcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"regexp"
	"strings"

	"github.com/voyagen/streamvault/internal/apperr"
	"github.com/voyagen/streamvault/internal/models"
)

// MaxM3ULine caps a single playlist line. Longer lines fail the parse.
const MaxM3ULine = 1024 * 1024

var (
	reTvgName       = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgID         = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo       = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup         = regexp.MustCompile(`group-title="([^"]*)"`)
	reHTTPOrigin    = regexp.MustCompile(`http-origin=(.+)`)
	reHTTPReferrer  = regexp.MustCompile(`http-referrer=(.+)`)
	reHTTPUserAgent = regexp.MustCompile(`http-user-agent=(.+)`)
)

// ParseM3U scans a playlist line by line and calls fn for each channel.
// Memory use is bounded by one pending #EXTINF entry; the body is never buffered whole.
// Returning an error from fn stops the scan and is returned unchanged.
func ParseM3U(r io.Reader, fn func(M3UChannel) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxM3ULine)

	var (
		extinf  string
		extgrp  string
		headers models.ChannelHTTPHeaders
		started bool
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			line = strings.TrimPrefix(line, "\ufeff")
			if line == "" {
				continue
			}
			upper := strings.ToUpper(line)
			if !strings.HasPrefix(upper, "#EXTM3U") && !strings.HasPrefix(upper, "#EXTINF") {
				return apperr.Parse("m3u", errors.New("content is not an M3U playlist"))
			}
			started = true
		}
		upper := strings.ToUpper(line)

		switch {
		case line == "":
		case strings.HasPrefix(upper, "#EXTINF"):
			// An #EXTINF without a URL line is dropped.
			extinf = line
			extgrp = ""
			headers = models.ChannelHTTPHeaders{}
		case strings.HasPrefix(upper, "#EXTGRP:"):
			extgrp = strings.TrimSpace(line[len("#EXTGRP:"):])
		case strings.HasPrefix(upper, "#EXTVLCOPT"):
			if s := matchFirst(reHTTPOrigin, line); s != "" {
				headers.HTTPOrigin = s
			}
			if s := matchFirst(reHTTPReferrer, line); s != "" {
				headers.Referrer = s
			}
			if s := matchFirst(reHTTPUserAgent, line); s != "" {
				headers.UserAgent = s
			}
		case strings.HasPrefix(line, "#"):
		default:
			if extinf == "" {
				continue
			}
			ch, ok := channelFromEXTINF(extinf, line)
			extinf = ""
			if !ok {
				continue
			}
			if ch.Group == "" {
				ch.Group = extgrp
			}
			if !headers.Empty() {
				h := headers
				ch.Headers = &h
			}
			if err := fn(ch); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return apperr.Parse("m3u", fmt.Errorf("line exceeds %d bytes", MaxM3ULine))
		}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return err
		}
		return apperr.Upstream("m3u read", 0, err)
	}
	if !started {
		return apperr.Parse("m3u", errors.New("empty playlist"))
	}
	return nil
}

// FetchM3U streams the playlist at url through fn without collecting it.
func FetchM3U(ctx context.Context, opts Options, url string, fn func(M3UChannel) error) error {
	body, err := Open(ctx, opts, url)
	if err != nil {
		return err
	}
	defer body.Close()
	return ParseM3U(body, fn)
}

// FetchAndParseM3U collects every channel and the distinct group titles in first-seen order.
func FetchAndParseM3U(ctx context.Context, opts Options, url string) (*M3UResult, error) {
	res := &M3UResult{Channels: []M3UChannel{}, Groups: []string{}}
	seen := make(map[string]struct{})
	err := FetchM3U(ctx, opts, url, func(ch M3UChannel) error {
		res.Channels = append(res.Channels, ch)
		if ch.Group != "" {
			if _, ok := seen[ch.Group]; !ok {
				seen[ch.Group] = struct{}{}
				res.Groups = append(res.Groups, ch.Group)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func channelFromEXTINF(extinf, streamURL string) (M3UChannel, bool) {
	ch := M3UChannel{
		URL:     streamURL,
		TvgID:   matchFirst(reTvgID, extinf),
		TvgName: matchFirst(reTvgName, extinf),
		Logo:    matchFirst(reTvgLogo, extinf),
		Group:   matchFirst(reGroup, extinf),
	}
	switch {
	case ch.TvgName != "":
		ch.Name = ch.TvgName
	case displayName(extinf) != "":
		ch.Name = displayName(extinf)
	default:
		ch.Name = ch.TvgID
	}
	if ch.Name == "" {
		return ch, false
	}
	ch.ID = ChannelID(ch.Name, ch.URL)
	return ch, true
}

// ChannelID derives a stable id from name and URL, so re-syncs keep item ids.
func ChannelID(name, url string) string {
	h := fnv.New64a()
	_, _ = io.WriteString(h, name)
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, url)
	return fmt.Sprintf("%016x", h.Sum64())
}

// displayName returns the text after the first comma outside quoted attribute values.
func displayName(extinf string) string {
	inQuote := false
	for i, r := range extinf {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				return strings.TrimSpace(extinf[i+1:])
			}
		}
	}
	return ""
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
