package fetcher

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/voyagen/streamvault/internal/apperr"
)

type xmltvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
	Icons        []struct {
		Src string `xml:"src,attr"`
	} `xml:"icon"`
}

type xmltvProgramme struct {
	Start   string   `xml:"start,attr"`
	Stop    string   `xml:"stop,attr"`
	Channel string   `xml:"channel,attr"`
	Titles  []string `xml:"title"`
	Descs   []string `xml:"desc"`
}

// ParseEPG decodes an XMLTV document token by token, decoding one <channel> or
// <programme> element at a time. Programmes with unparseable times or no channel
// are skipped and counted. Callback errors stop the parse and are returned unchanged.
func ParseEPG(r io.Reader, onChannel func(EPGChannel) error, onProgramme func(EPGProgramme) error) (skipped int, err error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	sawRoot := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return skipped, xmlError(err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			if se.Name.Local != "tv" {
				return skipped, apperr.Parse("xmltv", fmt.Errorf("unexpected root element <%s>", se.Name.Local))
			}
			sawRoot = true
			continue
		}
		switch se.Name.Local {
		case "channel":
			var c xmltvChannel
			if err := dec.DecodeElement(&c, &se); err != nil {
				return skipped, xmlError(err)
			}
			if c.ID == "" {
				continue
			}
			ch := EPGChannel{ID: c.ID, Name: firstNonEmpty(c.DisplayNames)}
			if ch.Name == "" {
				ch.Name = c.ID
			}
			for _, icon := range c.Icons {
				if icon.Src != "" {
					ch.Icon = icon.Src
					break
				}
			}
			if onChannel != nil {
				if err := onChannel(ch); err != nil {
					return skipped, err
				}
			}
		case "programme":
			var p xmltvProgramme
			if err := dec.DecodeElement(&p, &se); err != nil {
				return skipped, xmlError(err)
			}
			start, err1 := ParseXMLTVTime(p.Start)
			stop, err2 := ParseXMLTVTime(p.Stop)
			if err1 != nil || err2 != nil || p.Channel == "" {
				skipped++
				continue
			}
			if onProgramme != nil {
				err := onProgramme(EPGProgramme{
					ChannelID:   p.Channel,
					Start:       start,
					Stop:        stop,
					Title:       firstNonEmpty(p.Titles),
					Description: firstNonEmpty(p.Descs),
				})
				if err != nil {
					return skipped, err
				}
			}
		default:
			if err := dec.Skip(); err != nil {
				return skipped, xmlError(err)
			}
		}
	}
	if !sawRoot {
		return skipped, apperr.Parse("xmltv", errors.New("no <tv> root element"))
	}
	return skipped, nil
}

// FetchEPG streams the XMLTV feed at url through the callbacks.
func FetchEPG(ctx context.Context, opts Options, url string, onChannel func(EPGChannel) error, onProgramme func(EPGProgramme) error) (int, error) {
	body, err := Open(ctx, opts, url)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return ParseEPG(body, onChannel, onProgramme)
}

// FetchAndParseEPG collects the whole guide.
func FetchAndParseEPG(ctx context.Context, opts Options, url string) (*EPGResult, error) {
	res := &EPGResult{Channels: []EPGChannel{}, Programmes: []EPGProgramme{}}
	skipped, err := FetchEPG(ctx, opts, url,
		func(c EPGChannel) error { res.Channels = append(res.Channels, c); return nil },
		func(p EPGProgramme) error { res.Programmes = append(res.Programmes, p); return nil },
	)
	if err != nil {
		return nil, err
	}
	res.Skipped = skipped
	return res, nil
}

// ParseXMLTVTime parses "20060102150405 -0700". The offset is optional (UTC).
func ParseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < 14 {
		return time.Time{}, fmt.Errorf("xmltv time %q too short", s)
	}
	t, err := time.Parse("20060102150405", s[:14])
	if err != nil {
		return time.Time{}, fmt.Errorf("xmltv time %q: %w", s, err)
	}
	rest := strings.TrimSpace(s[14:])
	if rest == "" || rest == "Z" {
		return t.UTC(), nil
	}
	zoned, err := time.Parse("20060102150405 -0700", s[:14]+" "+rest)
	if err != nil {
		return time.Time{}, fmt.Errorf("xmltv time %q: %w", s, err)
	}
	return zoned.UTC(), nil
}

func xmlError(err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apperr.Parse("xmltv", err)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	// Anything else came from reading the body.
	return apperr.Upstream("xmltv read", 0, err)
}

func firstNonEmpty(vals []string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
