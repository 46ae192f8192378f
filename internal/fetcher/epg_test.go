package fetcher

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyagen/streamvault/internal/apperr"
)

const sampleXMLTV = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE tv SYSTEM "xmltv.dtd">
<tv generator-info-name="test">
  <channel id="cnn.us">
    <display-name lang="en">CNN</display-name>
    <icon src="http://logo/cnn.png"/>
  </channel>
  <channel id="bbc1"/>
  <programme start="20240101120000 +0100" stop="20240101130000 +0100" channel="cnn.us">
    <title lang="en">Newsroom</title>
    <desc lang="en">Top stories &amp; analysis</desc>
  </programme>
  <programme start="20240101130000" stop="20240101140000" channel="bbc1">
    <title>Breakfast</title>
  </programme>
  <programme start="garbage" stop="20240101140000" channel="bbc1">
    <title>Broken</title>
  </programme>
</tv>`

func TestParseEPG(t *testing.T) {
	var chans []EPGChannel
	var progs []EPGProgramme
	skipped, err := ParseEPG(strings.NewReader(sampleXMLTV),
		func(c EPGChannel) error { chans = append(chans, c); return nil },
		func(p EPGProgramme) error { progs = append(progs, p); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)

	require.Len(t, chans, 2)
	assert.Equal(t, EPGChannel{ID: "cnn.us", Name: "CNN", Icon: "http://logo/cnn.png"}, chans[0])
	assert.Equal(t, "bbc1", chans[1].Name)

	require.Len(t, progs, 2)
	assert.Equal(t, "cnn.us", progs[0].ChannelID)
	assert.Equal(t, "Newsroom", progs[0].Title)
	assert.Equal(t, "Top stories & analysis", progs[0].Description)
	assert.Equal(t, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), progs[0].Start)
	assert.Equal(t, time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC), progs[1].Start)
}

func TestParseEPGMalformed(t *testing.T) {
	_, err := ParseEPG(strings.NewReader(`<tv><channel id="a"><display-name>A`), nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindParse), "got %v", err)

	_, err = ParseEPG(strings.NewReader(`<html><body/></html>`), nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindParse), "got %v", err)

	_, err = ParseEPG(strings.NewReader(``), nil, nil)
	assert.True(t, apperr.Is(err, apperr.KindParse), "got %v", err)
}

func TestParseEPGLatin1(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><tv><channel id=\"de\"><display-name>M\xfcnchen TV</display-name></channel></tv>"
	var chans []EPGChannel
	_, err := ParseEPG(strings.NewReader(doc), func(c EPGChannel) error { chans = append(chans, c); return nil }, nil)
	require.NoError(t, err)
	require.Len(t, chans, 1)
	assert.Equal(t, "München TV", chans[0].Name)
}

func TestParseXMLTVTime(t *testing.T) {
	got, err := ParseXMLTVTime("20240615203000 -0500")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 16, 1, 30, 0, 0, time.UTC), got)

	got, err = ParseXMLTVTime("20240615203000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 15, 20, 30, 0, 0, time.UTC), got)

	_, err = ParseXMLTVTime("2024")
	assert.Error(t, err)
}

func TestFetchAndParseEPGGzipFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Served as a .gz file, without Content-Encoding.
		w.Header().Set("Content-Type", "application/octet-stream")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(sampleXMLTV))
		_ = zw.Close()
	}))
	defer srv.Close()

	res, err := FetchAndParseEPG(context.Background(), Options{}, srv.URL+"/guide.xml.gz")
	require.NoError(t, err)
	assert.Len(t, res.Channels, 2)
	assert.Len(t, res.Programmes, 2)
	assert.Equal(t, 1, res.Skipped)
}
