package client

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// maxErrorBody caps how much of an HTML error page we bother reading.
const maxErrorBody = 512 * 1024

var stripTags = bluemonday.StrictPolicy()

// ReadableText reduces an HTML error body to display text: the page title
// plus the main content, whitespace-normalized. Byte soup that goquery
// cannot parse goes through a tag-stripping fallback instead.
func ReadableText(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}

	doc, err := goquery.NewDocumentFromReader(decodeCharset(body))
	if err != nil {
		return normalizeWhitespace(stripTags.Sanitize(string(body)))
	}

	doc.Find("script, style, noscript").Remove()

	var parts []string
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, title)
	}
	content := doc.Find("main").First()
	if content.Length() == 0 {
		content = doc.Find("body").First()
	}
	if text := normalizeWhitespace(content.Text()); text != "" {
		if len(parts) == 0 || text != parts[len(parts)-1] {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, ": ")
}

// decodeCharset returns a UTF-8 reader for body, detecting the source
// charset. Falls back to reading the bytes as-is.
func decodeCharset(body []byte) *bytes.Reader {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(body)
	if err != nil || result == nil || strings.EqualFold(result.Charset, "utf-8") {
		return bytes.NewReader(body)
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(body), "text/html; charset="+strings.ToLower(result.Charset))
	if err != nil {
		return bytes.NewReader(body)
	}
	decoded := new(bytes.Buffer)
	if _, err := decoded.ReadFrom(utf8Reader); err != nil {
		return bytes.NewReader(body)
	}
	return bytes.NewReader(decoded.Bytes())
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
