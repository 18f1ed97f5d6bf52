package inbox

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// URL regex to find URLs in plain text
	urlRegex = regexp.MustCompile(`https?://[^\s<>"']+`)

	reScript     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	reStyle      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	reTags       = regexp.MustCompile(`<[^>]+>`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// ClassifiableText is the text rules run against: the plain body, or for
// HTML-only mail the anchor targets (bracketed, as plain-text mail renders
// them) followed by the visible text.
func ClassifiableText(e *Email) string {
	if strings.TrimSpace(e.Body) != "" {
		return e.Body
	}
	if e.HTMLBody == "" {
		return ""
	}

	var b strings.Builder
	for _, u := range extractURLsFromHTML(e.HTMLBody) {
		b.WriteString("[")
		b.WriteString(u)
		b.WriteString("]\n")
	}
	b.WriteString(stripHTML(e.HTMLBody))
	return b.String()
}

// extractURLsFromText finds URLs in plain text
func extractURLsFromText(text string) []string {
	return urlRegex.FindAllString(text, -1)
}

// extractURLsFromHTML extracts href values from HTML
func extractURLsFromHTML(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return extractURLsFromText(html)
	}

	var urls []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || seen[href] {
			return
		}
		seen[href] = true
		urls = append(urls, href)
	})
	return urls
}

func stripHTML(html string) string {
	html = reScript.ReplaceAllString(html, "")
	html = reStyle.ReplaceAllString(html, "")
	html = reTags.ReplaceAllString(html, " ")

	html = strings.ReplaceAll(html, "&nbsp;", " ")
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")

	html = reWhitespace.ReplaceAllString(html, " ")
	return strings.TrimSpace(html)
}
