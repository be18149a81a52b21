package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Links collects the absolute http(s) hyperlinks in an HTML document,
// resolved against baseURL, with fragments stripped and duplicates removed.
// A non-positive limit means no cap.
func Links(html, baseURL string, limit int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		abs.Fragment = ""
		link := abs.String()
		if seen[link] {
			return true
		}
		seen[link] = true
		links = append(links, link)
		return limit <= 0 || len(links) < limit
	})
	return links, nil
}
