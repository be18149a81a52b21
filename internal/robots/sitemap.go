package robots

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

// sitemapURL is a <url> element in a sitemap.
type sitemapURL struct {
	Loc string `xml:"loc"`
}

// urlSet is the <urlset> root of a plain sitemap.
type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

// sitemapRef is a <sitemap> element in a sitemap index.
type sitemapRef struct {
	Loc string `xml:"loc"`
}

// sitemapIndex is the <sitemapindex> root of an index file.
type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapRef `xml:"sitemap"`
}

// ParseSitemap decodes a sitemap body, returning page URLs and, for index
// files, nested sitemap URLs.
func ParseSitemap(body []byte) (pages []string, nested []string, err error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		for _, u := range set.URLs {
			if u.Loc != "" {
				pages = append(pages, u.Loc)
			}
		}
		return pages, nil, nil
	}

	var idx sitemapIndex
	if err := xml.Unmarshal(body, &idx); err == nil && len(idx.Sitemaps) > 0 {
		for _, s := range idx.Sitemaps {
			if s.Loc != "" {
				nested = append(nested, s.Loc)
			}
		}
		return nil, nested, nil
	}
	return nil, nil, fmt.Errorf("unrecognized sitemap format")
}

// FetchSitemapURLs downloads sitemapURL via fetcher and returns its page
// URLs, following index files one level deep, truncated to limit.
func FetchSitemapURLs(ctx context.Context, fetcher Fetcher, sitemapURL string, limit int) ([]string, error) {
	status, body, err := fetcher.Get(ctx, sitemapURL)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap %s: %w", sitemapURL, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", sitemapURL, status)
	}
	pages, nested, err := ParseSitemap(body)
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", sitemapURL, err)
	}
	for _, child := range nested {
		if limit > 0 && len(pages) >= limit {
			break
		}
		childStatus, childBody, err := fetcher.Get(ctx, child)
		if err != nil || childStatus != http.StatusOK {
			continue
		}
		childPages, _, err := ParseSitemap(childBody)
		if err != nil {
			continue
		}
		pages = append(pages, childPages...)
	}
	if limit > 0 && len(pages) > limit {
		pages = pages[:limit]
	}
	return pages, nil
}

// SitemapURLs resolves the domain's robots.txt sitemap entries and
// fetches them, returning up to limit page URLs.
func (c *Cache) SitemapURLs(ctx context.Context, domain string, limit int) ([]string, error) {
	var out []string
	for _, sm := range c.Sitemaps(ctx, domain) {
		remaining := limit - len(out)
		if limit > 0 && remaining <= 0 {
			break
		}
		pages, err := FetchSitemapURLs(ctx, c.fetcher, sm, remaining)
		if err != nil {
			return out, err
		}
		out = append(out, pages...)
	}
	return out, nil
}
