// Package extract parses HTML for embedded structured data: JSON-LD blocks,
// microdata attributes, OpenGraph and Twitter Card meta tags, the canonical
// link, and discoverable social-profile URLs.
package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MicrodataItem is one itemscope element and its properties.
type MicrodataItem struct {
	Type       string            `json:"type,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// StructuredData aggregates everything extracted from a page.
type StructuredData struct {
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	Keywords       []string          `json:"keywords,omitempty"`
	JSONLD         []map[string]any  `json:"json_ld,omitempty"`
	Microdata      []MicrodataItem   `json:"microdata,omitempty"`
	OpenGraph      map[string]string `json:"opengraph,omitempty"`
	TwitterCard    map[string]string `json:"twitter_card,omitempty"`
	CanonicalURL   string            `json:"canonical_url,omitempty"`
	Entities       []string          `json:"entities,omitempty"`
	SocialProfiles []string          `json:"social_profiles,omitempty"`
}

var socialHosts = []string{
	"twitter.com", "x.com", "facebook.com", "linkedin.com",
	"instagram.com", "github.com", "youtube.com", "tiktok.com",
}

// Extractor parses structured data out of HTML documents.
type Extractor struct{}

// New constructs an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// ExtractAll parses html and returns every structured-data facet found.
// baseURL resolves relative canonical and profile links.
func (e *Extractor) ExtractAll(html string, baseURL string) (StructuredData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return StructuredData{}, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(baseURL)

	data := StructuredData{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		OpenGraph:   map[string]string{},
		TwitterCard: map[string]string{},
	}

	e.extractMeta(doc, &data)
	e.extractJSONLD(doc, &data)
	e.extractMicrodata(doc, &data)
	e.extractCanonical(doc, base, &data)
	e.extractSocialProfiles(doc, base, &data)
	data.Entities = collectEntities(data)

	if len(data.OpenGraph) == 0 {
		data.OpenGraph = nil
	}
	if len(data.TwitterCard) == 0 {
		data.TwitterCard = nil
	}
	return data, nil
}

func (e *Extractor) extractMeta(doc *goquery.Document, data *StructuredData) {
	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		content, ok := sel.Attr("content")
		if !ok || content == "" {
			return
		}
		if prop, ok := sel.Attr("property"); ok && strings.HasPrefix(prop, "og:") {
			data.OpenGraph[strings.TrimPrefix(prop, "og:")] = content
			return
		}
		name, _ := sel.Attr("name")
		switch {
		case strings.HasPrefix(name, "twitter:"):
			data.TwitterCard[strings.TrimPrefix(name, "twitter:")] = content
		case name == "description":
			data.Description = content
		case name == "keywords":
			for _, kw := range strings.Split(content, ",") {
				if kw = strings.TrimSpace(kw); kw != "" {
					data.Keywords = append(data.Keywords, kw)
				}
			}
		}
	})
}

func (e *Extractor) extractJSONLD(doc *goquery.Document, data *StructuredData) {
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		// A block may hold either one object or an array of objects.
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err == nil {
			data.JSONLD = append(data.JSONLD, obj)
			return
		}
		var list []map[string]any
		if err := json.Unmarshal([]byte(raw), &list); err == nil {
			data.JSONLD = append(data.JSONLD, list...)
		}
	})
}

func (e *Extractor) extractMicrodata(doc *goquery.Document, data *StructuredData) {
	doc.Find("[itemscope]").Each(func(_ int, scope *goquery.Selection) {
		item := MicrodataItem{Properties: map[string]string{}}
		if t, ok := scope.Attr("itemtype"); ok {
			item.Type = t
		}
		scope.Find("[itemprop]").Each(func(_ int, prop *goquery.Selection) {
			name, _ := prop.Attr("itemprop")
			if name == "" {
				return
			}
			value, ok := prop.Attr("content")
			if !ok {
				value = strings.TrimSpace(prop.Text())
			}
			if value != "" {
				item.Properties[name] = value
			}
		})
		if item.Type != "" || len(item.Properties) > 0 {
			data.Microdata = append(data.Microdata, item)
		}
	})
}

func (e *Extractor) extractCanonical(doc *goquery.Document, base *url.URL, data *StructuredData) {
	href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href")
	if !ok || href == "" {
		return
	}
	data.CanonicalURL = resolveRef(base, href)
}

func (e *Extractor) extractSocialProfiles(doc *goquery.Document, base *url.URL, data *StructuredData) {
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := resolveRef(base, href)
		u, err := url.Parse(resolved)
		if err != nil || u.Host == "" {
			return
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		for _, sh := range socialHosts {
			if host == sh && u.Path != "" && u.Path != "/" {
				if _, dup := seen[resolved]; !dup {
					seen[resolved] = struct{}{}
					data.SocialProfiles = append(data.SocialProfiles, resolved)
				}
				return
			}
		}
	})
}

// collectEntities flattens JSON-LD @type values and microdata item types
// into a deduplicated entity list.
func collectEntities(data StructuredData) []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, obj := range data.JSONLD {
		switch t := obj["@type"].(type) {
		case string:
			add(t)
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok {
					add(s)
				}
			}
		}
	}
	for _, item := range data.Microdata {
		if item.Type == "" {
			continue
		}
		parts := strings.Split(strings.TrimSuffix(item.Type, "/"), "/")
		add(parts[len(parts)-1])
	}
	return out
}

func resolveRef(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base != nil {
		return base.ResolveReference(ref).String()
	}
	return ref.String()
}
