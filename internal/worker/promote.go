package worker

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// spaKeywords are markers of client-side rendered shells whose plain-HTTP
// body carries no content worth indexing.
var spaKeywords = [][]byte{
	[]byte("you need to enable javascript"),
	[]byte("enable javascript to run this app"),
	[]byte("<div id=\"root\"></div>"),
	[]byte("<div id=\"app\"></div>"),
	[]byte("window.__nuxt__"),
	[]byte("window.__next_data__"),
}

// promoteHeuristic decides whether a plain-HTTP response should be escalated
// to the headless renderer.
type promoteHeuristic struct {
	minHTMLBytes int
}

func newPromoteHeuristic() *promoteHeuristic {
	return &promoteHeuristic{minHTMLBytes: 512}
}

// NeedsRender reports whether body looks like a script-only shell: too small
// to be a real document, carrying an SPA marker, or an effectively empty
// body element next to script tags.
func (p *promoteHeuristic) NeedsRender(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	if p.minHTMLBytes > 0 && len(body) < p.minHTMLBytes {
		return true
	}

	lower := bytes.ToLower(body)
	for _, kw := range spaKeywords {
		if bytes.Contains(lower, kw) {
			return true
		}
	}
	return p.emptyBodyWithScripts(body)
}

func (p *promoteHeuristic) emptyBodyWithScripts(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	if doc.Find("script[src], script").Length() == 0 {
		return false
	}
	text := strings.TrimSpace(doc.Find("body").Text())
	return len(text) < 80
}
