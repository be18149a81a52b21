package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	t.Parallel()

	const html = `<html><body>
<a href="/about">About</a>
<a href="contact.html">Contact</a>
<a href="https://other.example.org/page#section">Offsite</a>
<a href="/about">About again</a>
<a href="#top">Top</a>
<a href="mailto:team@example.com">Mail</a>
<a href="javascript:void(0)">JS</a>
</body></html>`

	links, err := Links(html, "https://example.com/dir/index.html", 0)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/dir/contact.html",
		"https://other.example.org/page",
	}, links)
}

func TestLinksLimit(t *testing.T) {
	t.Parallel()

	const html = `<html><body>
<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a>
</body></html>`

	links, err := Links(html, "https://example.com/", 2)
	require.NoError(t, err)
	require.Len(t, links, 2)
}
