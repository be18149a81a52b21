package detect

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectPNGMagicBytes(t *testing.T) {
	t.Parallel()

	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	det := New().Detect(data, "", nil)

	require.Equal(t, "image/png", det.MimeType)
	require.GreaterOrEqual(t, det.Confidence, 0.9)
	require.Equal(t, StructureBinary, det.Structure)
}

func TestDetectJSONStructure(t *testing.T) {
	t.Parallel()

	det := New().Detect([]byte(`{"a":1}`), "", nil)
	require.Equal(t, StructureJSON, det.Structure)
	require.Equal(t, "application/json", det.MimeType)
}

func TestDetectHTMLWithAgreeingSignals(t *testing.T) {
	t.Parallel()

	html := []byte("<!DOCTYPE html><html><head><title>hi</title></head><body><p>hello there</p></body></html>")
	headers := http.Header{"Content-Type": []string{"text/html; charset=utf-8"}}

	det := New().Detect(html, "https://example.com/index.html", headers)
	require.Equal(t, "text/html", det.MimeType)
	require.Equal(t, StructureHTML, det.Structure)

	// Header, extension, and structure all agree, so confidence beats the
	// strongest single signal.
	require.Greater(t, det.Confidence, 0.75)
}

func TestDetectShortContentCapped(t *testing.T) {
	t.Parallel()

	det := New().Detect([]byte("ab"), "https://example.com/a.html", http.Header{
		"Content-Type": []string{"text/html"},
	})
	require.LessOrEqual(t, det.Confidence, shortContentCeiling)
}

func TestDetectGenericFallbackPenalized(t *testing.T) {
	t.Parallel()

	det := New().Detect([]byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10, 0x20, 0x30, 0x40, 0x50}, "", nil)
	require.Less(t, det.Confidence, 0.5)
}

func TestDetectLanguageOnLongText(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 10)
	det := New().Detect([]byte(text), "", nil)
	require.Equal(t, "eng", det.Language)
	require.NotEmpty(t, det.Encoding)
}

func TestDetectMarkdown(t *testing.T) {
	t.Parallel()

	md := []byte("# Title\n\nSome intro text.\n\n- first item\n- second item\n\n[link](https://example.com)\n")
	det := New().Detect(md, "", nil)
	require.Equal(t, StructureMarkdown, det.Structure)
}

func TestDetectXMLProlog(t *testing.T) {
	t.Parallel()

	xml := []byte(`<?xml version="1.0"?><root><leaf>v</leaf></root>`)
	det := New().Detect(xml, "", nil)
	require.Equal(t, StructureXML, det.Structure)
}

func TestToUTF8TranscodesLatin1(t *testing.T) {
	t.Parallel()

	// "café" with an ISO-8859-1 encoded é.
	latin1 := []byte{'c', 'a', 'f', 0xe9}
	got := ToUTF8(latin1, "iso-8859-1")
	require.Equal(t, "café", string(got))
}

func TestToUTF8PassThrough(t *testing.T) {
	t.Parallel()

	data := []byte("already utf-8 café")
	require.Equal(t, data, ToUTF8(data, ""))
	require.Equal(t, data, ToUTF8(data, "UTF-8"))
	require.Equal(t, data, ToUTF8(data, "no-such-encoding"))
}
