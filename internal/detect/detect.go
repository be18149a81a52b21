// Package detect infers MIME type, encoding, language, and logical structure
// from raw bytes plus optional URL and header context. Each inference source
// contributes an independent signal; the final confidence combines signal
// strength with cross-signal agreement.
package detect

import (
	"bytes"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// Signal sources in order of precedence.
const (
	SourceMagic     = "magic_bytes"
	SourceHeader    = "content_type_header"
	SourceExtension = "url_extension"
	SourceStructure = "structure"
	SourceEncoding  = "encoding"
	SourceLanguage  = "language"
)

const (
	fallbackMime = "application/octet-stream"

	// Content shorter than this can never be classified confidently.
	shortContentBytes   = 10
	shortContentCeiling = 0.30

	// Language detection is skipped for very short text.
	minLanguageBytes = 40
)

// Signal is one piece of supporting evidence for a detection.
type Signal struct {
	Source     string  `json:"source"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Detection is the combined inference for a content blob.
type Detection struct {
	MimeType   string   `json:"mime_type"`
	Encoding   string   `json:"encoding,omitempty"`
	Language   string   `json:"language,omitempty"`
	Structure  string   `json:"structure"`
	Confidence float64  `json:"confidence"`
	Signals    []Signal `json:"signals,omitempty"`
}

// Detector runs multi-signal content inference.
type Detector struct {
	charset *chardet.Detector
}

// New constructs a Detector.
func New() *Detector {
	return &Detector{charset: chardet.NewTextDetector()}
}

// Detect infers content properties from data, with rawURL and headers as
// optional supporting context (either may be empty/nil).
func (d *Detector) Detect(data []byte, rawURL string, headers http.Header) Detection {
	var signals []Signal

	magicType := ""
	if len(data) > 0 {
		if mt := mimetype.Detect(data); mt != nil {
			magicType = normalizeMime(mt.String())
			conf := 0.95
			if isGenericType(magicType) {
				conf = 0.40
			}
			signals = append(signals, Signal{Source: SourceMagic, Value: magicType, Confidence: conf})
		}
	}

	headerType := headerContentType(headers)
	if headerType != "" {
		signals = append(signals, Signal{Source: SourceHeader, Value: headerType, Confidence: 0.75})
	}

	extType := extensionContentType(rawURL)
	if extType != "" {
		signals = append(signals, Signal{Source: SourceExtension, Value: extType, Confidence: 0.50})
	}

	structure, structType := sniffStructure(data)
	if structType != "" {
		signals = append(signals, Signal{Source: SourceStructure, Value: structType, Confidence: 0.70})
	}

	det := Detection{
		MimeType:  pickMime(magicType, headerType, extType, structType),
		Structure: structure,
	}

	if isTextual(det.MimeType, structure) && len(data) > 0 {
		if enc := d.detectEncoding(data); enc != nil {
			det.Encoding = enc.Value
			signals = append(signals, *enc)
		}
		if lang := detectLanguage(data); lang != nil {
			det.Language = lang.Value
			signals = append(signals, *lang)
		}
	}

	det.Signals = signals
	det.Confidence = combineConfidence(det.MimeType, signals, len(data))
	return det
}

func (d *Detector) detectEncoding(data []byte) *Signal {
	best, err := d.charset.DetectBest(data)
	if err != nil || best == nil || best.Charset == "" {
		return nil
	}
	conf := float64(best.Confidence) / 100
	if conf > 1 {
		conf = 1
	}
	return &Signal{Source: SourceEncoding, Value: strings.ToLower(best.Charset), Confidence: conf}
}

// ToUTF8 transcodes data from the labeled encoding to UTF-8. The input is
// returned unchanged when the label is empty, already a UTF-8 variant, or
// unknown, and on any decode failure.
func ToUTF8(data []byte, label string) []byte {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8", "ascii", "us-ascii":
		return data
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(data))
	if err != nil {
		return data
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return data
	}
	return decoded
}

func detectLanguage(data []byte) *Signal {
	if len(data) < minLanguageBytes {
		return nil
	}
	info := whatlanggo.Detect(string(data))
	if info.Lang == -1 {
		return nil
	}
	conf := info.Confidence
	if !info.IsReliable() && conf > 0.5 {
		conf = 0.5
	}
	return &Signal{Source: SourceLanguage, Value: whatlanggo.LangToString(info.Lang), Confidence: conf}
}

// pickMime applies the precedence order: definitive magic bytes beat the
// Content-Type header, which beats the URL extension, which beats the
// structure-implied type.
func pickMime(magicType, headerType, extType, structType string) string {
	if magicType != "" && !isGenericType(magicType) {
		return magicType
	}
	if headerType != "" && !isGenericType(headerType) {
		return headerType
	}
	if extType != "" {
		return extType
	}
	if structType != "" {
		return structType
	}
	if magicType != "" {
		return magicType
	}
	return fallbackMime
}

// combineConfidence takes the strongest signal backing the chosen mime type
// as the base, boosts it when independent signals agree, and penalizes
// generic fallback types. Very short content is capped regardless.
func combineConfidence(mimeType string, signals []Signal, size int) float64 {
	base := 0.0
	agree := 0
	for _, s := range signals {
		if s.Source == SourceEncoding || s.Source == SourceLanguage {
			continue
		}
		if s.Value == mimeType {
			agree++
			if s.Confidence > base {
				base = s.Confidence
			}
		}
	}
	if base == 0 {
		base = 0.20
	}
	if agree >= 2 {
		base += 0.05 * float64(agree-1)
	}
	if isGenericType(mimeType) {
		base -= 0.20
	}
	if size < shortContentBytes && base > shortContentCeiling {
		base = shortContentCeiling
	}
	if base > 0.99 {
		base = 0.99
	}
	if base < 0.05 {
		base = 0.05
	}
	return base
}

func headerContentType(headers http.Header) string {
	if headers == nil {
		return ""
	}
	ct := headers.Get("Content-Type")
	if ct == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return normalizeMime(parsed)
}

func extensionContentType(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return ""
	}
	if mt, ok := extensionTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		parsed, _, err := mime.ParseMediaType(mt)
		if err == nil {
			return normalizeMime(parsed)
		}
	}
	return ""
}

var extensionTypes = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".json": "application/json",
	".xml":  "application/xml",
	".md":   "text/markdown",
	".txt":  "text/plain",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
	".css":  "text/css",
	".js":   "application/javascript",
	".csv":  "text/csv",
}

func normalizeMime(mt string) string {
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

func isGenericType(mt string) bool {
	return mt == fallbackMime || mt == "text/plain"
}

func isTextual(mt, structure string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/javascript":
		return true
	}
	switch structure {
	case StructureHTML, StructureJSON, StructureXML, StructureMarkdown, StructureCode, StructureText:
		return true
	}
	return false
}
