package upstream

import (
	"bytes"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
	"golang.org/x/net/html"

	"github.com/fairyhunter13/search-gateway/pkg/textx"
)

// KnownDefectMarker is emitted by the upstream when it fails to serialize a
// vector search hit. Bodies containing it are never retried.
const KnownDefectMarker = "ScoredPoint is not JSON serializable"

// UnknownErrorDetail is reported for malformed bodies with no readable heading.
const UnknownErrorDetail = "Unknown error"

// VerdictKind is the classification of an upstream body.
type VerdictKind int

const (
	VerdictValid VerdictKind = iota
	VerdictEmpty
	VerdictMalformed
	VerdictKnownDefect
)

func (k VerdictKind) String() string {
	switch k {
	case VerdictValid:
		return "valid"
	case VerdictEmpty:
		return "empty"
	case VerdictMalformed:
		return "malformed"
	case VerdictKnownDefect:
		return "known_defect"
	default:
		return "unknown"
	}
}

// Verdict is the result of Classify.
type Verdict struct {
	Kind VerdictKind
	// Detail is a readable fragment for malformed bodies, e.g. the HTML title.
	Detail string
}

// Classify inspects a raw upstream body. The known defect marker wins over
// every other property of the body, including it being valid JSON.
func Classify(body []byte) Verdict {
	if IsKnownDefect(body) {
		return Verdict{Kind: VerdictKnownDefect}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return Verdict{Kind: VerdictEmpty}
	}
	if gjson.ValidBytes(body) {
		return Verdict{Kind: VerdictValid}
	}
	return Verdict{Kind: VerdictMalformed, Detail: ExtractHTMLMessage(body)}
}

// IsKnownDefect reports whether body carries the known serialization defect.
func IsKnownDefect(body []byte) bool {
	return bytes.Contains(body, []byte(KnownDefectMarker))
}

// ExtractHTMLMessage returns the <title> text of an HTML body, else the text
// of its first <h1>, else UnknownErrorDetail.
func ExtractHTMLMessage(body []byte) string {
	if !looksLikeHTML(body) {
		return UnknownErrorDetail
	}
	var title, h1 string
	var inTitle, inH1, h1Done bool
	var buf strings.Builder
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return pickHeading(title, h1)
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "title":
				if title == "" {
					inTitle = true
					buf.Reset()
				}
			case "h1":
				if !h1Done {
					inH1 = true
					buf.Reset()
				}
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch {
			case string(name) == "title" && inTitle:
				title = textx.SanitizeText(buf.String())
				inTitle = false
				if title != "" {
					return title
				}
			case string(name) == "h1" && inH1:
				h1 = textx.SanitizeText(buf.String())
				inH1 = false
				h1Done = true
			}
		case html.TextToken:
			if inTitle || inH1 {
				buf.Write(z.Text())
			}
		}
	}
}

func pickHeading(title, h1 string) string {
	if title != "" {
		return title
	}
	if h1 != "" {
		return h1
	}
	return UnknownErrorDetail
}

func looksLikeHTML(body []byte) bool {
	if mimetype.Detect(body).Is("text/html") {
		return true
	}
	lower := bytes.ToLower(body)
	return bytes.Contains(lower, []byte("<title")) || bytes.Contains(lower, []byte("<h1"))
}
