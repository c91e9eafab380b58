package canvas

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/saorsa-labs/fae/internal/logging"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(highlighting.WithStyle("monokai")),
	),
	goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
)

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}\s`),          // headings
	regexp.MustCompile(`(?m)^\s*[-*+]\s`),        // unordered lists
	regexp.MustCompile(`(?m)^\s*\d+\.\s`),        // ordered lists
	regexp.MustCompile("(?m)^```"),               // fences
	regexp.MustCompile(`(?m)^>\s`),               // blockquotes
	regexp.MustCompile(`(?m)^\|.+\|\s*$`),        // tables
	regexp.MustCompile(`\*\*[^*\n]+\*\*`),        // bold
	regexp.MustCompile("`[^`\n]+`"),              // inline code
	regexp.MustCompile(`\[[^\]\n]+\]\([^)\n]+\)`), // links
}

// looksLikeMarkdown is a cheap classifier: any structural marker counts.
func looksLikeMarkdown(s string) bool {
	for _, p := range markdownPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func renderText(s string) string {
	if !looksLikeMarkdown(s) {
		return "<p>" + html.EscapeString(s) + "</p>"
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(s), &buf); err != nil {
		logging.Warnf("[canvas] markdown render failed: %v", err)
		return "<p>" + html.EscapeString(s) + "</p>"
	}
	return buf.String()
}

var imageMIMEs = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// imageSrc turns a local file into a data URI; anything else passes through.
func imageSrc(source string) string {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") ||
		strings.HasPrefix(source, "data:") {
		return source
	}
	mime, ok := imageMIMEs[strings.ToLower(filepath.Ext(source))]
	if !ok {
		mime = "application/octet-stream"
	}
	data, err := os.ReadFile(source)
	if err != nil {
		logging.Warnf("[canvas] image %s unreadable: %v", source, err)
		return source
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func renderElement(el *Element) string {
	style := fmt.Sprintf(
		`style="position:absolute;left:%.0fpx;top:%.0fpx;width:%.0fpx;height:%.0fpx;z-index:%d"`,
		el.Transform.X, el.Transform.Y, el.Transform.W, el.Transform.H, el.Transform.Z)

	var body string
	switch el.Kind {
	case KindText:
		body = renderText(el.Text)
	case KindChart:
		if el.Chart != nil {
			uri := chartPNG(el.Chart, int(el.Transform.W), int(el.Transform.H))
			body = fmt.Sprintf(`<img class="chart" src="%s" alt="%s">`, uri, html.EscapeString(el.Chart.Title))
		}
	case KindImage:
		body = fmt.Sprintf(`<img src="%s" alt="">`, html.EscapeString(imageSrc(el.Source)))
	case Kind3D:
		body = `<div class="placeholder">3D content</div>`
	case KindVideo:
		body = `<div class="placeholder">video</div>`
	case KindGroup:
		body = ""
	default:
		body = "<p>" + html.EscapeString(el.Text) + "</p>"
	}
	return fmt.Sprintf(`<div class="element element-%s" data-id="%s" %s>%s</div>`,
		el.Kind, html.EscapeString(el.ID), style, body)
}

func renderElements(els []Element) string {
	var sb strings.Builder
	for i := range els {
		sb.WriteString(renderElement(&els[i]))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func renderScene(s *Scene, generation uint64) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	sb.WriteString("<style>body{margin:0;background:#111;color:#eee;font-family:sans-serif}")
	sb.WriteString(".element{overflow:hidden;border-radius:8px;background:#1c1c1e;padding:8px}")
	sb.WriteString(".placeholder{opacity:.5;text-align:center}</style></head>\n")
	fmt.Fprintf(&sb, "<body data-generation=\"%d\">\n", generation)
	fmt.Fprintf(&sb, "<div class=\"canvas\" style=\"position:relative;width:%.0fpx;height:%.0fpx\">\n",
		s.ViewportW, s.ViewportH)
	sb.WriteString(renderElements(s.Elements))
	sb.WriteString("</div>\n</body></html>\n")
	return sb.String()
}
