package agents

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// ExtractText pulls plain text out of a downloaded document and returns it
// with the page count. PDF pages are prefixed with "[Page N]" so the
// extraction model can report page ranges.
func ExtractText(doc *Document) (string, int) {
	switch doc.Kind() {
	case KindPDF:
		return extractPDFText(doc.Data)
	case KindHTML:
		return extractHTMLText(doc.Data), 1
	default:
		return strings.TrimSpace(string(doc.Data)), 1
	}
}

var (
	pdfStreamPattern = regexp.MustCompile(`(?s)stream\r?\n(.*?)endstream`)
	pdfStringPattern = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
	pdfPagePattern   = regexp.MustCompile(`/Type\s*/Page\b`)
)

// extractPDFText scans uncompressed PDF content streams for text-show
// operators. It handles the plain-text PDFs ministries publish and the
// fixtures tests build; compressed streams yield no text and the caller
// falls back to its no-text path.
func extractPDFText(data []byte) (string, int) {
	streams := pdfStreamPattern.FindAllSubmatch(data, -1)

	var parts []string
	page := 0
	for _, m := range streams {
		body := m[1]
		if !strings.Contains(string(body), "BT") {
			continue
		}
		page++
		var lines []string
		for _, sm := range pdfStringPattern.FindAllSubmatch(body, -1) {
			text := unescapePDFString(string(sm[1]))
			if strings.TrimSpace(text) != "" {
				lines = append(lines, text)
			}
		}
		if len(lines) > 0 {
			parts = append(parts, fmt.Sprintf("[Page %d]\n%s", page, strings.Join(lines, "\n")))
		}
	}

	pages := len(pdfPagePattern.FindAll(data, -1))
	if pages == 0 {
		pages = page
	}
	return strings.Join(parts, "\n"), pages
}

// unescapePDFString resolves the escape sequences of a PDF literal string.
func unescapePDFString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case '(', ')', '\\':
			b.WriteByte(s[i])
		default:
			// Octal escapes and unknown sequences pass through unchanged.
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

var (
	numberedLinePattern = regexp.MustCompile(`^\d+\.`)
	letterLinePattern   = regexp.MustCompile(`^[a-zA-Z]\)`)
	romanLinePattern    = regexp.MustCompile(`^[ivxlcdmIVXLCDM]+\)`)
	sectionLinePattern  = regexp.MustCompile(`(?i)^(Section|Unit|Chapter|Module)\s+\w+`)
)

// HeuristicCompetency is one line the rule-based extractor flagged as a
// competency, tied to its position in the document.
type HeuristicCompetency struct {
	Title         string
	SourceChunkID string
}

// HeuristicExtract scans document text for competency-shaped lines:
// numbered items, bullets, lettered and roman-numeral lists, and section
// headers. Each hit is grounded to a chunk id derived from its line index.
func HeuristicExtract(text string) []HeuristicCompetency {
	var comps []HeuristicCompetency
	for idx, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if numberedLinePattern.MatchString(line) ||
			strings.HasPrefix(line, "-") ||
			letterLinePattern.MatchString(line) ||
			romanLinePattern.MatchString(line) ||
			sectionLinePattern.MatchString(line) {
			comps = append(comps, HeuristicCompetency{
				Title:         line,
				SourceChunkID: fmt.Sprintf("chunk_%d", idx),
			})
		}
	}
	return comps
}

// extractHTMLText returns the visible text of an HTML page, one text node
// per line. Script and style bodies are skipped.
func extractHTMLText(data []byte) string {
	doc, err := html.Parse(strings.NewReader(string(data)))
	if err != nil {
		return strings.TrimSpace(string(data))
	}

	var lines []string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				lines = append(lines, text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	return strings.Join(lines, "\n")
}
