package reliability

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxOutlineText caps the visible-text portion of a PageOutline so a
// parse_html result never dominates the prompt.
const maxOutlineText = 20000

// PageOutline is the structured result of the parse_html tool: the page
// parsed in-process from the live DOM's outerHTML, without a new
// navigation or a vision call.
type PageOutline struct {
	Title    string        `json:"title"`
	Headings []string      `json:"headings"`
	Links    []OutlineLink `json:"links"`
	Text     string        `json:"text"`
}

// OutlineLink is one anchor found while walking the document.
type OutlineLink struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// droppedSubtrees are elements whose entire subtree carries nothing a
// model can act on.
var droppedSubtrees = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
}

// hiddenInlineStyles match style attribute values that hide an element.
var hiddenInlineStyles = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(?:\s*[;"]|$)`),
}

var outlineSpaceRuns = regexp.MustCompile(`\s+`)

// ParseOutline parses raw HTML into a PageOutline. A document that fails
// to parse yields an outline whose Text is the raw input, so the caller
// still gets something to reason over rather than an error.
func ParseOutline(raw string) PageOutline {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return PageOutline{Text: clampText(raw, maxOutlineText)}
	}

	var out PageOutline
	var text strings.Builder
	walkOutline(doc, &out, &text)
	out.Text = clampText(strings.TrimSpace(text.String()), maxOutlineText)
	return out
}

func walkOutline(n *html.Node, out *PageOutline, text *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		if t := outlineSpaceRuns.ReplaceAllString(n.Data, " "); strings.TrimSpace(t) != "" {
			text.WriteString(t)
		}
		return
	case html.ElementNode:
		if droppedSubtrees[n.DataAtom] {
			return
		}
		if nodeAttr(n, "aria-hidden") == "true" || nodeHasAttr(n, "hidden") {
			return
		}
		if style := nodeAttr(n, "style"); style != "" && inlineStyleHides(style) {
			return
		}

		switch n.DataAtom {
		case atom.Title:
			if out.Title == "" {
				out.Title = strings.TrimSpace(nodeText(n))
			}
			return
		case atom.H1, atom.H2, atom.H3, atom.H4:
			if h := strings.TrimSpace(nodeText(n)); h != "" {
				out.Headings = append(out.Headings, h)
			}
		case atom.A:
			if href := nodeAttr(n, "href"); href != "" {
				out.Links = append(out.Links, OutlineLink{
					Text: strings.TrimSpace(nodeText(n)),
					Href: href,
				})
			}
		case atom.P, atom.Div, atom.Li, atom.Tr, atom.Br, atom.Section, atom.Article:
			text.WriteString("\n")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkOutline(c, out, text)
	}
}

// nodeText flattens the visible text of n's subtree.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(m *html.Node) {
		if m.Type == html.TextNode {
			b.WriteString(m.Data)
		}
		if m.Type == html.ElementNode && droppedSubtrees[m.DataAtom] {
			return
		}
		for c := m.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return outlineSpaceRuns.ReplaceAllString(b.String(), " ")
}

func inlineStyleHides(style string) bool {
	for _, p := range hiddenInlineStyles {
		if p.MatchString(style) {
			return true
		}
	}
	return false
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeHasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func clampText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
