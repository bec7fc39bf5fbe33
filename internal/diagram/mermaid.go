// Package diagram finds mermaid diagrams in model answers and renders them to
// SVG.
package diagram

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RequestPrompt asks the model for a mermaid overview of the pull request.
const RequestPrompt = "Describe the changes of this PR as a mermaid diagram (a ```mermaid code block), preferably a flowchart:\n" +
	"- main components and modules\n" +
	"- data and call flow\n" +
	"- before/after differences as comments\n\n" +
	"Reply with clean mermaid code that renders as is."

var mermaidFence = regexp.MustCompile("(?s)```mermaid\\s*(.*?)```")

// ExtractMermaidBlocks returns the trimmed bodies of the ```mermaid fences in
// text, in order, skipping empty ones.
func ExtractMermaidBlocks(text string) []string {
	var blocks []string
	for _, m := range mermaidFence.FindAllStringSubmatch(text, -1) {
		code := strings.TrimSpace(m[1])
		if code == "" {
			continue
		}
		blocks = append(blocks, code)
	}
	return blocks
}

// svgElements are the SVG elements kept in sanitized output. Everything else
// is removed with its content, foreignObject included.
var svgElements = map[string]bool{
	"svg": true, "g": true, "defs": true, "symbol": true, "use": true, "a": true,
	"title": true, "desc": true, "style": true, "switch": true, "marker": true,
	"path": true, "rect": true, "circle": true, "ellipse": true, "line": true,
	"polyline": true, "polygon": true, "text": true, "tspan": true, "textpath": true,
	"lineargradient": true, "radialgradient": true, "stop": true, "pattern": true,
	"clippath": true, "mask": true, "filter": true, "feoffset": true,
	"fegaussianblur": true, "feblend": true, "feflood": true, "fecomposite": true,
	"femerge": true, "femergenode": true, "fedropshadow": true, "fecolormatrix": true,
}

// SanitizeSVG parses rendered SVG and keeps only allow-listed SVG elements.
// Inline event handlers are dropped, and so are links whose decoded value is
// not a fragment or an http(s) URL.
func SanitizeSVG(svg string) string {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(svg), body)
	if err != nil {
		return ""
	}

	var b strings.Builder
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if !allowedElement(n) {
				continue
			}
			cleanNode(n)
		case html.TextNode:
		default:
			continue
		}
		if err := html.Render(&b, n); err != nil {
			return ""
		}
	}
	return b.String()
}

func allowedElement(n *html.Node) bool {
	return n.Namespace == "svg" && svgElements[strings.ToLower(n.Data)]
}

func cleanNode(n *html.Node) {
	n.Attr = cleanAttrs(n.Attr)
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.ElementNode:
			if allowedElement(c) {
				cleanNode(c)
			} else {
				n.RemoveChild(c)
			}
		case html.TextNode:
		default:
			n.RemoveChild(c)
		}
		c = next
	}
}

func cleanAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if (key == "href" || key == "src" || strings.HasSuffix(key, ":href")) && !safeLink(a.Val) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

// safeLink checks an already entity-decoded attribute value.
func safeLink(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(v, "#") || strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://")
}
