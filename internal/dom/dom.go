// Package dom walks parsed HTML documents to collect translatable text
// fragments and writes translations back into the same nodes.
//
// The pipeline: raw HTML → Parse → Body → Extract → (translate) → Apply → Render.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/valpere/pagetran/internal"
)

// ErrNoRoot is returned when there is no element to start traversal from.
var ErrNoRoot = errors.New("dom: the top level element does not exist on the document")

// wordRe matches a single word character in any script.
var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]`)

// excluded lists containers whose subtrees never contribute fragments.
var excluded = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Textarea: true,
	atom.Code:     true,
	atom.Pre:      true,
}

// Parse parses an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}
	return doc, nil
}

// Render serialises doc back to HTML.
func Render(w io.Writer, doc *html.Node) error {
	return html.Render(w, doc)
}

// RenderString is Render into a string.
func RenderString(doc *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Body returns the <body> element of doc, or nil when the document has none.
func Body(doc *html.Node) *html.Node {
	if doc == nil {
		return nil
	}
	if doc.Type == html.ElementNode && doc.DataAtom == atom.Body {
		return doc
	}
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if b := Body(c); b != nil {
			return b
		}
	}
	return nil
}

// Index maps fragment ids to the text nodes they were read from. An Index
// belongs to exactly one extraction pass.
type Index map[string]*html.Node

// Extract walks root in pre-order depth-first order and returns one fragment
// per text leaf that contains at least one word character, together with the
// index needed to write translations back. The tree is not modified.
func Extract(root *html.Node) (internal.Sequence, Index, error) {
	if root == nil {
		return nil, nil, ErrNoRoot
	}

	seq := internal.Sequence{}
	idx := Index{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if text, ok := nodeText(n); ok {
			id := strconv.Itoa(len(idx) + 1)
			idx[id] = n
			seq = append(seq, internal.Fragment{ID: id, OriginalText: text})
		}
		if n.Type == html.ElementNode && excluded[n.DataAtom] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	return seq, idx, nil
}

// nodeText returns the raw text of a text node that is worth translating.
// Whitespace and line-break only content is rejected.
func nodeText(n *html.Node) (string, bool) {
	if n.Type != html.TextNode {
		return "", false
	}
	if !wordRe.MatchString(strings.TrimSpace(n.Data)) {
		return "", false
	}
	return n.Data, true
}

// WriteBack replaces the text of the node registered under id. The original
// node's surrounding whitespace is kept so inline layout does not collapse.
// It reports whether a node was found; a missing id is not an error.
func (idx Index) WriteBack(id, text string) bool {
	n, ok := idx[id]
	if !ok || n == nil {
		return false
	}
	n.Data = padLike(n.Data, text)
	return true
}

// Apply writes every translated fragment of seq back and returns how many
// nodes were updated.
func (idx Index) Apply(seq internal.Sequence) int {
	written := 0
	for _, f := range seq {
		if !f.Translated() {
			continue
		}
		if idx.WriteBack(f.ID, *f.TranslatedText) {
			written++
		}
	}
	return written
}

func padLike(original, text string) string {
	trimmed := strings.TrimSpace(text)
	lead := original[:len(original)-len(strings.TrimLeftFunc(original, unicode.IsSpace))]
	trail := original[len(strings.TrimRightFunc(original, unicode.IsSpace)):]
	return lead + trimmed + trail
}
