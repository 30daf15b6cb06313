package cda

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// XML namespaces a C-CDA document uses: the clinical document vocabulary and
// the SDTC extension vocabulary carrying deceased-status fields.
const (
	NamespaceCDA  = "urn:hl7-org:v3"
	NamespaceSDTC = "urn:hl7-org:sdtc"
)

var namespaces = map[string]string{
	"cda":  NamespaceCDA,
	"sdtc": NamespaceSDTC,
}

// ParseError reports a document that is not well-formed XML. A document that
// fails to parse contributes nothing; malformed content below the document
// level is handled by the nil-safe lookups instead.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cda: malformed document: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Node is one element of the parsed document tree. The tree is dynamic rather
// than schema-bound: vendor exports disagree wildly about which elements are
// present, so every lookup tolerates absent structure.
type Node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr
	Text     string
	Children []*Node

	// Character data arrives in segments split by child elements. Narrative
	// blocks lean on that: "line one<br/>line two" is two segments, and
	// flattening them into Text alone would run the lines together.
	segments []textSegment
}

// textSegment is one run of character data, positioned by how many child
// elements precede it.
type textSegment struct {
	text string
	pos  int
}

// UnmarshalXML builds the subtree rooted at start by hand. The default decoder
// collapses every chardata run of an element into one string, which destroys
// the segment boundaries mixed content depends on.
func (n *Node) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	n.XMLName = start.Name
	n.Attrs = start.Attr
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			n.Text += string(t)
			n.segments = append(n.segments, textSegment{text: string(t), pos: len(n.Children)})
		case xml.StartElement:
			child := &Node{}
			if err := child.UnmarshalXML(d, t); err != nil {
				return err
			}
			n.Children = append(n.Children, child)
		case xml.EndElement:
			return nil
		}
	}
}

// Parse reads one CDA document into a navigable tree.
func Parse(data []byte) (*Node, error) {
	var root Node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, &ParseError{Err: err}
	}
	return &root, nil
}

// Attr returns the value of the named attribute, matching on local name. CDA
// attributes (value, displayName, negationInd, ID, ...) are unprefixed.
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// TrimmedText returns the node's own character data, trimmed.
func (n *Node) TrimmedText() string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n.Text)
}

// AllText concatenates the character data of the node and every descendant in
// document order, the equivalent of reading a narrative block as plain text.
func (n *Node) AllText() string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	n.collectText(&b)
	return strings.TrimSpace(b.String())
}

func (n *Node) collectText(b *strings.Builder) {
	n.walk(
		func(text string) { b.WriteString(text) },
		func(c *Node) { c.collectText(b) },
	)
}

// TextPieces returns the trimmed, non-empty character data of the node and
// its descendants in document order, one piece per chardata segment.
// Narrative blocks read this way render as one line per table cell,
// paragraph, or <br/>-separated run.
func (n *Node) TextPieces() []string {
	if n == nil {
		return nil
	}
	var pieces []string
	n.collectPieces(&pieces)
	return pieces
}

func (n *Node) collectPieces(pieces *[]string) {
	n.walk(
		func(text string) {
			if t := strings.TrimSpace(text); t != "" {
				*pieces = append(*pieces, t)
			}
		},
		func(c *Node) { c.collectPieces(pieces) },
	)
}

// walk visits the node's text segments and child elements interleaved, in
// document order.
func (n *Node) walk(onText func(string), onChild func(*Node)) {
	seg := 0
	for i, c := range n.Children {
		for seg < len(n.segments) && n.segments[seg].pos <= i {
			onText(n.segments[seg].text)
			seg++
		}
		onChild(c)
	}
	for ; seg < len(n.segments); seg++ {
		onText(n.segments[seg].text)
	}
}

func (n *Node) is(space, local string) bool {
	return n != nil && n.XMLName.Space == space && n.XMLName.Local == local
}
