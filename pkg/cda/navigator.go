package cda

import (
	"fmt"
	"strings"
)

// The navigator understands a small relative-path grammar modeled on the
// subset of XPath these documents need:
//
//	cda:effectiveTime/cda:low              child chain
//	.//cda:entry/cda:substanceAdministration  first step at any depth
//	.//cda:observation[@negationInd='true']   attribute predicate
//
// Every lookup returns an empty result for absent structure; only a document
// that fails to parse is an error.

type step struct {
	space     string
	local     string
	attrName  string
	attrValue string
}

func parseSelector(expr string) ([]step, bool) {
	deep := strings.HasPrefix(expr, ".//")
	expr = strings.TrimPrefix(expr, ".//")
	parts := strings.Split(expr, "/")
	steps := make([]step, 0, len(parts))
	for _, part := range parts {
		s, ok := parseStep(part)
		if !ok {
			return nil, false
		}
		steps = append(steps, s)
	}
	return steps, deep
}

func parseStep(part string) (step, bool) {
	var s step
	if i := strings.Index(part, "["); i >= 0 {
		pred := part[i:]
		part = part[:i]
		if !strings.HasPrefix(pred, "[@") || !strings.HasSuffix(pred, "]") {
			return s, false
		}
		pred = pred[2 : len(pred)-1]
		eq := strings.Index(pred, "=")
		if eq < 0 {
			return s, false
		}
		s.attrName = pred[:eq]
		val := pred[eq+1:]
		if len(val) < 2 || val[0] != val[len(val)-1] || (val[0] != '\'' && val[0] != '"') {
			return s, false
		}
		s.attrValue = val[1 : len(val)-1]
	}
	prefix, local, ok := strings.Cut(part, ":")
	if !ok {
		return s, false
	}
	ns, ok := namespaces[prefix]
	if !ok {
		return s, false
	}
	s.space = ns
	s.local = local
	return s, true
}

func (s step) matches(n *Node) bool {
	if !n.is(s.space, s.local) {
		return false
	}
	if s.attrName != "" && n.Attr(s.attrName) != s.attrValue {
		return false
	}
	return true
}

// FindAll returns every node matching the selector, in document order.
func FindAll(n *Node, selector string) []*Node {
	return find(n, selector, 0)
}

// FindFirst returns the first node matching the path, or nil.
func FindFirst(n *Node, path string) *Node {
	matches := find(n, path, 1)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func find(n *Node, selector string, limit int) []*Node {
	if n == nil {
		return nil
	}
	steps, deep := parseSelector(selector)
	if steps == nil {
		return nil
	}
	var out []*Node
	if deep {
		collectDeep(n, steps, limit, &out)
	} else {
		collectChain(n, steps, limit, &out)
	}
	return out
}

// collectDeep matches the first step against every descendant, then the
// remaining steps along the child axis, like an XPath ".//" search.
func collectDeep(n *Node, steps []step, limit int, out *[]*Node) {
	for _, c := range n.Children {
		if steps[0].matches(c) {
			collectChain(c, steps[1:], limit, out)
			if limit > 0 && len(*out) >= limit {
				return
			}
		}
		collectDeep(c, steps, limit, out)
		if limit > 0 && len(*out) >= limit {
			return
		}
	}
}

func collectChain(n *Node, steps []step, limit int, out *[]*Node) {
	if len(steps) == 0 {
		*out = append(*out, n)
		return
	}
	for _, c := range n.Children {
		if steps[0].matches(c) {
			collectChain(c, steps[1:], limit, out)
			if limit > 0 && len(*out) >= limit {
				return
			}
		}
	}
}

// FindFirstText returns the trimmed text of the first node matching the path,
// or "" when the path has no target.
func FindFirstText(n *Node, path string) string {
	return FindFirst(n, path).TrimmedText()
}

// FindFirstAttr returns an attribute of the first node matching the path, or
// "" when either the node or the attribute is absent.
func FindFirstAttr(n *Node, path, attr string) string {
	return FindFirst(n, path).Attr(attr)
}

// FindByID locates the element anywhere in the document whose ID attribute
// equals id. Narrative references ("#med5sig") resolve through this.
func FindByID(root *Node, id string) *Node {
	if root == nil || id == "" {
		return nil
	}
	if root.Attr("ID") == id {
		return root
	}
	for _, c := range root.Children {
		if found := FindByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

// SectionsByTemplateID returns every section declaring the given template
// identifier. Some exports repeat a section (split results panels, say), so
// callers process all of them.
func SectionsByTemplateID(root *Node, templateID string) []*Node {
	var out []*Node
	for _, section := range FindAll(root, ".//cda:section") {
		sel := fmt.Sprintf(".//cda:templateId[@root='%s']", templateID)
		if FindFirst(section, sel) != nil {
			out = append(out, section)
		}
	}
	return out
}

// ResolveText reads a free-text element such as a medication sig, which is
// usually stored by reference into the narrative block. The reference wins
// when it dereferences; otherwise the element's own inline text is used.
func ResolveText(root, element *Node, path string) string {
	el := FindFirst(element, path)
	if el == nil {
		return ""
	}
	if ref := FindFirst(el, "cda:reference"); ref != nil {
		value := ref.Attr("value")
		if strings.HasPrefix(value, "#") {
			if text := FindByID(root, strings.TrimPrefix(value, "#")).AllText(); text != "" {
				return text
			}
		}
	}
	return el.TrimmedText()
}

// ResolveDisplayName resolves the human-readable label of the coded element at
// codePath. The order is deliberate and load-bearing: a structured displayName
// outranks inline narrative, which outranks a cross-referenced narrative
// block.
//
//  1. displayName attribute on the coded element.
//  2. Inline text of its originalText child.
//  3. A reference child whose value is "#<id>": dereference the element with
//     that ID anywhere in the document and read its full text.
//
// Returns "" when none of the three yield a name.
func ResolveDisplayName(root, element *Node, codePath string) string {
	code := FindFirst(element, codePath)
	if code == nil {
		return ""
	}
	if name := code.Attr("displayName"); name != "" {
		return name
	}
	original := FindFirst(code, "cda:originalText")
	if original == nil {
		return ""
	}
	if text := original.TrimmedText(); text != "" {
		return text
	}
	ref := FindFirst(original, "cda:reference")
	if ref == nil {
		return ""
	}
	value := ref.Attr("value")
	if !strings.HasPrefix(value, "#") {
		return ""
	}
	return FindByID(root, strings.TrimPrefix(value, "#")).AllText()
}
