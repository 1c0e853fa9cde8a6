package merge

import (
	"regexp"
	"strings"

	"github.com/underlay-tools/underlay/pkg/merge/status"
)

// Section markers are HTML comments, invisible in rendered markdown:
//
//	<!-- underlay:begin name -->
//	...body...
//	<!-- underlay:end name -->
//
// An overlay document made of such sections replaces the matching
// bodies in the base document. Sections the base does not know are
// appended at the end. An overlay without any markers replaces the
// base wholesale.
var markerRe = regexp.MustCompile(`^\s*<!--\s*underlay:(begin|end)\s+([A-Za-z0-9][A-Za-z0-9._-]*)\s*-->\s*$`)

const (
	literalNode = iota
	sectionNode
)

type docNode struct {
	kind int
	// literal lines for literalNode
	text []string
	// section fields for sectionNode, marker lines kept verbatim
	name  string
	begin string
	body  []string
	end   string
}

type sectionedDoc struct {
	nodes    []docNode
	sections map[string]int
	order    []string
}

func parseSections(filePath string, doc []byte) (*sectionedDoc, error) {
	lines := strings.Split(string(doc), "\n")
	parsed := &sectionedDoc{sections: map[string]int{}}

	var literal []string
	flushLiteral := func() {
		if len(literal) > 0 {
			parsed.nodes = append(parsed.nodes, docNode{kind: literalNode, text: literal})
			literal = nil
		}
	}

	var open *docNode
	for _, line := range lines {
		m := markerRe.FindStringSubmatch(line)
		if m == nil {
			if open != nil {
				open.body = append(open.body, line)
			} else {
				literal = append(literal, line)
			}
			continue
		}
		verb, name := m[1], m[2]
		switch verb {
		case "begin":
			if open != nil {
				return nil, status.ErrMalformedMarkers.WrapMessage(
					"%s: section %q begins inside section %q", filePath, name, open.name)
			}
			if _, seen := parsed.sections[name]; seen {
				return nil, status.ErrDuplicateSection.WrapMessage(
					"%s: section %q declared twice", filePath, name)
			}
			flushLiteral()
			open = &docNode{kind: sectionNode, name: name, begin: line}
		case "end":
			if open == nil {
				return nil, status.ErrMalformedMarkers.WrapMessage(
					"%s: end of section %q without a begin", filePath, name)
			}
			if open.name != name {
				return nil, status.ErrMalformedMarkers.WrapMessage(
					"%s: section %q ended as %q", filePath, open.name, name)
			}
			open.end = line
			parsed.sections[name] = len(parsed.nodes)
			parsed.order = append(parsed.order, name)
			parsed.nodes = append(parsed.nodes, *open)
			open = nil
		}
	}
	if open != nil {
		return nil, status.ErrMalformedMarkers.WrapMessage(
			"%s: section %q is never ended", filePath, open.name)
	}
	flushLiteral()
	return parsed, nil
}

// blankOutsideSections reports whether every line outside section
// markers is whitespace.
func (d *sectionedDoc) blankOutsideSections() bool {
	for _, node := range d.nodes {
		if node.kind != literalNode {
			continue
		}
		for _, line := range node.text {
			if strings.TrimSpace(line) != "" {
				return false
			}
		}
	}
	return true
}

// spliceSections merges a markdown overlay into a markdown base along
// section markers. Text outside sections in the base is preserved as is.
func spliceSections(filePath string, base, overlay []byte) ([]byte, error) {
	overlayDoc, err := parseSections(filePath, overlay)
	if err != nil {
		return nil, err
	}
	if len(overlayDoc.sections) == 0 {
		// no markers at all, the overlay owns the whole file
		return append([]byte(nil), overlay...), nil
	}
	if !overlayDoc.blankOutsideSections() {
		return nil, status.ErrMalformedMarkers.WrapMessage(
			"%s: overlay has content outside section markers", filePath)
	}
	baseDoc, err := parseSections(filePath, base)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, node := range baseDoc.nodes {
		switch node.kind {
		case literalNode:
			out = append(out, node.text...)
		case sectionNode:
			body := node.body
			if idx, ok := overlayDoc.sections[node.name]; ok {
				body = overlayDoc.nodes[idx].body
			}
			out = append(out, node.begin)
			out = append(out, body...)
			out = append(out, node.end)
		}
	}

	appended := false
	for _, name := range overlayDoc.order {
		if _, known := baseDoc.sections[name]; known {
			continue
		}
		node := overlayDoc.nodes[overlayDoc.sections[name]]
		if len(out) > 0 && out[len(out)-1] != "" {
			out = append(out, "")
		}
		out = append(out, node.begin)
		out = append(out, node.body...)
		out = append(out, node.end)
		appended = true
	}
	if appended {
		out = append(out, "")
	}
	return []byte(strings.Join(out, "\n")), nil
}
