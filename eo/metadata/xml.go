package metadata

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

type xmlNode struct {
	name     string
	attrs    map[string]string
	text     strings.Builder
	children []*xmlNode
}

// XMLView is a namespace-agnostic View over an XML document. Paths are relative
// to the document root element; "*" matches any one element and "**" any depth.
type XMLView struct {
	root *xmlNode
}

// ParseXML builds an XMLView from r.
func ParseXML(r io.Reader) (*XMLView, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false
	var stack []*xmlNode
	var root *xmlNode
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("metadata: parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local, attrs: make(map[string]string, len(t.Attr))}
			for _, a := range t.Attr {
				n.attrs[a.Name.Local] = a.Value
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("metadata: parse xml: multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(bytes.TrimSpace(t))
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("metadata: parse xml: empty document")
	}
	return &XMLView{root: root}, nil
}

// FindText implements View.
func (v *XMLView) FindText(path string) (string, bool) {
	all := v.FindAll(path)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// FindAll implements View.
func (v *XMLView) FindAll(path string) []string {
	elems, attr := splitPath(path)
	var out []string
	for _, n := range match([]*xmlNode{v.root}, elems) {
		if attr != "" {
			if val, ok := n.attrs[attr]; ok {
				out = append(out, val)
			}
			continue
		}
		out = append(out, n.text.String())
	}
	return out
}

// Attribute implements View.
func (v *XMLView) Attribute(name string) (string, bool) {
	val, ok := v.root.attrs[name]
	return val, ok
}

// match walks elems starting from the children of nodes.
func match(nodes []*xmlNode, elems []string) []*xmlNode {
	if len(elems) == 0 {
		return nodes
	}
	head, rest := elems[0], elems[1:]
	var next []*xmlNode
	if head == "**" {
		for _, n := range nodes {
			next = append(next, descendants(n)...)
		}
		return match(next, rest)
	}
	for _, n := range nodes {
		for _, c := range n.children {
			if head == "*" || c.name == head {
				next = append(next, c)
			}
		}
	}
	return match(next, rest)
}

// descendants returns n and every node below it, depth first.
func descendants(n *xmlNode) []*xmlNode {
	out := []*xmlNode{n}
	for _, c := range n.children {
		out = append(out, descendants(c)...)
	}
	return out
}
