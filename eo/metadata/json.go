package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// JSONView is a View over a decoded JSON document. Arrays fan out: a path
// crossing an array matches every element.
type JSONView struct {
	root any
}

// ParseJSON builds a JSONView from r.
func ParseJSON(r io.Reader) (*JSONView, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("metadata: parse json: %w", err)
	}
	return &JSONView{root: root}, nil
}

// FindText implements View.
func (v *JSONView) FindText(path string) (string, bool) {
	all := v.FindAll(path)
	if len(all) == 0 {
		return "", false
	}
	return all[0], true
}

// FindAll implements View.
func (v *JSONView) FindAll(path string) []string {
	elems, attr := splitPath(path)
	if attr != "" {
		elems = append(elems, attr)
	}
	var out []string
	for _, node := range walkJSON([]any{v.root}, elems) {
		out = append(out, jsonText(node)...)
	}
	return out
}

// Attribute implements View. Attributes are top-level scalar members.
func (v *JSONView) Attribute(name string) (string, bool) {
	obj, ok := v.root.(map[string]any)
	if !ok {
		return "", false
	}
	val, ok := obj[name]
	if !ok {
		return "", false
	}
	texts := jsonText(val)
	if len(texts) != 1 {
		return "", false
	}
	return texts[0], true
}

func walkJSON(nodes []any, elems []string) []any {
	if len(elems) == 0 {
		return nodes
	}
	head, rest := elems[0], elems[1:]
	var next []any
	for _, n := range nodes {
		switch t := n.(type) {
		case map[string]any:
			if head == "*" {
				keys := make([]string, 0, len(t))
				for k := range t {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					next = append(next, t[k])
				}
			} else if c, ok := t[head]; ok {
				next = append(next, c)
			}
		case []any:
			if i, err := strconv.Atoi(head); err == nil {
				if i >= 0 && i < len(t) {
					next = append(next, t[i])
				}
				continue
			}
			next = append(next, walkJSON(t, []string{head})...)
		}
	}
	return walkJSON(next, rest)
}

func jsonText(n any) []string {
	switch t := n.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case json.Number:
		return []string{t.String()}
	case bool:
		return []string{strconv.FormatBool(t)}
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, jsonText(e)...)
		}
		return out
	default:
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(t); err != nil {
			return nil
		}
		return []string{string(bytes.TrimSpace(buf.Bytes()))}
	}
}
