package metadata

import "strings"

// MapView is a View over flat path → values pairs, used for key/value
// metadata files and attribute maps. Root attributes are stored under "@name".
type MapView map[string][]string

// FindText implements View.
func (m MapView) FindText(path string) (string, bool) {
	vals := m[strings.Trim(path, "/")]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// FindAll implements View.
func (m MapView) FindAll(path string) []string {
	return append([]string(nil), m[strings.Trim(path, "/")]...)
}

// Attribute implements View.
func (m MapView) Attribute(name string) (string, bool) {
	return m.FindText("@" + name)
}

// Set replaces the values at path.
func (m MapView) Set(path string, values ...string) MapView {
	m[strings.Trim(path, "/")] = values
	return m
}
