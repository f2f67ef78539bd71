package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a plain path: a map key or a list index.
type segment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath splits a plain dot/bracket path into segments.
//
//	"a.b"           -> key a, key b
//	"a[0].b"        -> key a, index 0, key b
//	`a["x.y"]`      -> key a, key x.y
func parsePath(path string) ([]segment, error) {
	var segs []segment
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			segs = append(segs, segment{key: cur.String()})
			cur.Reset()
		}
	}

	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated bracket", path)
			}
			inner := path[i+1 : i+end]
			i += end
			if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
				segs = append(segs, segment{key: inner[1 : len(inner)-1]})
				continue
			}
			n, err := strconv.Atoi(inner)
			if err != nil {
				// lodash treats an unquoted non-numeric bracket as a key
				segs = append(segs, segment{key: inner})
				continue
			}
			segs = append(segs, segment{index: n, isIndex: true, key: inner})
		default:
			cur.WriteByte(c)
		}
	}
	flush()

	if len(segs) == 0 {
		return nil, fmt.Errorf("path %q: no segments", path)
	}
	return segs, nil
}

// Get resolves a plain path against doc. The boolean reports whether the
// full path resolved; a malformed path never resolves.
func Get(doc any, path string) (any, bool) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	cur := doc
	for _, s := range segs {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[s.key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			if !s.isIndex || s.index < 0 || s.index >= len(node) {
				return nil, false
			}
			cur = node[s.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves path and returns the value when it is a non-empty
// string.
func GetString(doc any, path string) string {
	v, ok := Get(doc, path)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set writes value at path inside doc, creating intermediate objects as
// needed. Index segments address existing list elements; an index segment
// that cannot be addressed is written as an object key instead.
func Set(doc map[string]any, path string, value any) error {
	segs, err := parsePath(path)
	if err != nil {
		return err
	}

	var cur any = doc
	for i, s := range segs {
		last := i == len(segs)-1
		switch node := cur.(type) {
		case map[string]any:
			if last {
				node[s.key] = value
				return nil
			}
			next, ok := node[s.key]
			if !ok || !isContainer(next) {
				next = map[string]any{}
				node[s.key] = next
			}
			cur = next
		case []any:
			if !s.isIndex || s.index < 0 || s.index >= len(node) {
				return fmt.Errorf("set %q: index %q out of range", path, s.key)
			}
			if last {
				node[s.index] = value
				return nil
			}
			if !isContainer(node[s.index]) {
				node[s.index] = map[string]any{}
			}
			cur = node[s.index]
		}
	}
	return nil
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
