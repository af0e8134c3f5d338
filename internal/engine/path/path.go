// Package path implements dotted-path resolution over JSON-shaped documents
// (nested map[string]interface{} and []interface{} values). Paths look like
// "user.name", "items[2].id" or "matrix[0][1]".
//
// Segments named __proto__, constructor or prototype are rejected so that
// documents authored here stay portable to JavaScript runtimes where those
// keys poison object prototypes.
package path

import (
	"errors"
	"fmt"
	"strings"
)

// maxIndex bounds array indices so a hostile path cannot force allocation of
// an arbitrarily large slice.
const maxIndex = 1_000_000

var reservedSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// ErrEmptyPath is returned when an empty path string is supplied.
var ErrEmptyPath = errors.New("path: empty path")

// Segment is one step of a parsed path: either a map key or a slice index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

func (s Segment) String() string {
	if s.IsIndex {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Key
}

// Split parses a path expression into segments. The first segment must be a
// key; indices attach to a preceding key ("items[0]", "grid[1][2]").
func Split(path string) ([]Segment, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	var segs []Segment
	i := 0
	expectKey := true
	for i < len(path) {
		switch path[i] {
		case '.':
			return nil, fmt.Errorf("path %q: empty segment at offset %d", path, i)
		case '[':
			if expectKey {
				return nil, fmt.Errorf("path %q: index must follow a key", path)
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated index", path)
			}
			idx, err := parseIndex(path[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("path %q: %v", path, err)
			}
			segs = append(segs, Segment{Index: idx, IsIndex: true})
			i += end + 1
			// After "]" the next rune must be ".", "[" or end of path.
			if i < len(path) {
				switch path[i] {
				case '.':
					i++
					expectKey = true
				case '[':
				default:
					return nil, fmt.Errorf("path %q: unexpected %q after index", path, path[i])
				}
			}
		default:
			end := i
			for end < len(path) && path[end] != '.' && path[end] != '[' && path[end] != ']' {
				end++
			}
			if end < len(path) && path[end] == ']' {
				return nil, fmt.Errorf("path %q: unexpected ']' at offset %d", path, end)
			}
			key := path[i:end]
			if _, bad := reservedSegments[key]; bad {
				return nil, fmt.Errorf("path %q: reserved segment %q", path, key)
			}
			segs = append(segs, Segment{Key: key})
			i = end
			expectKey = false
			if i < len(path) && path[i] == '.' {
				i++
				expectKey = true
			}
		}
	}
	if expectKey && len(segs) > 0 {
		return nil, fmt.Errorf("path %q: trailing separator", path)
	}
	if len(segs) == 0 {
		return nil, ErrEmptyPath
	}
	return segs, nil
}

func parseIndex(raw string) (int, error) {
	if raw == "" {
		return 0, errors.New("empty index")
	}
	idx := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("index %q is not a decimal number", raw)
		}
		idx = idx*10 + int(r-'0')
		if idx > maxIndex {
			return 0, fmt.Errorf("index %q exceeds limit", raw)
		}
	}
	return idx, nil
}

// Get resolves path against root. The second return is false when any segment
// is missing, out of range or of the wrong shape. Get never mutates root and
// never panics on malformed input.
func Get(root interface{}, path string) (interface{}, bool) {
	segs, err := Split(path)
	if err != nil {
		return nil, false
	}
	cur := root
	for _, seg := range segs {
		if seg.IsIndex {
			s, ok := cur.([]interface{})
			if !ok || seg.Index >= len(s) {
				return nil, false
			}
			cur = s[seg.Index]
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, present := m[seg.Key]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Set writes value at path inside root, creating intermediate maps and
// extending slices (padding with nil) as needed. It fails when the path
// traverses an existing value of the wrong shape, for example indexing into
// a string.
func Set(root map[string]interface{}, path string, value interface{}) error {
	if root == nil {
		return errors.New("path: nil root")
	}
	segs, err := Split(path)
	if err != nil {
		return err
	}
	_, err = assign(root, segs, value)
	return err
}

// assign walks node along segs and returns the (possibly re-allocated)
// container so slice growth propagates back into the parent.
func assign(node interface{}, segs []Segment, value interface{}) (interface{}, error) {
	if len(segs) == 0 {
		return value, nil
	}
	seg := segs[0]
	if seg.IsIndex {
		var s []interface{}
		switch cur := node.(type) {
		case nil:
			s = make([]interface{}, 0, seg.Index+1)
		case []interface{}:
			s = cur
		default:
			return nil, fmt.Errorf("path: cannot index into %T at %s", node, seg)
		}
		for len(s) <= seg.Index {
			s = append(s, nil)
		}
		child, err := assign(s[seg.Index], segs[1:], value)
		if err != nil {
			return nil, err
		}
		s[seg.Index] = child
		return s, nil
	}

	var m map[string]interface{}
	switch cur := node.(type) {
	case nil:
		m = make(map[string]interface{})
	case map[string]interface{}:
		m = cur
	default:
		return nil, fmt.Errorf("path: cannot traverse %T at %q", node, seg.Key)
	}
	child, err := assign(m[seg.Key], segs[1:], value)
	if err != nil {
		return nil, err
	}
	m[seg.Key] = child
	return m, nil
}

// Delete removes the value at path. Map entries are deleted; slice elements
// are set to nil so sibling indices keep their positions. It reports whether
// anything was removed.
func Delete(root map[string]interface{}, path string) bool {
	segs, err := Split(path)
	if err != nil || root == nil {
		return false
	}

	var parent interface{} = root
	for _, seg := range segs[:len(segs)-1] {
		if seg.IsIndex {
			s, ok := parent.([]interface{})
			if !ok || seg.Index >= len(s) {
				return false
			}
			parent = s[seg.Index]
			continue
		}
		m, ok := parent.(map[string]interface{})
		if !ok {
			return false
		}
		v, present := m[seg.Key]
		if !present {
			return false
		}
		parent = v
	}

	last := segs[len(segs)-1]
	if last.IsIndex {
		s, ok := parent.([]interface{})
		if !ok || last.Index >= len(s) || s[last.Index] == nil {
			return false
		}
		s[last.Index] = nil
		return true
	}
	m, ok := parent.(map[string]interface{})
	if !ok {
		return false
	}
	if _, present := m[last.Key]; !present {
		return false
	}
	delete(m, last.Key)
	return true
}
