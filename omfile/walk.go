package omfile

import "strings"

// ChildByPath resolves a "/"-separated path of child names starting from
// r, e.g. "group/temperature". A leading "/" and empty segments produced
// by repeated slashes are ignored. An empty path returns r itself.
func ChildByPath(r *Reader, path string) (*Reader, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return r, nil
	}
	cur := r
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		next, err := cur.ChildByName(part)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// Walk visits r and every descendant in the variable tree, depth-first,
// calling fn with the path of child names leading from r to each visited
// node; r itself is visited with an empty path, whatever its own name.
// Walk stops and returns fn's error as soon as fn returns non-nil.
func Walk(r *Reader, fn func(path []string, node *Reader) error) error {
	return walk(r, nil, fn)
}

func walk(r *Reader, path []string, fn func([]string, *Reader) error) error {
	if err := fn(path, r); err != nil {
		return err
	}
	for i := 0; i < r.ChildrenCount(); i++ {
		child, err := r.Child(i)
		if err != nil {
			return err
		}
		childPath := append(append([]string(nil), path...), child.Name())
		if err := walk(child, childPath, fn); err != nil {
			return err
		}
	}
	return nil
}
