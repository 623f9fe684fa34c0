// Package pathutil holds component-aware helpers for slash-separated absolute
// paths. Physical (volume-relative) paths and VFS paths share these rules: a
// path component is never split, and "/" is an ancestor of everything.
package pathutil

import (
	"path"
	"strings"
)

// Clean returns the lexically cleaned absolute form of p. A relative p is
// treated as relative to "/".
func Clean(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// Within reports whether p equals ancestor or lies below it. Comparison is
// per component, so "/dir-20" is not within "/dir-2".
func Within(p, ancestor string) bool {
	p, ancestor = Clean(p), Clean(ancestor)
	if ancestor == "/" || p == ancestor {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// CommonAncestor returns the longest path that both a and b are within.
func CommonAncestor(a, b string) string {
	ac, bc := components(a), components(b)
	n := 0
	for n < len(ac) && n < len(bc) && ac[n] == bc[n] {
		n++
	}
	return "/" + strings.Join(ac[:n], "/")
}

// Rel returns target relative to base. A path relative to itself is the
// empty string, not ".". ok is false when target is not within base.
func Rel(base, target string) (rel string, ok bool) {
	base, target = Clean(base), Clean(target)
	if !Within(target, base) {
		return "", false
	}
	if base == target {
		return "", true
	}
	if base == "/" {
		return target[1:], true
	}
	return target[len(base)+1:], true
}

// Join appends the non-empty relative elements to base and cleans the result.
// Leading slashes on elements are ignored, so Join("/a", "/b") is "/a/b".
func Join(base string, elems ...string) string {
	parts := []string{Clean(base)}
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return path.Clean(strings.Join(parts, "/"))
}

// Compare orders paths component by component, so that every path sorts
// directly before the paths within it: "/d" < "/d/x" < "/d-2".
func Compare(a, b string) int {
	ac, bc := components(a), components(b)
	for i := 0; i < len(ac) && i < len(bc); i++ {
		if c := strings.Compare(ac[i], bc[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(ac) < len(bc):
		return -1
	case len(ac) > len(bc):
		return 1
	default:
		return 0
	}
}

func components(p string) []string {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}
