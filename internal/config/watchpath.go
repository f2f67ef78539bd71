package config

import "strings"

// MatchWatchPath reports whether a document path falls under a watch path
// pattern. Segments must be equal or the pattern segment must be a
// "{wildcard}".
//
//	MatchWatchPath("users/{uid}", "users/abc")          // true
//	MatchWatchPath("users/{uid}", "users/abc/orders/1") // false
func MatchWatchPath(pattern, docPath string) bool {
	ps := splitPath(pattern)
	ds := splitPath(docPath)
	if len(ps) == 0 || len(ps) != len(ds) {
		return false
	}
	for i, seg := range ps {
		if isWildcard(seg) {
			continue
		}
		if seg != ds[i] {
			return false
		}
	}
	return true
}

// CollectionPath returns the collection a watch path lists documents from:
// a trailing "{wildcard}" segment is dropped.
func CollectionPath(watchPath string) string {
	segs := splitPath(watchPath)
	if n := len(segs); n > 0 && isWildcard(segs[n-1]) {
		segs = segs[:n-1]
	}
	return strings.Join(segs, "/")
}

func splitPath(p string) []string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func isWildcard(seg string) bool {
	return len(seg) > 2 && strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}")
}
