// Package pathutil holds the checks that decide whether a request path may
// be turned into an object store key.
package pathutil

import "strings"

// HasDotSegments reports whether any slash-separated segment is "." or "..".
func HasDotSegments(p string) bool {
	for p != "" {
		seg, rest, _ := strings.Cut(p, "/")
		if seg == "." || seg == ".." {
			return true
		}
		p = rest
	}
	return false
}

// SafeKey reports whether p can be appended to a project prefix without
// escaping it. NUL, backslashes and dot segments are rejected.
func SafeKey(p string) bool {
	return !strings.ContainsAny(p, "\x00\\") && !HasDotSegments(p)
}
