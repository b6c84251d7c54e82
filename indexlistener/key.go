package indexlistener

import "strings"

// firstPathSegment splits basePath on '/' or '\' and returns the first
// non-empty token, or "" if there is none.
func firstPathSegment(basePath string) string {
	fields := strings.FieldsFunc(basePath, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// logicalKey is the unit of per-key serialization: container joined with
// the first path segment of basePath. Messages with empty basePath share
// the common key "<container>_".
func logicalKey(container, basePath string) string {
	return container + "_" + firstPathSegment(basePath)
}
