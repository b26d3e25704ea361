package extract

import (
	"regexp"
)

// DefaultMaxDepth bounds how deep FindURL descends
const DefaultMaxDepth = 6

// PreferredKeys are checked, in order, before any other object field
var PreferredKeys = []string{
	"url", "image", "image_url", "asset_url", "uri", "file",
	"output", "outputs", "images", "result", "results", "data", "content", "path",
}

var (
	httpURL      = regexp.MustCompile(`^https?://`)
	dataImageURL = regexp.MustCompile(`^data:image/`)
)

// IsImageRef reports whether s is an http(s) URL or an image data URL
func IsImageRef(s string) bool {
	return httpURL.MatchString(s) || dataImageURL.MatchString(s)
}

// FindURL returns the first image reference in v, searching depth-first.
// Objects are searched through PreferredKeys first and then through their
// remaining fields in order. Nodes deeper than maxDepth are not visited.
func FindURL(v Value, maxDepth int) (string, bool) {
	return find(v, 0, maxDepth)
}

func find(v Value, depth, maxDepth int) (string, bool) {
	if depth > maxDepth {
		return "", false
	}

	switch v.kind {
	case KindString:
		if IsImageRef(v.str) {
			return v.str, true
		}
	case KindArray:
		for _, item := range v.items {
			if url, ok := find(item, depth+1, maxDepth); ok {
				return url, true
			}
		}
	case KindObject:
		for _, key := range PreferredKeys {
			if child, ok := v.Get(key); ok {
				if url, ok := find(child, depth+1, maxDepth); ok {
					return url, true
				}
			}
		}
		for _, f := range v.fields {
			if isPreferred(f.Key) {
				continue
			}
			if url, ok := find(f.Value, depth+1, maxDepth); ok {
				return url, true
			}
		}
	}
	return "", false
}

func isPreferred(key string) bool {
	for _, k := range PreferredKeys {
		if k == key {
			return true
		}
	}
	return false
}
