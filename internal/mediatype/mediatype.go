// Package mediatype maps asset paths to MIME types and MIME types to
// Cache-Control directives. Both lookups are total: unknown input falls back to
// a generic default and nothing here returns an error.
package mediatype

import "strings"

const (
	// Default is served for unknown or missing extensions.
	Default = "application/octet-stream"

	// HTML is the type forced onto SPA fallback responses.
	HTML = "text/html; charset=utf-8"
)

// Cache-Control directives, longest-lived first.
const (
	CacheImmutable  = "public, max-age=31536000, immutable"
	CacheDay        = "public, max-age=86400"
	CacheRevalidate = "public, max-age=0, must-revalidate"
	CacheDefault    = "public, max-age=3600"
)

var byExt = map[string]string{
	"html":  HTML,
	"css":   "text/css",
	"js":    "application/javascript",
	"json":  "application/json",
	"png":   "image/png",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"gif":   "image/gif",
	"svg":   "image/svg+xml",
	"ico":   "image/x-icon",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"ttf":   "font/ttf",
	"otf":   "font/otf",
}

// ContentType returns the MIME type for p based on the text after its last dot.
// The extension is matched case-insensitively.
func ContentType(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return Default
	}
	if t, ok := byExt[strings.ToLower(p[i+1:])]; ok {
		return t
	}
	return Default
}

// CacheControl returns the Cache-Control directive for a MIME type.
//
// images and fonts are content-addressed by the build tooling so they are cached
// for a year, scripts and styles for a day, html always revalidates.
func CacheControl(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"), strings.HasPrefix(contentType, "font/"):
		return CacheImmutable
	case strings.Contains(contentType, "javascript"), strings.Contains(contentType, "css"):
		return CacheDay
	case strings.Contains(contentType, "html"):
		return CacheRevalidate
	default:
		return CacheDefault
	}
}
