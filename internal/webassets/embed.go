package webassets

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

//go:embed templates static
var embedded embed.FS

// ListingFile is the root listing template inside TemplatesFS.
const ListingFile = "listing.html"

func TemplatesFS() fs.FS {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		panic(fmt.Errorf("webassets: templates subfs: %w", err))
	}
	return sub
}

// StaticFS holds well-known files served verbatim (robots.txt).
func StaticFS() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(fmt.Errorf("webassets: static subfs: %w", err))
	}
	return sub
}

// ListingTemplate parses the embedded listing page.
func ListingTemplate() (*template.Template, error) {
	t, err := template.ParseFS(TemplatesFS(), ListingFile)
	if err != nil {
		return nil, fmt.Errorf("webassets: parse %s: %w", ListingFile, err)
	}
	return t, nil
}
