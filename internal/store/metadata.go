package store

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// ProjectMetadata describes a deployed demo project. It is written by the
// deployment process and read-only to the router.
type ProjectMetadata struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Updated     time.Time `json:"updated" yaml:"updated"`
	GitHub      string    `json:"github,omitempty" yaml:"github,omitempty"`
	Featured    bool      `json:"featured,omitempty" yaml:"featured,omitempty"`
}

// wire form, updated is kept as a string so we can report a useful error
type metadataDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Updated     string `json:"updated"`
	GitHub      string `json:"github"`
	Featured    bool   `json:"featured"`
}

// DecodeMetadata parses and validates a metadata document stored under key.
// A missing name is filled from key.
func DecodeMetadata(key string, data []byte) (*ProjectMetadata, error) {
	var doc metadataDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrapf(err, "decode metadata %q", key)
	}

	m := &ProjectMetadata{
		Name:        strings.TrimSpace(doc.Name),
		Description: doc.Description,
		GitHub:      strings.TrimSpace(doc.GitHub),
		Featured:    doc.Featured,
	}
	if m.Name == "" {
		m.Name = key
	}
	if doc.Updated != "" {
		t, err := time.Parse(time.RFC3339, doc.Updated)
		if err != nil {
			return nil, xerrors.Wrapf(err, "metadata %q: invalid updated timestamp", key)
		}
		m.Updated = t
	}
	if err := m.Validate(); err != nil {
		return nil, xerrors.Wrapf(err, "metadata %q", key)
	}
	return m, nil
}

// Validate checks fields that cannot be trusted implicitly.
func (m *ProjectMetadata) Validate() error {
	if m.Name == "" {
		return xerrors.New("name is required")
	}
	if strings.ContainsAny(m.Name, "/\\") {
		return xerrors.Newf("name %q must be a single path segment", m.Name)
	}
	if m.Updated.IsZero() {
		return xerrors.New("updated is required")
	}
	if m.GitHub != "" {
		u, err := url.Parse(m.GitHub)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return xerrors.Newf("github must be an http(s) URL (got %q)", m.GitHub)
		}
	}
	return nil
}

// EncodeMetadata renders m in the stored JSON form. Used by seeding and tests.
func EncodeMetadata(m *ProjectMetadata) ([]byte, error) {
	doc := metadataDoc{
		Name:        m.Name,
		Description: m.Description,
		Updated:     m.Updated.UTC().Format(time.RFC3339),
		GitHub:      m.GitHub,
		Featured:    m.Featured,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, xerrors.Wrap(err, "encode metadata")
	}
	return b, nil
}
