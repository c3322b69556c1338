package memstore

import (
	"errors"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-demos/internal/store"
	"github.com/keithlinneman/linnemanlabs-demos/internal/xerrors"
)

// MetadataFile is the per-project metadata document read by LoadDir.
const MetadataFile = "demo.yaml"

// LoadDir seeds objs and meta from a directory tree laid out as
//
//	<root>/<project>/demo.yaml
//	<root>/<project>/index.html
//	<root>/<project>/assets/...
//
// Top-level directories without a demo.yaml are skipped. Returns the project
// names that were loaded.
func LoadDir(fsys fs.FS, objs *Objects, meta *Metadata) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, xerrors.Wrap(err, "read seed dir")
	}

	var loaded []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		project := e.Name()

		raw, err := fs.ReadFile(fsys, path.Join(project, MetadataFile))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, xerrors.Wrapf(err, "read %s/%s", project, MetadataFile)
		}

		var m store.ProjectMetadata
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return loaded, xerrors.Wrapf(err, "parse %s/%s", project, MetadataFile)
		}
		if m.Name == "" {
			m.Name = project
		}
		if m.Name != project {
			return loaded, xerrors.Newf("%s/%s: name %q does not match directory", project, MetadataFile, m.Name)
		}
		if err := meta.Put(&m); err != nil {
			return loaded, xerrors.Wrapf(err, "seed metadata %s", project)
		}

		err = fs.WalkDir(fsys, project, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || p == path.Join(project, MetadataFile) {
				return nil
			}
			data, err := fs.ReadFile(fsys, p)
			if err != nil {
				return err
			}
			// fs.FS paths are already slash separated and rooted at the project dir
			objs.Put(p, data)
			return nil
		})
		if err != nil {
			return loaded, xerrors.Wrapf(err, "seed objects %s", project)
		}
		loaded = append(loaded, project)
	}
	return loaded, nil
}
