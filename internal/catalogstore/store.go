// Package catalogstore implements the Catalog Store (spec.md §4.1): reading,
// validating, and atomically rewriting the primary JSON configuration file,
// plus pure upsert/remove helpers over catalog.Catalog.
package catalogstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/atimmer/devservers/internal/catalog"
	"github.com/atimmer/devservers/pkg/logging"
)

const schemaVersion = 1

// DefaultPath returns the OS-dependent default configuration file location
// (spec.md §4.1), honoring DEVSERVERS_CONFIG_PATH as an override.
func DefaultPath() string {
	if p := os.Getenv("DEVSERVERS_CONFIG_PATH"); p != "" {
		return p
	}

	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Devservers Manager", "devservers.json")
	case "windows":
		appData := os.Getenv("APPDATA")
		return filepath.Join(appData, "Devservers Manager", "devservers.json")
	default:
		xdg := os.Getenv("XDG_CONFIG_HOME")
		if xdg == "" {
			home, _ := os.UserHomeDir()
			xdg = filepath.Join(home, ".config")
		}
		return filepath.Join(xdg, "devservers", "devservers.json")
	}
}

// rawCatalog mirrors catalog.Catalog's on-disk shape. Read does not decode
// into it: Read decodes the top level leniently and the services array with
// unknown-field rejection, so that an unknown service key fails validation
// while an unknown top-level key is silently ignored (spec.md §6).
type rawCatalog struct {
	Version            int               `json:"version"`
	Services           []catalog.Service `json:"services"`
	RegisteredProjects []catalog.Project `json:"registeredProjects,omitempty"`
}

// Read loads and validates the catalog at path. A missing file yields an
// empty, valid catalog rather than an error.
func Read(path string) (catalog.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog.Catalog{Version: schemaVersion}, nil
		}
		return catalog.Catalog{}, fmt.Errorf("read catalog %s: %w", path, err)
	}

	// First pass: tolerate unknown top-level keys.
	var loose struct {
		Version            int               `json:"version"`
		Services           json.RawMessage   `json:"services"`
		RegisteredProjects []catalog.Project `json:"registeredProjects"`
	}
	if err := json.Unmarshal(data, &loose); err != nil {
		return catalog.Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}

	var services []catalog.Service
	if len(loose.Services) > 0 {
		dec := json.NewDecoder(bytes.NewReader(loose.Services))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&services); err != nil {
			return catalog.Catalog{}, fmt.Errorf("parse catalog %s: invalid service definition: %w", path, err)
		}
	}

	c := catalog.Catalog{
		Version:            loose.Version,
		Services:           services,
		RegisteredProjects: loose.RegisteredProjects,
	}
	if err := validate(c); err != nil {
		return catalog.Catalog{}, err
	}
	return c, nil
}

// Write validates and atomically rewrites the catalog at path: serialize
// pretty-printed with a trailing newline, write to a sibling temp file,
// then rename into place.
func Write(path string, c catalog.Catalog) error {
	if err := validate(c); err != nil {
		return err
	}
	if c.Version == 0 {
		c.Version = schemaVersion
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".devservers-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}

	logging.Info("CatalogStore", "wrote %d services, %d projects to %s", len(c.Services), len(c.RegisteredProjects), path)
	return nil
}

func validate(c catalog.Catalog) error {
	seenServices := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if err := s.Validate(); err != nil {
			return err
		}
		if seenServices[s.Name] {
			return fmt.Errorf("duplicate service name %q", s.Name)
		}
		seenServices[s.Name] = true
	}

	seenProjects := make(map[string]bool, len(c.RegisteredProjects))
	for _, p := range c.RegisteredProjects {
		if err := p.Validate(); err != nil {
			return err
		}
		if seenProjects[p.Name] {
			return fmt.Errorf("duplicate project name %q", p.Name)
		}
		seenProjects[p.Name] = true
	}
	return nil
}

// UpsertService returns a new Catalog with svc inserted or replacing the
// existing service of the same name. When svc.LastStartedAt is unset, the
// previous value (if any) is preserved (spec.md §4.1, §8).
func UpsertService(c catalog.Catalog, svc catalog.Service) catalog.Catalog {
	out := c
	out.Services = make([]catalog.Service, len(c.Services))
	copy(out.Services, c.Services)

	for i, existing := range out.Services {
		if existing.Name == svc.Name {
			if svc.LastStartedAt == nil {
				svc.LastStartedAt = existing.LastStartedAt
			}
			out.Services[i] = svc
			return out
		}
	}
	out.Services = append(out.Services, svc)
	return out
}

// RemoveService returns a new Catalog with the named service removed. It is
// a no-op if the name is not present.
func RemoveService(c catalog.Catalog, name string) catalog.Catalog {
	out := c
	out.Services = make([]catalog.Service, 0, len(c.Services))
	for _, s := range c.Services {
		if s.Name != name {
			out.Services = append(out.Services, s)
		}
	}
	return out
}

// UpsertProject returns a new Catalog with project inserted or replacing the
// existing project of the same name.
func UpsertProject(c catalog.Catalog, project catalog.Project) catalog.Catalog {
	out := c
	out.RegisteredProjects = make([]catalog.Project, len(c.RegisteredProjects))
	copy(out.RegisteredProjects, c.RegisteredProjects)

	for i, existing := range out.RegisteredProjects {
		if existing.Name == project.Name {
			out.RegisteredProjects[i] = project
			return out
		}
	}
	out.RegisteredProjects = append(out.RegisteredProjects, project)
	return out
}

// RemoveProject returns a new Catalog with the named project removed.
func RemoveProject(c catalog.Catalog, name string) catalog.Catalog {
	out := c
	out.RegisteredProjects = make([]catalog.Project, 0, len(c.RegisteredProjects))
	for _, p := range c.RegisteredProjects {
		if p.Name != name {
			out.RegisteredProjects = append(out.RegisteredProjects, p)
		}
	}
	return out
}
