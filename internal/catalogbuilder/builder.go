// Package catalogbuilder implements the Catalog Builder (spec.md §4.3):
// merging the Catalog Store's config-sourced services with the Compose
// Loader's compose-sourced services into one flat, name-unique list.
package catalogbuilder

import (
	"fmt"

	"github.com/atimmer/devservers/internal/catalog"
)

// Merged is a read-through aggregation of config-sourced and compose-sourced
// services, built fresh for a single request and never cached across
// requests (spec.md §3, Catalog Snapshot).
type Merged struct {
	Services           []catalog.Service
	RegisteredProjects []catalog.Project
}

// ByName indexes the merged service list for lookup.
func (m Merged) ByName() map[string]catalog.Service {
	out := make(map[string]catalog.Service, len(m.Services))
	for _, s := range m.Services {
		out[s.Name] = s
	}
	return out
}

// Build merges configServices (source of truth: catalog.Catalog.Services)
// with composeServices (source of truth: compose.Loader.Services) into one
// flat list, rejecting any name collision between the two sources as a
// fatal catalog error (spec.md §3, §4.3, §8).
func Build(configCatalog catalog.Catalog, composeServices []catalog.Service) (Merged, error) {
	seen := make(map[string]catalog.Source, len(configCatalog.Services)+len(composeServices))

	for _, s := range configCatalog.Services {
		seen[s.Name] = catalog.SourceConfig
	}
	for _, s := range composeServices {
		if _, ok := seen[s.Name]; ok {
			return Merged{}, fmt.Errorf("service name collision: %q is defined both in configuration and by project %q", s.Name, s.ProjectName)
		}
		seen[s.Name] = catalog.SourceCompose
	}

	merged := make([]catalog.Service, 0, len(configCatalog.Services)+len(composeServices))
	for _, s := range configCatalog.Services {
		s.Source = catalog.SourceConfig
		merged = append(merged, s)
	}
	merged = append(merged, composeServices...)

	return Merged{
		Services:           merged,
		RegisteredProjects: configCatalog.RegisteredProjects,
	}, nil
}
