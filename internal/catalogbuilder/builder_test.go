package catalogbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atimmer/devservers/internal/catalog"
)

func TestBuildMergesBothSources(t *testing.T) {
	configCatalog := catalog.Catalog{
		Services: []catalog.Service{{Name: "db", Cwd: "/x", Command: "postgres"}},
	}
	composeServices := []catalog.Service{
		{Name: "myapp_web", Cwd: "/y", Command: "npm start", Source: catalog.SourceCompose, ProjectName: "myapp"},
	}

	merged, err := Build(configCatalog, composeServices)
	require.NoError(t, err)
	assert.Len(t, merged.Services, 2)

	byName := merged.ByName()
	assert.Equal(t, catalog.SourceConfig, byName["db"].Source)
	assert.Equal(t, catalog.SourceCompose, byName["myapp_web"].Source)
}

func TestBuildRejectsNameCollision(t *testing.T) {
	configCatalog := catalog.Catalog{
		Services: []catalog.Service{{Name: "web", Cwd: "/x", Command: "run"}},
	}
	composeServices := []catalog.Service{
		{Name: "web", Cwd: "/y", Command: "run2", ProjectName: "myapp"},
	}

	_, err := Build(configCatalog, composeServices)
	assert.Error(t, err)
}

func TestBuildPreservesRegisteredProjects(t *testing.T) {
	configCatalog := catalog.Catalog{
		RegisteredProjects: []catalog.Project{{Name: "myapp", Path: "/repo"}},
	}
	merged, err := Build(configCatalog, nil)
	require.NoError(t, err)
	require.Len(t, merged.RegisteredProjects, 1)
	assert.Equal(t, "myapp", merged.RegisteredProjects[0].Name)
}
