package compose

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atimmer/devservers/internal/catalog"
)

func writeComposeFile(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ComposeFileName), []byte(contents), 0o644))
}

func TestSyncLoadsServicesFromComposeFile(t *testing.T) {
	dir := t.TempDir()
	writeComposeFile(t, dir, `
services:
  web:
    command: npm start
    port: 3000
`)

	l := New()
	defer l.Close()
	l.Sync([]catalog.Project{{Name: "myapp", Path: dir}})

	// the watch+reload happens synchronously inside Sync's toCreate loop.
	services := l.Services()
	require.Len(t, services, 1)
	assert.Equal(t, "myapp_web", services[0].Name)
	assert.Equal(t, "npm start", services[0].Command)
	require.NotNil(t, services[0].Port)
	assert.Equal(t, 3000, *services[0].Port)
	assert.Equal(t, catalog.SourceCompose, services[0].Source)
}

func TestSyncRemovesUnwantedProjects(t *testing.T) {
	dir := t.TempDir()
	writeComposeFile(t, dir, `
services:
  web:
    command: npm start
`)

	l := New()
	defer l.Close()
	l.Sync([]catalog.Project{{Name: "myapp", Path: dir}})
	require.Len(t, l.Services(), 1)

	l.Sync(nil)
	assert.Empty(t, l.Services())
}

func TestParseComposeFileCommandAsList(t *testing.T) {
	services, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    command: ["npm", "run", "dev"]
`))
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "npm run dev", services[0].Command)
}

func TestParseComposeFileRewritesLocalDependsOn(t *testing.T) {
	services, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    command: npm start
    dependsOn: [db]
  db:
    command: postgres
`))
	require.NoError(t, err)

	byName := make(map[string]catalog.Service, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	require.Contains(t, byName, "myapp_web")
	require.Contains(t, byName, "myapp_db")
	assert.Equal(t, []string{"myapp_db"}, byName["myapp_web"].DependsOn)
}

func TestParseComposeFileLeavesUnknownDependsOnLiteral(t *testing.T) {
	services, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    command: npm start
    dependsOn: [external_service]
`))
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, []string{"external_service"}, services[0].DependsOn)
}

func TestParseComposeFileRewritesPortTemplateRefs(t *testing.T) {
	services, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    command: npm start
    env:
      API_URL: "http://localhost:${PORT:api}"
  api:
    command: run-api
`))
	require.NoError(t, err)

	byName := make(map[string]catalog.Service, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	assert.Equal(t, "http://localhost:${PORT:myapp_api}", byName["myapp_web"].Env["API_URL"])
}

func TestParseComposeFileRejectsMissingCommand(t *testing.T) {
	_, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    cwd: /repo/myapp
`))
	assert.Error(t, err)
}

func TestParseComposeFileRejectsInvalidEnvList(t *testing.T) {
	_, err := parseComposeFile("myapp", "/repo/myapp", []byte(`
services:
  web:
    command: npm start
    env: ["NOT_KEY_VALUE"]
`))
	assert.Error(t, err)
}

func TestReloadOnMissingComposeFileYieldsEmptyServices(t *testing.T) {
	dir := t.TempDir()
	l := New()
	defer l.Close()
	l.Sync([]catalog.Project{{Name: "myapp", Path: dir}})

	assert.Empty(t, l.Services())
}

func TestReloadRecoversFromInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeComposeFile(t, dir, "not: valid: yaml: [")

	l := New()
	defer l.Close()
	l.Sync([]catalog.Project{{Name: "myapp", Path: dir}})

	assert.Empty(t, l.Services())
}

// debounceWindow is short enough that a direct reload call after a file
// rewrite settles well within a test timeout.
func TestDebounceWindowIsShort(t *testing.T) {
	assert.Less(t, debounceWindow, 500*time.Millisecond)
}
