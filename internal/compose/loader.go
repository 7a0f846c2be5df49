// Package compose implements the Compose Loader (spec.md §4.2): for every
// registered project, it loads devservers-compose.yml, normalizes the
// docker-compose-shaped entries into catalog.Service values prefixed with
// the project name, watches the file for changes, and reloads on a
// debounced timer.
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/atimmer/devservers/internal/catalog"
	"github.com/atimmer/devservers/pkg/logging"
)

// ComposeFileName is the well-known compose file every registered project
// is scanned for.
const ComposeFileName = "devservers-compose.yml"

const debounceWindow = 120 * time.Millisecond

// projectState tracks one watched project's root path, parsed services, and
// fsnotify plumbing.
type projectState struct {
	root     string
	services []catalog.Service
	watcher  *fsnotify.Watcher
	timer    *time.Timer
	stopCh   chan struct{}
}

// Loader owns the compose-service cache and the filesystem watches backing
// it; it is the sole mutator of both (spec.md §3, Lifecycle and ownership).
type Loader struct {
	mu       sync.RWMutex
	projects map[string]*projectState
}

// New returns an empty Loader.
func New() *Loader {
	return &Loader{projects: make(map[string]*projectState)}
}

// Sync reconciles the set of watched projects against the given list:
// closing watchers for removed projects, creating watchers for new ones,
// and reloading any project whose root path changed (spec.md §4.2).
func (l *Loader) Sync(projects []catalog.Project) {
	l.mu.Lock()
	wanted := make(map[string]catalog.Project, len(projects))
	for _, p := range projects {
		wanted[p.Name] = p
	}

	for name, state := range l.projects {
		p, ok := wanted[name]
		if !ok || p.Path != state.root {
			l.closeLocked(name)
		}
	}

	toCreate := make([]catalog.Project, 0)
	for name, p := range wanted {
		if _, ok := l.projects[name]; !ok {
			toCreate = append(toCreate, p)
		}
	}
	l.mu.Unlock()

	for _, p := range toCreate {
		l.watch(p)
		l.reload(p.Name, p.Path)
	}
}

// closeLocked stops a project's watcher and removes its cache entry.
// Callers must hold l.mu.
func (l *Loader) closeLocked(name string) {
	state, ok := l.projects[name]
	if !ok {
		return
	}
	close(state.stopCh)
	if state.watcher != nil {
		state.watcher.Close()
	}
	delete(l.projects, name)
}

func (l *Loader) watch(p catalog.Project) {
	state := &projectState{root: p.Path, stopCh: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Error("ComposeLoader", err, "failed to create watcher for project %s", p.Name)
	} else if err := watcher.Add(p.Path); err != nil {
		logging.Error("ComposeLoader", err, "failed to watch project root %s", p.Path)
		watcher.Close()
		watcher = nil
	}
	state.watcher = watcher

	l.mu.Lock()
	l.projects[p.Name] = state
	l.mu.Unlock()

	if watcher == nil {
		return
	}

	go l.watchLoop(p.Name, state)
}

func (l *Loader) watchLoop(name string, state *projectState) {
	for {
		select {
		case <-state.stopCh:
			return
		case event, ok := <-state.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != ComposeFileName {
				continue
			}
			l.debounceReload(name, state)
		case err, ok := <-state.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ComposeLoader", err, "watcher error for project %s", name)
		}
	}
}

func (l *Loader) debounceReload(name string, state *projectState) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if state.timer != nil {
		state.timer.Stop()
	}
	root := state.root
	state.timer = time.AfterFunc(debounceWindow, func() {
		l.reload(name, root)
	})
}

// reload parses the project's compose file (if any) and replaces its cached
// service list. A parse failure reduces the project's services to empty and
// logs the error; the watcher is left running (spec.md §4.2, §7).
func (l *Loader) reload(name, root string) {
	path := filepath.Join(root, ComposeFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		l.setServices(name, nil)
		return
	}

	services, err := parseComposeFile(name, root, data)
	if err != nil {
		logging.Error("ComposeLoader", err, "failed to parse compose file for project %s", name)
		l.setServices(name, nil)
		return
	}
	l.setServices(name, services)
}

func (l *Loader) setServices(name string, services []catalog.Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.projects[name]; ok {
		state.services = services
	}
}

// Services returns a snapshot of every compose-sourced service across all
// watched projects.
func (l *Loader) Services() []catalog.Service {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var all []catalog.Service
	for _, state := range l.projects {
		all = append(all, state.services...)
	}
	return all
}

// Close stops every watcher. Intended for daemon shutdown.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range l.projects {
		l.closeLocked(name)
	}
}

// parseComposeFile normalizes a devservers-compose.yml document into
// prefixed catalog.Service values (spec.md §4.2, §6, §8).
func parseComposeFile(projectName, root string, data []byte) ([]catalog.Service, error) {
	var doc struct {
		Services map[string]yaml.Node `yaml:"services"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	localNames := make(map[string]bool, len(doc.Services))
	for localName := range doc.Services {
		localNames[localName] = true
	}

	var services []catalog.Service
	for localName, node := range doc.Services {
		var raw map[string]interface{}
		if err := node.Decode(&raw); err != nil {
			return nil, fmt.Errorf("service %q: %w", localName, err)
		}

		svc, err := buildComposeService(projectName, root, localName, raw, localNames)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func buildComposeService(projectName, root, localName string, raw map[string]interface{}, localNames map[string]bool) (catalog.Service, error) {
	command, err := stringOrJoinedList(raw["command"])
	if err != nil || command == "" {
		return catalog.Service{}, fmt.Errorf("service %q: command is required", localName)
	}

	cwd := firstString(raw, "cwd", "working_dir", "working-dir")
	if cwd == "" {
		cwd = root
	} else if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(root, cwd)
	}

	deps := extractDependsOn(raw)
	rewrittenDeps := make([]string, 0, len(deps))
	for _, dep := range deps {
		if localNames[dep] {
			rewrittenDeps = append(rewrittenDeps, prefixed(projectName, dep))
		} else {
			logging.Warn("ComposeLoader", "service %s/%s depends on unknown local service %q; left as-is", projectName, localName, dep)
			rewrittenDeps = append(rewrittenDeps, dep)
		}
	}

	env, err := extractEnv(raw)
	if err != nil {
		return catalog.Service{}, fmt.Errorf("service %q: %w", localName, err)
	}
	for k, v := range env {
		env[k] = rewritePortTemplateRefs(v, projectName, localNames)
	}

	var port *int
	if rawPort, ok := raw["port"]; ok {
		p, err := toInt(rawPort)
		if err != nil {
			return catalog.Service{}, fmt.Errorf("service %q: invalid port: %w", localName, err)
		}
		port = &p
	}

	portMode := catalog.PortMode(firstString(raw, "portMode", "port_mode", "port-mode"))

	return catalog.Service{
		Name:        prefixed(projectName, localName),
		Cwd:         cwd,
		Command:     command,
		Env:         env,
		Port:        port,
		PortMode:    portMode,
		DependsOn:   rewrittenDeps,
		Source:      catalog.SourceCompose,
		ProjectName: projectName,
		ComposeFile: filepath.Join(root, ComposeFileName),
		Raw:         raw,
	}, nil
}

func prefixed(projectName, localName string) string {
	return projectName + "_" + localName
}

// rewritePortTemplateRefs scans value for ${PORT:<name>} tokens and rewrites
// those naming a local service to the project-prefixed name; other tokens
// are left as they are (spec.md §4.2, §8).
func rewritePortTemplateRefs(value, projectName string, localNames map[string]bool) string {
	const prefix = "${PORT:"
	var b strings.Builder
	rest := value
	for {
		idx := strings.Index(rest, prefix)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[idx:], "}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += idx
		name := rest[idx+len(prefix) : end]
		b.WriteString(rest[:idx])
		if localNames[name] {
			b.WriteString("${PORT:" + prefixed(projectName, name) + "}")
		} else {
			b.WriteString(rest[idx : end+1])
		}
		rest = rest[end+1:]
	}
	return b.String()
}

func extractDependsOn(raw map[string]interface{}) []string {
	val, ok := raw["dependsOn"]
	if !ok {
		val, ok = raw["depends_on"]
	}
	if !ok {
		val, ok = raw["depends-on"]
	}
	if !ok {
		return nil
	}

	switch v := val.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case map[string]interface{}:
		out := make([]string, 0, len(v))
		for k := range v {
			out = append(out, k)
		}
		return out
	default:
		return nil
	}
}

func extractEnv(raw map[string]interface{}) (map[string]string, error) {
	val, ok := raw["env"]
	if !ok {
		val, ok = raw["environment"]
	}
	if !ok {
		return nil, nil
	}

	out := make(map[string]string)
	switch v := val.(type) {
	case map[string]interface{}:
		for k, item := range v {
			out[k] = fmt.Sprintf("%v", item)
		}
	case []interface{}:
		for _, item := range v {
			line := fmt.Sprintf("%v", item)
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				return nil, fmt.Errorf("invalid env entry %q: expected KEY=VALUE", line)
			}
			out[parts[0]] = parts[1]
		}
	default:
		return nil, fmt.Errorf("env must be a map or a list of KEY=VALUE strings")
	}
	return out, nil
}

func stringOrJoinedList(val interface{}) (string, error) {
	switch v := val.(type) {
	case string:
		return v, nil
	case []interface{}:
		tokens := make([]string, 0, len(v))
		for _, item := range v {
			tokens = append(tokens, fmt.Sprintf("%v", item))
		}
		return strings.Join(tokens, " "), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("command must be a string or a list of strings")
	}
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func toInt(val interface{}) (int, error) {
	switch v := val.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
