// Package orchestrator implements the Orchestrator (spec.md §4.8): the
// component the API Surface calls into for every request. It owns no
// long-lived catalog state of its own — every call takes a fresh Snapshot
// from the Catalog Store and Compose Loader — but it does hold the runtime
// state that has nowhere else to live: ports discovered by the Log Detector,
// the lastStartedAt timestamp for compose-sourced services (which the
// Catalog Store never persists), and the background detector goroutines
// spawned by a start.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atimmer/devservers/internal/apierr"
	"github.com/atimmer/devservers/internal/catalog"
	"github.com/atimmer/devservers/internal/catalogbuilder"
	"github.com/atimmer/devservers/internal/catalogstore"
	"github.com/atimmer/devservers/internal/compose"
	"github.com/atimmer/devservers/internal/dependency"
	"github.com/atimmer/devservers/internal/detector"
	"github.com/atimmer/devservers/internal/portregistry"
	"github.com/atimmer/devservers/internal/porttemplate"
	"github.com/atimmer/devservers/internal/supervisor"
	"github.com/atimmer/devservers/pkg/logging"
)

// Orchestrator wires the Catalog Store, Compose Loader, Dependency Graph,
// Port Registry, Template Engine, Process Supervisor, and Log Detector
// together into the Start/Stop/Restart semantics of spec.md §4.8.
type Orchestrator struct {
	configPath   string
	registryPath string
	compose      *compose.Loader
	supervisor   *supervisor.Supervisor

	// writeMu serializes config-file mutations (catalog upserts, lastStartedAt
	// bookkeeping) so concurrent requests don't race a read-modify-write
	// cycle against the same file (spec.md §5, single-writer discipline).
	writeMu sync.Mutex

	runtimeMu        sync.RWMutex
	detectedPorts    map[string]int
	composeStartedAt map[string]time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// Option configures an Orchestrator at construction time, the same
// functional-options shape the teacher's pkg/oauth.Client uses for its own
// optional collaborators.
type Option func(*Orchestrator)

// WithSupervisor overrides the Process Supervisor, letting tests substitute
// one backed by a fake tmux Runner instead of shelling out for real.
func WithSupervisor(s *supervisor.Supervisor) Option {
	return func(o *Orchestrator) { o.supervisor = s }
}

// New returns an Orchestrator rooted at configPath, using the default
// sibling port-registry.json location.
func New(configPath string, opts ...Option) *Orchestrator {
	bgCtx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		configPath:       configPath,
		registryPath:     portregistry.DefaultPath(configPath),
		compose:          compose.New(),
		supervisor:       supervisor.New(),
		detectedPorts:    make(map[string]int),
		composeStartedAt: make(map[string]time.Time),
		bgCtx:            bgCtx,
		bgCancel:         cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Close cancels any in-flight background detections and stops the compose
// file watchers. Intended for daemon shutdown.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.compose.Close()
}

// snapshot re-reads the configuration file, reconciles the compose watchers
// against its registered projects, merges the two sources, and builds the
// dependency graph — the read side of every request (spec.md §3, "Catalog
// Snapshot").
func (o *Orchestrator) snapshot() (catalogbuilder.Merged, *dependency.Graph, error) {
	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return catalogbuilder.Merged{}, nil, apierr.Wrap(err)
	}

	o.compose.Sync(c.RegisteredProjects)

	merged, err := catalogbuilder.Build(c, o.compose.Services())
	if err != nil {
		return catalogbuilder.Merged{}, nil, apierr.Wrap(err)
	}

	graph, err := dependency.Build(merged.Services)
	if err != nil {
		return catalogbuilder.Merged{}, nil, apierr.Wrap(err)
	}

	return merged, graph, nil
}

// List returns every known service annotated with its observed status and
// resolved port (spec.md §6, GET /services).
func (o *Orchestrator) List(ctx context.Context) ([]ServiceInfo, error) {
	merged, _, err := o.snapshot()
	if err != nil {
		return nil, err
	}

	infos := make([]ServiceInfo, 0, len(merged.Services))
	for _, s := range merged.Services {
		infos = append(infos, o.describe(ctx, s, merged))
	}
	return infos, nil
}

// GetService returns a single service's projection, or a NotFound error.
func (o *Orchestrator) GetService(ctx context.Context, name string) (ServiceInfo, error) {
	merged, _, err := o.snapshot()
	if err != nil {
		return ServiceInfo{}, err
	}
	svc, ok := merged.ByName()[name]
	if !ok {
		return ServiceInfo{}, apierr.NotFound("service %q not found", name)
	}
	return o.describe(ctx, svc, merged), nil
}

// GetServiceConfig returns the raw, source-of-truth definition for a single
// service (spec.md §6, GET /services/:name/config).
func (o *Orchestrator) GetServiceConfig(name string) (ServiceConfig, error) {
	merged, _, err := o.snapshot()
	if err != nil {
		return ServiceConfig{}, err
	}
	svc, ok := merged.ByName()[name]
	if !ok {
		return ServiceConfig{}, apierr.NotFound("service %q not found", name)
	}

	cfg := ServiceConfig{
		Source:      svc.Source,
		ServiceName: svc.Name,
		ProjectName: svc.ProjectName,
	}
	if svc.Source == catalog.SourceCompose {
		cfg.Path = svc.ComposeFile
		cfg.Definition = svc.Raw
	} else {
		cfg.Path = o.configPath
		cfg.Definition = svc
	}
	return cfg, nil
}

func (o *Orchestrator) describe(ctx context.Context, s catalog.Service, merged catalogbuilder.Merged) ServiceInfo {
	info := ServiceInfo{
		Name:          s.Name,
		Source:        s.Source,
		ProjectName:   s.ProjectName,
		Cwd:           s.Cwd,
		Command:       s.Command,
		Env:           s.Env,
		PortMode:      s.EffectivePortMode(),
		DependsOn:     s.DependsOn,
		Status:        o.supervisor.GetStatus(ctx, s.Name),
		LastStartedAt: s.LastStartedAt,
	}

	if port, ok := o.knownPort(s); ok {
		info.Port = port
	}
	if s.Source == catalog.SourceCompose {
		if t, ok := o.getComposeStartedAt(s.Name); ok {
			info.LastStartedAt = &t
		}
	}
	return info
}

// knownPort returns the best currently-known port for s without allocating
// one: a Log Detector result if present, else the declared port, else (for
// registry mode) whatever the registry file already holds.
func (o *Orchestrator) knownPort(s catalog.Service) (int, bool) {
	if p, ok := o.getDetectedPort(s.Name); ok {
		return p, true
	}
	if s.Port != nil {
		return *s.Port, true
	}
	if s.EffectivePortMode() == catalog.PortModeRegistry {
		f, err := portregistry.Read(o.registryPath, false)
		if err == nil {
			if p, ok := f.Services[s.Name]; ok {
				return p, true
			}
		}
	}
	return 0, false
}

func (o *Orchestrator) getDetectedPort(name string) (int, bool) {
	o.runtimeMu.RLock()
	defer o.runtimeMu.RUnlock()
	p, ok := o.detectedPorts[name]
	return p, ok
}

func (o *Orchestrator) setDetectedPort(name string, port int) {
	o.runtimeMu.Lock()
	defer o.runtimeMu.Unlock()
	o.detectedPorts[name] = port
}

func (o *Orchestrator) getComposeStartedAt(name string) (time.Time, bool) {
	o.runtimeMu.RLock()
	defer o.runtimeMu.RUnlock()
	t, ok := o.composeStartedAt[name]
	return t, ok
}

func (o *Orchestrator) setComposeStartedAt(name string, t time.Time) {
	o.runtimeMu.Lock()
	defer o.runtimeMu.Unlock()
	o.composeStartedAt[name] = t
}

// buildServicePortMap returns the best-known port for every merged service,
// for named ${PORT:other} template expansion.
func (o *Orchestrator) buildServicePortMap(merged catalogbuilder.Merged) map[string]int {
	out := make(map[string]int, len(merged.Services))
	for _, s := range merged.Services {
		if p, ok := o.knownPort(s); ok {
			out[s.Name] = p
		}
	}
	return out
}

// resolvePort resolves svc's port for this start according to its port mode
// (spec.md §4.4). Static and detect modes never allocate; registry mode
// allocates (or returns the existing allocation) from the shared file.
func (o *Orchestrator) resolvePort(svc catalog.Service, merged catalogbuilder.Merged) (int, error) {
	switch svc.EffectivePortMode() {
	case catalog.PortModeStatic:
		if svc.Port == nil {
			return 0, nil
		}
		return *svc.Port, nil

	case catalog.PortModeDetect:
		if p, ok := o.getDetectedPort(svc.Name); ok {
			return p, nil
		}
		if svc.Port != nil {
			return *svc.Port, nil
		}
		return 0, nil

	case catalog.PortModeRegistry:
		reserved := map[int]bool{}
		for _, s := range merged.Services {
			if s.Name != svc.Name && s.Port != nil {
				reserved[*s.Port] = true
			}
		}
		port, err := portregistry.EnsurePort(o.registryPath, svc.Name, portregistry.EnsureOptions{
			CreateIfMissing: true,
			Reserved:        reserved,
		})
		if err != nil {
			return 0, apierr.Registry(err)
		}
		return port, nil

	default:
		return 0, nil
	}
}

// recordStart marks svc as freshly started: persisted lastStartedAt for
// config-sourced services, an in-memory timestamp for compose-sourced ones,
// and — for detect-mode services — a background Log Detector scan that
// records the discovered port once the process announces it (spec.md §4.7,
// §4.8).
func (o *Orchestrator) recordStart(svc catalog.Service) {
	now := time.Now()
	if svc.Source == catalog.SourceConfig {
		if err := o.updateLastStartedAt(svc.Name, now); err != nil {
			logging.Warn("Orchestrator", "failed to persist lastStartedAt for %s: %v", svc.Name, err)
		}
	} else {
		o.setComposeStartedAt(svc.Name, now)
	}

	if svc.EffectivePortMode() == catalog.PortModeDetect {
		o.scheduleDetection(svc)
	}
}

func (o *Orchestrator) updateLastStartedAt(name string, t time.Time) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return err
	}
	for _, s := range c.Services {
		if s.Name == name {
			s.LastStartedAt = &t
			c = catalogstore.UpsertService(c, s)
			return catalogstore.Write(o.configPath, c)
		}
	}
	return nil
}

// scheduleDetection spawns a background Log Detector scan for svc, bound to
// the Orchestrator's lifetime rather than the triggering request's (spec.md
// §4.7, "Lifetime"). Each scan carries a correlation id so its log lines can
// be tied together across the ~15s polling window.
func (o *Orchestrator) scheduleDetection(svc catalog.Service) {
	name := svc.Name
	taskID := uuid.NewString()
	go func() {
		capture := func() string {
			return o.supervisor.CapturePane(o.bgCtx, name, 500, false)
		}
		logging.Debug("Orchestrator", "log detector %s started for %s", taskID, name)
		port, ok := detector.Detect(o.bgCtx, capture)
		if !ok {
			logging.Debug("Orchestrator", "log detector %s found no port for %s", taskID, name)
			return
		}
		o.setDetectedPort(name, port)
		if svc.Source == catalog.SourceConfig {
			if err := o.persistDetectedPort(name, port); err != nil {
				logging.Warn("Orchestrator", "log detector %s: failed to persist detected port for %s: %v", taskID, name, err)
			}
		}
		logging.Info("Orchestrator", "log detector %s detected port %d for service %s", taskID, port, name)
	}()
}

func (o *Orchestrator) persistDetectedPort(name string, port int) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return err
	}
	for _, s := range c.Services {
		if s.Name == name {
			s.Port = &port
			c = catalogstore.UpsertService(c, s)
			return catalogstore.Write(o.configPath, c)
		}
	}
	return nil
}

// startOne resolves svc's port and env, builds its shell command, and asks
// the supervisor to materialize it, recording bookkeeping on success. It is
// the unit both Start and Restart's dependency pass share.
func (o *Orchestrator) startOne(ctx context.Context, svc catalog.Service, merged catalogbuilder.Merged) error {
	port, err := o.resolvePort(svc, merged)
	if err != nil {
		return err
	}

	servicePorts := o.buildServicePortMap(merged)
	expandedEnv := porttemplate.ApplyEnv(svc.Env, port, servicePorts)
	resolvedCommand := supervisor.BuildCommand(svc, expandedEnv)

	started, err := o.supervisor.Start(ctx, svc, resolvedCommand)
	if err != nil {
		return apierr.Supervisor(fmt.Errorf("start %s: %w", svc.Name, err))
	}
	if started {
		o.recordStart(svc)
	}
	return nil
}

// Start implements spec.md §4.8 Start(name): every strict dependency of name,
// then name itself, in dependency-first topological order. The first failure
// aborts the remaining targets.
func (o *Orchestrator) Start(ctx context.Context, name string) error {
	merged, graph, err := o.snapshot()
	if err != nil {
		return err
	}
	if _, ok := graph.Service(name); !ok {
		return apierr.NotFound("service %q not found", name)
	}

	order := graph.TopoSort(graph.CollectDependencies(name))
	for _, svcName := range order {
		svc, _ := graph.Service(svcName)
		if err := o.startOne(ctx, svc, merged); err != nil {
			return err
		}
	}
	return nil
}

// Stop implements spec.md §4.8 Stop(name): name and every transitive
// dependent, in reverse topological order (dependents before their
// dependency), so nothing is left running against a service that just went
// away. Individual supervisor failures are logged, not fatal.
func (o *Orchestrator) Stop(ctx context.Context, name string) error {
	_, graph, err := o.snapshot()
	if err != nil {
		return err
	}
	if _, ok := graph.Service(name); !ok {
		return apierr.NotFound("service %q not found", name)
	}

	order := graph.TopoSort(graph.CollectDependents(name))
	for i := len(order) - 1; i >= 0; i-- {
		if err := o.supervisor.Stop(ctx, order[i]); err != nil {
			logging.Warn("Orchestrator", "stop %s failed (tolerated): %v", order[i], err)
		}
	}
	return nil
}

// Restart implements spec.md §4.8 Restart(name): start any strict dependency
// that isn't already running, then restart name itself regardless of its
// current state.
func (o *Orchestrator) Restart(ctx context.Context, name string) error {
	merged, graph, err := o.snapshot()
	if err != nil {
		return err
	}
	svc, ok := graph.Service(name)
	if !ok {
		return apierr.NotFound("service %q not found", name)
	}

	deps := graph.CollectDependencies(name)
	delete(deps, name)
	for _, depName := range graph.TopoSort(deps) {
		depSvc, _ := graph.Service(depName)
		if o.supervisor.GetStatus(ctx, depName) == catalog.StatusRunning {
			continue
		}
		if err := o.startOne(ctx, depSvc, merged); err != nil {
			return err
		}
	}

	port, err := o.resolvePort(svc, merged)
	if err != nil {
		return err
	}
	servicePorts := o.buildServicePortMap(merged)
	expandedEnv := porttemplate.ApplyEnv(svc.Env, port, servicePorts)
	resolvedCommand := supervisor.BuildCommand(svc, expandedEnv)

	started, err := o.supervisor.Restart(ctx, svc, resolvedCommand)
	if err != nil {
		return apierr.Supervisor(fmt.Errorf("restart %s: %w", name, err))
	}
	if started {
		o.recordStart(svc)
	}
	return nil
}

// CapturePane exposes the raw pane scrollback for the logs endpoints
// (spec.md §6, §C supplemented capture endpoint).
func (o *Orchestrator) CapturePane(ctx context.Context, name string, lines int, ansi bool) (string, error) {
	merged, _, err := o.snapshot()
	if err != nil {
		return "", err
	}
	if _, ok := merged.ByName()[name]; !ok {
		return "", apierr.NotFound("service %q not found", name)
	}
	return o.supervisor.CapturePane(ctx, name, lines, ansi), nil
}

// UpsertService validates and persists a config-sourced service definition,
// rejecting an attempt to shadow a compose-sourced name (spec.md §6, POST
// /services and PUT /services/:name).
func (o *Orchestrator) UpsertService(svc catalog.Service) error {
	if err := svc.Validate(); err != nil {
		return apierr.Validation("%s", err.Error())
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return apierr.Wrap(err)
	}

	for _, composeSvc := range o.compose.Services() {
		if composeSvc.Name == svc.Name {
			return apierr.ConflictWithCompose("service %q is defined by project %q; edit its compose file instead", svc.Name, composeSvc.ProjectName)
		}
	}

	svc.Source = catalog.SourceConfig
	c = catalogstore.UpsertService(c, svc)
	if err := catalogstore.Write(o.configPath, c); err != nil {
		return apierr.Wrap(err)
	}
	return nil
}

// RemoveService deletes a config-sourced service definition. Removing a
// compose-sourced service is rejected: it must be edited at its source
// (spec.md §6, DELETE /services/:name).
func (o *Orchestrator) RemoveService(name string) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return apierr.Wrap(err)
	}

	for _, composeSvc := range o.compose.Services() {
		if composeSvc.Name == name {
			return apierr.ConflictWithCompose("service %q is defined by project %q; edit its compose file instead", name, composeSvc.ProjectName)
		}
	}

	found := false
	for _, s := range c.Services {
		if s.Name == name {
			found = true
			break
		}
	}
	if !found {
		return apierr.NotFound("service %q not found", name)
	}

	c = catalogstore.RemoveService(c, name)
	if err := catalogstore.Write(o.configPath, c); err != nil {
		return apierr.Wrap(err)
	}
	return nil
}

// UpsertProject validates the project path and registers it, triggering an
// immediate compose sync so its services appear in the very next snapshot
// (spec.md §6, §C project path validation).
func (o *Orchestrator) UpsertProject(p catalog.Project) error {
	if err := p.Validate(); err != nil {
		return apierr.Validation("%s", err.Error())
	}

	o.writeMu.Lock()
	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		o.writeMu.Unlock()
		return apierr.Wrap(err)
	}
	c = catalogstore.UpsertProject(c, p)
	err = catalogstore.Write(o.configPath, c)
	o.writeMu.Unlock()
	if err != nil {
		return apierr.Wrap(err)
	}

	o.compose.Sync(c.RegisteredProjects)
	return nil
}

// RemoveProject unregisters a project and stops watching its compose file.
func (o *Orchestrator) RemoveProject(name string) error {
	o.writeMu.Lock()
	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		o.writeMu.Unlock()
		return apierr.Wrap(err)
	}

	found := false
	for _, p := range c.RegisteredProjects {
		if p.Name == name {
			found = true
			break
		}
	}
	if !found {
		o.writeMu.Unlock()
		return apierr.NotFound("project %q not found", name)
	}

	c = catalogstore.RemoveProject(c, name)
	err = catalogstore.Write(o.configPath, c)
	o.writeMu.Unlock()
	if err != nil {
		return apierr.Wrap(err)
	}

	o.compose.Sync(c.RegisteredProjects)
	return nil
}

// ListProjects returns every registered project.
func (o *Orchestrator) ListProjects() ([]catalog.Project, error) {
	c, err := catalogstore.Read(o.configPath)
	if err != nil {
		return nil, apierr.Wrap(err)
	}
	return c.RegisteredProjects, nil
}
