package catalog

import (
	"fmt"
	"regexp"
	"time"
)

// NamePattern is the character set shared by service names and project
// names (spec.md §3, §6): alphanumerics plus '.', '_', '-', minimum length 1.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidName reports whether name satisfies the shared name-charset
// constraint.
func ValidName(name string) bool {
	return len(name) > 0 && NamePattern.MatchString(name)
}

// PortMode selects how a service's port is resolved at start time.
type PortMode string

const (
	// PortModeStatic uses the declared Port verbatim.
	PortModeStatic PortMode = "static"
	// PortModeDetect scrapes the port from the service's own stdout.
	PortModeDetect PortMode = "detect"
	// PortModeRegistry assigns and persists a port via the shared registry.
	PortModeRegistry PortMode = "registry"
)

// Valid reports whether m is one of the three recognized port modes or
// unset (the empty string, which means static).
func (m PortMode) Valid() bool {
	switch m {
	case PortModeStatic, PortModeDetect, PortModeRegistry, "":
		return true
	default:
		return false
	}
}

// Source tags where a Service definition came from.
type Source string

const (
	SourceConfig  Source = "config"
	SourceCompose Source = "compose"
)

// Service is a single managed long-running process (spec.md §3).
type Service struct {
	Name          string            `json:"name"`
	Cwd           string            `json:"cwd"`
	Command       string            `json:"command"`
	Env           map[string]string `json:"env,omitempty"`
	Port          *int              `json:"port,omitempty"`
	PortMode      PortMode          `json:"portMode,omitempty"`
	DependsOn     []string          `json:"dependsOn,omitempty"`
	LastStartedAt *time.Time        `json:"lastStartedAt,omitempty"`

	Source      Source `json:"-"`
	ProjectName string `json:"-"`
	Monorepo    bool   `json:"-"`
	ComposeFile string `json:"-"`

	// Raw is the untouched source definition, kept for read-only display at
	// GET /services/:name/config (spec.md §6, Design Notes).
	Raw interface{} `json:"-"`
}

// EffectivePortMode returns the service's port mode, defaulting to static.
func (s Service) EffectivePortMode() PortMode {
	if s.PortMode == "" {
		return PortModeStatic
	}
	return s.PortMode
}

// Validate checks the invariants that apply to a single service in
// isolation (name charset, port range, dependsOn shape). Cross-service
// invariants (uniqueness, missing targets, cycles) are the Dependency
// Graph's job.
func (s Service) Validate() error {
	if !ValidName(s.Name) {
		return fmt.Errorf("invalid service name %q: must match %s", s.Name, NamePattern.String())
	}
	if s.Cwd == "" {
		return fmt.Errorf("service %q: cwd is required", s.Name)
	}
	if s.Command == "" {
		return fmt.Errorf("service %q: command is required", s.Name)
	}
	if s.Port != nil && (*s.Port < 1 || *s.Port > 65535) {
		return fmt.Errorf("service %q: port %d out of range 1-65535", s.Name, *s.Port)
	}
	if !s.EffectivePortMode().Valid() {
		return fmt.Errorf("service %q: invalid portMode %q", s.Name, s.PortMode)
	}
	seen := make(map[string]bool, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		if dep == s.Name {
			return fmt.Errorf("service %q: depends on itself", s.Name)
		}
		if seen[dep] {
			return fmt.Errorf("service %q: duplicate dependency %q", s.Name, dep)
		}
		seen[dep] = true
	}
	return nil
}

// Project is a registered repository whose devservers-compose.yml (if any)
// contributes compose-sourced services (spec.md §3).
type Project struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Monorepo bool   `json:"monorepo,omitempty"`
}

// Validate checks Project-level invariants.
func (p Project) Validate() error {
	if !ValidName(p.Name) {
		return fmt.Errorf("invalid project name %q: must match %s", p.Name, NamePattern.String())
	}
	if p.Path == "" {
		return fmt.Errorf("project %q: path is required", p.Name)
	}
	return nil
}

// Catalog is the hand-authored portion of the service catalog: the
// config-sourced services plus the registered projects. It is the shape
// persisted by the Catalog Store (spec.md §4.1, §6).
type Catalog struct {
	Version            int       `json:"version"`
	Services           []Service `json:"services"`
	RegisteredProjects []Project `json:"registeredProjects,omitempty"`
}

// Status is the observed (non-persisted) runtime status of a service
// (spec.md §3).
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusError   Status = "error"
)
